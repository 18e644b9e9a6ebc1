package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/idbridge/idbridge/internal/config"
)

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Manage versioned policy configuration",
	Long: `Policy inspects and manipulates the versioned configuration store.
The server keeps a history of configuration snapshots; these commands
list past versions, show their contents and roll the active
configuration back to an earlier snapshot.`,
}

var policyVersionsCmd = &cobra.Command{
	Use:   "versions",
	Short: "List stored configuration versions",
	RunE:  runPolicyVersions,
}

var policyShowCmd = &cobra.Command{
	Use:   "show <version-id>",
	Short: "Print a stored configuration version",
	Args:  cobra.ExactArgs(1),
	RunE:  runPolicyShow,
}

var policyRollbackCmd = &cobra.Command{
	Use:   "rollback <version-id>",
	Short: "Roll the active configuration back to a version",
	Args:  cobra.ExactArgs(1),
	RunE:  runPolicyRollback,
}

var policySaveCmd = &cobra.Command{
	Use:   "save",
	Short: "Snapshot the current configuration into the version store",
	RunE:  runPolicySave,
}

func init() {
	policyCmd.PersistentFlags().String("config", "config.yaml", "Path to configuration file")
	policySaveCmd.Flags().StringP("comment", "m", "", "Comment describing the snapshot")
	policyCmd.AddCommand(policyVersionsCmd)
	policyCmd.AddCommand(policyShowCmd)
	policyCmd.AddCommand(policyRollbackCmd)
	policyCmd.AddCommand(policySaveCmd)
}

// NewPolicyCmd returns the policy command
func NewPolicyCmd() *cobra.Command {
	return policyCmd
}

// openStorage loads the config file and builds its storage backend.
func openStorage(cmd *cobra.Command) (config.StorageBackend, error) {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Storage == nil {
		return nil, fmt.Errorf("no storage backend configured (set the storage section in %s)", configPath)
	}
	return config.NewStorageBackend(cfg.Storage)
}

func runPolicyVersions(cmd *cobra.Command, args []string) error {
	backend, err := openStorage(cmd)
	if err != nil {
		return err
	}

	versions, err := backend.ListVersions()
	if err != nil {
		return fmt.Errorf("failed to list versions: %w", err)
	}
	if len(versions) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no stored versions")
		return nil
	}

	out := cmd.OutOrStdout()
	for _, v := range versions {
		fmt.Fprintf(out, "%s  %s  %s\n", v.ID, v.Timestamp.Format("2006-01-02 15:04:05"), v.Comment)
	}
	return nil
}

func runPolicyShow(cmd *cobra.Command, args []string) error {
	backend, err := openStorage(cmd)
	if err != nil {
		return err
	}

	cfg, err := backend.LoadVersion(args[0])
	if err != nil {
		return fmt.Errorf("failed to load version %s: %w", args[0], err)
	}

	data, err := config.MarshalConfig(cfg)
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), string(data))
	return nil
}

func runPolicyRollback(cmd *cobra.Command, args []string) error {
	backend, err := openStorage(cmd)
	if err != nil {
		return err
	}

	if err := backend.Rollback(args[0]); err != nil {
		return fmt.Errorf("rollback failed: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "rolled back to version %s\n", args[0])
	return nil
}

func runPolicySave(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	comment, _ := cmd.Flags().GetString("comment")

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Storage == nil {
		return fmt.Errorf("no storage backend configured (set the storage section in %s)", configPath)
	}

	backend, err := config.NewStorageBackend(cfg.Storage)
	if err != nil {
		return err
	}
	if err := backend.Save(cfg, comment); err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "configuration snapshot saved")
	return nil
}
