package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/idbridge/idbridge/internal/config"
	"github.com/idbridge/idbridge/internal/directory"
	"github.com/idbridge/idbridge/internal/reconcile"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Reconcile an attribute bag offline",
	Long: `Check runs one reconciliation pass for an attribute bag read from a YAML
file, using the policy from the configuration file. Without --commit the
pass runs against an empty in-memory directory, showing what would happen
on a first login. With --commit it runs against the configured directory
backend and persists the result.`,
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().String("config", "config.yaml", "Path to configuration file")
	checkCmd.Flags().String("bag", "", "Path to YAML file with the attribute bag")
	checkCmd.Flags().Bool("commit", false, "Run against the configured directory and persist")
	_ = checkCmd.MarkFlagRequired("bag")
}

// NewCheckCmd returns the check command
func NewCheckCmd() *cobra.Command {
	return checkCmd
}

func runCheck(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	bagPath, _ := cmd.Flags().GetString("bag")
	commit, _ := cmd.Flags().GetBool("commit")

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	bag, err := loadBag(bagPath)
	if err != nil {
		return err
	}

	var dir directory.Directory
	if commit {
		dir, err = directory.FromConfig(cfg.Directory)
		if err != nil {
			return fmt.Errorf("failed to create directory backend: %w", err)
		}
	} else {
		dir = directory.NewMemoryDirectory()
	}

	reconciler, err := reconcile.NewReconciler(dir, cfg.Policy, logrus.StandardLogger())
	if err != nil {
		return fmt.Errorf("failed to create reconciler: %w", err)
	}

	result, err := reconciler.Reconcile(context.Background(), bag)
	if err != nil {
		return fmt.Errorf("reconciliation failed: %w", err)
	}

	printResult(cmd, result)
	if result.Outcome == reconcile.OutcomeRejected {
		os.Exit(1)
	}
	return nil
}

func loadBag(path string) (reconcile.AttributeBag, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read bag file: %w", err)
	}
	var bag reconcile.AttributeBag
	if err := yaml.Unmarshal(data, &bag); err != nil {
		return nil, fmt.Errorf("failed to parse bag file: %w", err)
	}
	return bag, nil
}

func printResult(cmd *cobra.Command, result reconcile.Result) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "outcome: %s\n", result.Outcome)
	switch result.Outcome {
	case reconcile.OutcomeAuthenticated:
		fmt.Fprintf(out, "username: %s\n", result.Account.Username)
		if result.Account.RealName != "" {
			fmt.Fprintf(out, "realname: %s\n", result.Account.RealName)
		}
		if result.Account.Email != "" {
			fmt.Fprintf(out, "email: %s (confirmed: %t)\n", result.Account.Email, result.Account.EmailConfirmed)
		}
		fmt.Fprintf(out, "groups: %v\n", result.Account.Groups)
		fmt.Fprintf(out, "created: %t, changed: %t\n", result.Created, result.Changed)
	case reconcile.OutcomeRejected:
		fmt.Fprintf(out, "reason: %s\n", result.RejectKind)
		fmt.Fprintf(out, "detail: %s\n", result.RejectReason)
	}
}
