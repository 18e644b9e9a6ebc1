package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/idbridge/idbridge/internal/cli"
	"github.com/idbridge/idbridge/internal/server"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "idbridge",
		Short: "Federated identity to local account bridge",
		Long: `IdBridge turns authentication assertions from external identity providers
(SAML, OIDC) into local accounts: it resolves or creates the account,
synchronizes profile fields and applies attribute-based group rules,
with every decision audited.`,
		Version: fmt.Sprintf("%s (built %s, commit %s)", Version, BuildTime, GitCommit),
	}

	// Server command
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		Long:  "Start the IdBridge API server that handles identity provider callbacks and reconciliation",
		RunE:  server.RunServer,
	}
	serveCmd.Flags().String("config", "config.yaml", "Path to configuration file")

	// Version command
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("IdBridge %s\n", Version)
			fmt.Printf("Build Time: %s\n", BuildTime)
			fmt.Printf("Git Commit: %s\n", GitCommit)
		},
	}

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(cli.NewCheckCmd())
	rootCmd.AddCommand(cli.NewPolicyCmd())
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
