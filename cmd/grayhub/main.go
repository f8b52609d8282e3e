// Gray Logic Hub - device update engine for home automation.
//
// grayhub runs the task scheduler, the pending-update registry, the device
// update pipeline and the history aggregator behind a set of hardware
// adapters, and offers maintenance commands for the database and the
// diagnostics journal.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	_ "github.com/nerrad567/gray-logic-hub/migrations" // embedded schema
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

var configPath string

// newRootCmd builds the command tree. Without a subcommand the hub runs.
// Commands write to the command's output so tests can capture it.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "grayhub",
		Short:         "Gray Logic Hub - device update engine",
		Long:          `grayhub drives home-automation devices through a single update pipeline: authorization, deduplication, rate limiting, hardware confirmation, persistence and publication.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.RunE = newRunCmd().RunE
	root.Args = cobra.NoArgs
	root.PersistentFlags().StringVarP(&configPath, "config", "c", getConfigPath(), "Path to config.yaml (env GRAYLOGIC_CONFIG)")

	root.AddCommand(newRunCmd())
	root.AddCommand(newMigrateCmd())
	root.AddCommand(newJournalCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "grayhub %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// getConfigPath returns the configuration file path.
// Uses GRAYLOGIC_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("GRAYLOGIC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
