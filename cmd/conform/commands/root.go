package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
	strictMode bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "conform",
		Short: "conform - import settings auditing and import pipeline",
		Long: `conform keeps the import settings of resources in line with the profiles
that own them.

Profiles select resources by directory and filters and attach tasks:
  - importer-properties copies settings from a template resource
  - preprocessor and postprocessor run versioned script callbacks

Audits report every divergence without modifying anything; fix and import
run the tasks and record callback versions in each resource's annotation.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path (default conform.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&strictMode, "strict", false, "stop on the first task failure")

	rootCmd.AddCommand(newResourceCommand())
	rootCmd.AddCommand(newProfilesCommand())
	rootCmd.AddCommand(newCallbacksCommand())
	rootCmd.AddCommand(newAuditCommand())
	rootCmd.AddCommand(newFixCommand())
	rootCmd.AddCommand(newImportCommand())
	rootCmd.AddCommand(newFlagCommand())
	rootCmd.AddCommand(newWatchCommand())
	rootCmd.AddCommand(newHistoryCommand())

	return rootCmd
}
