package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newFixCommand() *cobra.Command {
	var taskNames []string

	cmd := &cobra.Command{
		Use:   "fix [path]...",
		Short: "Reimport non-conforming resources to apply their profiles",
		Long: `Fix audits the resources, flags every diverging task (or only the tasks
named with --task) and reimports the affected resources in one batch.
Without paths every stored resource is considered.`,
		Example: `  # Fix everything
  conform fix

  # Only reapply the texture template
  conform fix --task base Assets/Textures/hero.png`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(cmd, func(ctx context.Context, a *app) error {
				paths, err := a.paths(ctx, args)
				if err != nil {
					return err
				}
				reports, err := a.orch.Fix(ctx, paths, taskNames...)
				if err != nil {
					return err
				}

				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), viewReports(reports, false))
				}
				printReports(cmd.OutOrStdout(), reports, false)
				total, diverging := summarize(reports)
				fmt.Fprintf(cmd.OutOrStdout(), "%d resources checked, %d still not conforming\n", total, diverging)
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVar(&taskNames, "task", nil, "only fix the named tasks")

	return cmd
}
