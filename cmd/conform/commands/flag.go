package commands

import (
	"context"

	"github.com/spf13/cobra"
)

func newFlagCommand() *cobra.Command {
	var (
		taskNames  []string
		clearFlags bool
	)

	cmd := &cobra.Command{
		Use:   "flag <path>...",
		Short: "Flag resources for manual processing by profile tasks",
		Long: `Flag marks resources so that tasks of profiles not running on import
still process them. Flagged resources are reimported immediately and the
flags are saved with their profiles. --clear removes the flags.`,
		Example: `  # Flag a resource for every matching task
  conform flag Assets/Audio/click.wav

  # Remove the flag of one task
  conform flag --clear --task tag Assets/Audio/click.wav`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(cmd, func(ctx context.Context, a *app) error {
				return a.orch.Flag(ctx, args, !clearFlags, taskNames...)
			})
		},
	}

	cmd.Flags().StringSliceVar(&taskNames, "task", nil, "only flag the named tasks")
	cmd.Flags().BoolVar(&clearFlags, "clear", false, "clear the flags instead of setting them")

	return cmd
}
