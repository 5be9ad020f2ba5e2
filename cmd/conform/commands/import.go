package commands

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newImportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import [path]...",
		Short: "Run the import pipeline on resources",
		Long: `Import runs the preprocess and postprocess stages for each resource, as
the asset pipeline would after a change. Tasks run when their profile runs
on import or when they are flagged for the resource, and are skipped when
the stamped callback version is current.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(cmd, func(ctx context.Context, a *app) error {
				paths, err := a.paths(ctx, args)
				if err != nil {
					return err
				}
				for _, p := range paths {
					if err := a.orch.Import(ctx, p); err != nil {
						return err
					}
				}
				log.Info().Int("count", len(paths)).Msg("Import complete")
				return nil
			})
		},
	}

	return cmd
}
