package commands

import (
	"context"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/conform/pkg/callback"
	"github.com/openfroyo/conform/pkg/profile"
)

func newWatchCommand() *cobra.Command {
	var reimport bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Reload profiles and callbacks when their files change",
		Long: `Watch keeps profiles and callback scripts loaded and reloads them when
files below the configured directories change. With --import every stored
resource is reimported after each reload. Metrics are served while
watching when telemetry.metrics.listen_address is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(cmd, func(ctx context.Context, a *app) error {
				if err := a.tel.StartMetricsServer(); err != nil {
					return err
				}

				match := func(name string) bool {
					return profile.Supported(name) || filepath.Ext(name) == callback.ScriptExtension
				}
				dirs := append(a.cfg.ResolvedProfileDirs(), a.cfg.ResolvedCallbackDirs()...)
				w := profile.NewWatcher(match, dirs...).
					SetDebounce(a.cfg.Watch.Debounce).
					OnChange(a.orch.Refresh)
				if reimport {
					w.OnChange(func(ctx context.Context) error {
						paths, err := a.paths(ctx, nil)
						if err != nil {
							return err
						}
						for _, p := range paths {
							if err := a.orch.Import(ctx, p); err != nil {
								return err
							}
						}
						return nil
					})
				}

				log.Info().Strs("dirs", dirs).Msg("Watching for changes")
				return w.Run(ctx)
			})
		},
	}

	cmd.Flags().BoolVar(&reimport, "import", false, "reimport every resource after a reload")

	return cmd
}
