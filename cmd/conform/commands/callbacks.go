package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/conform/pkg/callback"
)

func newCallbacksCommand() *cobra.Command {
	var kind string

	cmd := &cobra.Command{
		Use:   "callbacks",
		Short: "List the registered processing callbacks",
		Example: `  # List every callback
  conform callbacks

  # Only postprocessors
  conform callbacks --kind postprocessor`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(cmd, func(ctx context.Context, a *app) error {
				type view struct {
					Reference string        `json:"reference"`
					Name      string        `json:"name"`
					Kind      callback.Kind `json:"kind"`
					Version   int           `json:"version"`
				}
				var views []view
				for _, cb := range a.callbacks.List(callback.Kind(kind)) {
					views = append(views, view{
						Reference: callback.Reference(cb),
						Name:      cb.DisplayName(),
						Kind:      cb.Kind(),
						Version:   cb.Version(),
					})
				}
				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), views)
				}
				for _, v := range views {
					fmt.Fprintf(cmd.OutOrStdout(), "%-14s v%-3d %s\n", v.Kind, v.Version, v.Reference)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "", "filter by kind (preprocessor, postprocessor)")

	return cmd
}
