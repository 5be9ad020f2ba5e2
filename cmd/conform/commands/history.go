package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newHistoryCommand() *cobra.Command {
	var (
		limit  int
		runID  string
		events bool
		path   string
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show stored audit runs and store events",
		Example: `  # Recent audit runs
  conform history

  # Rows of one run
  conform history --run 3f0c...

  # Events of one resource
  conform history --events --path Assets/Textures/hero.png`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(cmd, func(ctx context.Context, a *app) error {
				w := cmd.OutOrStdout()
				switch {
				case events:
					var p *string
					if path != "" {
						p = &path
					}
					list, err := a.store.GetEvents(ctx, p, nil, limit, 0)
					if err != nil {
						return err
					}
					if jsonOutput {
						return printJSON(w, list)
					}
					for _, e := range list {
						target := ""
						if e.Path != nil {
							target = *e.Path
						}
						fmt.Fprintf(w, "%s %-7s %s %s\n", e.Timestamp.Format(time.RFC3339), e.Level, target, e.Message)
					}
				case runID != "":
					if _, err := a.store.GetAuditRun(ctx, runID); err != nil {
						return err
					}
					rows, err := a.store.ListAuditResults(ctx, runID)
					if err != nil {
						return err
					}
					if jsonOutput {
						return printJSON(w, rows)
					}
					printAuditRows(w, rows)
				default:
					runs, err := a.store.ListAuditRuns(ctx, limit, 0)
					if err != nil {
						return err
					}
					if jsonOutput {
						return printJSON(w, runs)
					}
					for _, r := range runs {
						fmt.Fprintf(w, "%s  %s  %d resources, %d not conforming\n",
							r.ID, r.StartedAt.Format(time.RFC3339), r.Resources, r.NonConforming)
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of entries")
	cmd.Flags().StringVar(&runID, "run", "", "show the results of one audit run")
	cmd.Flags().BoolVar(&events, "events", false, "show store events instead of audit runs")
	cmd.Flags().StringVar(&path, "path", "", "only events of this resource")

	return cmd
}
