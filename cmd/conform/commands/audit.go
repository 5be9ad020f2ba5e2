package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/conform/pkg/conform"
)

func newAuditCommand() *cobra.Command {
	var (
		showAll  bool
		noSave   bool
		failOnNC bool
	)

	cmd := &cobra.Command{
		Use:   "audit [path]...",
		Short: "Report resources whose settings diverge from their profiles",
		Long: `Audit compares each resource against the tasks of every profile that
matches it, without modifying anything. Without paths every stored resource
is audited. Results are stored as an audit run unless --no-save is given.`,
		Example: `  # Audit everything, show only divergences
  conform audit

  # Audit one resource and show every compared property
  conform audit --all Assets/Textures/hero.png

  # Fail a CI job on any divergence
  conform audit --fail`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(cmd, func(ctx context.Context, a *app) error {
				started := time.Now()
				reports, err := auditPaths(ctx, a, args)
				if err != nil {
					return err
				}

				if !noSave {
					if _, err := a.store.SaveAudit(ctx, started, reports); err != nil {
						return err
					}
				}

				total, diverging := summarize(reports)
				if jsonOutput {
					if err := printJSON(cmd.OutOrStdout(), viewReports(reports, !showAll)); err != nil {
						return err
					}
				} else {
					printReports(cmd.OutOrStdout(), reports, !showAll)
					fmt.Fprintf(cmd.OutOrStdout(), "%d resources audited, %d not conforming\n", total, diverging)
				}

				if failOnNC && diverging > 0 {
					return fmt.Errorf("%d resources do not conform", diverging)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&showAll, "all", false, "show conforming results too")
	cmd.Flags().BoolVar(&noSave, "no-save", false, "do not store the audit run")
	cmd.Flags().BoolVar(&failOnNC, "fail", false, "exit with an error when any resource diverges")

	return cmd
}

func auditPaths(ctx context.Context, a *app, paths []string) ([]*conform.Report, error) {
	if len(paths) == 0 {
		return a.orch.AuditAll(ctx)
	}
	reports := make([]*conform.Report, 0, len(paths))
	for _, p := range paths {
		report, err := a.orch.Audit(ctx, p)
		if err != nil {
			return nil, err
		}
		reports = append(reports, report)
	}
	return reports, nil
}
