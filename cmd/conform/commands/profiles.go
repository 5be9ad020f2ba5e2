package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/conform/pkg/policy"
	"github.com/openfroyo/conform/pkg/profile"
)

func newProfilesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profiles",
		Short: "Inspect and validate profiles",
	}

	cmd.AddCommand(newProfilesListCommand())
	cmd.AddCommand(newProfilesValidateCommand())

	return cmd
}

type profileView struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Dir         string   `json:"dir"`
	Path        string   `json:"path,omitempty"`
	RunOnImport bool     `json:"run_on_import"`
	SortIndex   int      `json:"sort_index"`
	Tasks       []string `json:"tasks"`
}

func viewProfile(p *profile.Profile) profileView {
	v := profileView{
		ID:          p.ID,
		Name:        p.Name,
		Dir:         p.Dir,
		Path:        p.Path,
		RunOnImport: p.RunOnImport,
		SortIndex:   p.SortIndex,
		Tasks:       []string{},
	}
	for _, t := range p.Tasks() {
		v.Tasks = append(v.Tasks, fmt.Sprintf("%s (%s)", t.Name(), t.TypeName()))
	}
	return v
}

func newProfilesListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List loaded profiles in execution order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(cmd, func(ctx context.Context, a *app) error {
				var views []profileView
				for _, p := range a.profiles.Profiles() {
					views = append(views, viewProfile(p))
				}
				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), views)
				}
				w := cmd.OutOrStdout()
				for _, v := range views {
					auto := "manual"
					if v.RunOnImport {
						auto = "on import"
					}
					fmt.Fprintf(w, "%s  %s  %s  [%s]\n", v.ID, v.Name, v.Dir, auto)
					for _, t := range v.Tasks {
						fmt.Fprintf(w, "    - %s\n", t)
					}
				}
				return nil
			})
		},
	}

	return cmd
}

func newProfilesValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [dir]...",
		Short: "Load profiles and check them against the policies",
		Long: `Load every profile below the given directories, or the configured
profile directories, and evaluate them against the built-in and configured
policies. Exits with an error when a profile fails to load or is rejected.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(cmd, func(ctx context.Context, a *app) error {
				dirs := args
				if len(dirs) == 0 {
					dirs = a.cfg.ResolvedProfileDirs()
				}

				w := cmd.OutOrStdout()
				rejected := 0
				var results []*policy.Result
				for _, dir := range dirs {
					profiles, err := a.loader.LoadDir(ctx, dir)
					if err != nil {
						return err
					}
					for _, p := range profiles {
						result, err := a.policies.Evaluate(ctx, p, "validate")
						if err != nil {
							return err
						}
						results = append(results, result)
						if !result.Allowed {
							rejected++
						}
						if jsonOutput {
							continue
						}
						fmt.Fprintf(w, "[%s] %s (%s)\n", mark(result.Allowed), p.Name, p.Path)
						for _, v := range result.Violations {
							fmt.Fprintf(w, "    %s %s: %s\n", v.Severity, v.Policy, v.Message)
						}
						for _, warning := range result.Warnings {
							fmt.Fprintf(w, "    warning: %s\n", warning)
						}
					}
				}

				if jsonOutput {
					if err := printJSON(w, results); err != nil {
						return err
					}
				}
				if rejected > 0 {
					return fmt.Errorf("%d profiles rejected by policy", rejected)
				}
				return nil
			})
		},
	}

	return cmd
}
