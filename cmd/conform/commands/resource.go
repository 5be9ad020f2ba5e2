package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/conform/pkg/engine"
	"github.com/openfroyo/conform/pkg/propertytree"
)

// seedFile is the YAML document read by "resource add".
type seedFile struct {
	Resources []seedResource `yaml:"resources" validate:"min=1,dive"`
}

type seedResource struct {
	Path         string         `yaml:"path" validate:"required"`
	ImporterType string         `yaml:"importer_type" validate:"required"`
	Size         int64          `yaml:"size" validate:"gte=0"`
	AssetBundle  string         `yaml:"asset_bundle"`
	Labels       []string       `yaml:"labels"`
	Settings     map[string]any `yaml:"settings"`
}

func newResourceCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resource",
		Short: "Manage the resources in the store",
		Long: `Seed and inspect the resources held in the SQLite store.

Resources are seeded from YAML files listing each resource's path,
importer type, metadata and import settings.`,
	}

	cmd.AddCommand(newResourceAddCommand())
	cmd.AddCommand(newResourceShowCommand())
	cmd.AddCommand(newResourceListCommand())

	return cmd
}

func newResourceAddCommand() *cobra.Command {
	var importAfter bool

	cmd := &cobra.Command{
		Use:   "add <file>...",
		Short: "Add or replace resources from seed files",
		Example: `  # Seed resources
  conform resource add textures.yaml

  # Seed and run the import pipeline on them
  conform resource add --import textures.yaml`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(cmd, func(ctx context.Context, a *app) error {
				var added []string
				for _, file := range args {
					paths, err := addSeedFile(ctx, a, file)
					if err != nil {
						return err
					}
					added = append(added, paths...)
				}
				log.Info().Int("count", len(added)).Msg("Resources stored")

				if importAfter {
					for _, p := range added {
						if err := a.orch.Import(ctx, p); err != nil {
							return err
						}
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&importAfter, "import", false, "run the import pipeline on the added resources")

	return cmd
}

func addSeedFile(ctx context.Context, a *app, file string) ([]string, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", file, err)
	}
	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", file, err)
	}
	if err := validator.New().Struct(seed); err != nil {
		return nil, engine.NewPermanentError("invalid seed file", err).
			WithCode(engine.ErrCodeValidation).
			WithResource(file)
	}

	paths := make([]string, 0, len(seed.Resources))
	for _, r := range seed.Resources {
		settings := r.Settings
		if settings == nil {
			settings = map[string]any{}
		}
		tree, err := a.schemas.Build(r.ImporterType, settings)
		if err != nil {
			return nil, engine.NewSchemaMismatchError("settings do not match importer schema", err).
				WithResource(r.Path)
		}
		res := &engine.Resource{
			Path:            r.Path,
			ImporterType:    r.ImporterType,
			Size:            r.Size,
			AssetBundleName: r.AssetBundle,
			Labels:          r.Labels,
		}
		if err := a.store.PutResource(ctx, res, tree); err != nil {
			return nil, err
		}
		paths = append(paths, r.Path)
	}
	return paths, nil
}

func newResourceShowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <path>",
		Short: "Show a resource with its settings and annotation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(cmd, func(ctx context.Context, a *app) error {
				res, err := a.store.Find(ctx, args[0])
				if err != nil {
					return err
				}
				tree, err := a.store.Settings(ctx, res.Path)
				if err != nil {
					return err
				}
				annotation, err := a.store.Annotation(ctx, res.Path)
				if err != nil {
					return err
				}

				settings := tree.Document()
				delete(settings, propertytree.AnnotationField)
				view := struct {
					engine.Resource `yaml:",inline"`
					Annotation      string         `json:"annotation" yaml:"annotation"`
					Settings        map[string]any `json:"settings" yaml:"settings"`
				}{*res, annotation, settings}

				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), view)
				}
				enc := yaml.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent(2)
				defer enc.Close()
				return enc.Encode(view)
			})
		},
	}

	return cmd
}

func newResourceListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored resources",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(cmd, func(ctx context.Context, a *app) error {
				resources, err := a.store.List(ctx)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), resources)
				}
				for _, r := range resources {
					fmt.Fprintf(cmd.OutOrStdout(), "%-50s %-20s %d\n", r.Path, r.ImporterType, r.Size)
				}
				return nil
			})
		},
	}

	return cmd
}
