package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/openfroyo/conform/pkg/callback"
	"github.com/openfroyo/conform/pkg/config"
	"github.com/openfroyo/conform/pkg/pipeline"
	"github.com/openfroyo/conform/pkg/policy"
	"github.com/openfroyo/conform/pkg/profile"
	"github.com/openfroyo/conform/pkg/propertytree"
	"github.com/openfroyo/conform/pkg/stores"
	"github.com/openfroyo/conform/pkg/task"
	"github.com/openfroyo/conform/pkg/telemetry"
)

// app wires the configured components for one command invocation.
type app struct {
	cfg       *config.Config
	tel       *telemetry.Telemetry
	schemas   *propertytree.Registry
	store     *stores.SQLiteStore
	callbacks *callback.Registry
	loader    *profile.Loader
	profiles  *profile.Registry
	policies  *policy.Engine
	orch      *pipeline.Orchestrator
}

// SetLogLevel sets the global zerolog level. Empty or unknown levels mean
// info.
func SetLogLevel(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

// openApp loads the configuration, opens the store and loads callbacks,
// policies and profiles. The returned context carries the telemetry.
func openApp(cmd *cobra.Command) (*app, context.Context, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}
	if strictMode {
		cfg.Strict = true
	}
	SetLogLevel(cfg.Telemetry.Logging.Level)

	tel, err := telemetry.NewTelemetry(cfg.Telemetry)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up telemetry: %w", err)
	}
	ctx := tel.WithContext(cmd.Context())
	logger := tel.Logger.NewComponentLogger("cli")

	a := &app{cfg: cfg, tel: tel, schemas: propertytree.DefaultRegistry()}

	dbPath := cfg.DatabasePath()
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	store, err := stores.NewSQLiteStore(stores.Config{
		Path:         dbPath,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		Schemas:      a.schemas,
	})
	if err != nil {
		return nil, nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	a.store = store

	a.callbacks = callback.NewRegistry(callback.NewScriptEvaluator(0), cfg.ResolvedCallbackDirs()...)
	a.loader, err = profile.NewLoader(task.NewRegistry(task.Deps{Callbacks: a.callbacks}))
	if err != nil {
		a.close(ctx)
		return nil, nil, err
	}
	a.profiles = profile.NewRegistry(a.loader, cfg.ResolvedProfileDirs()...)

	a.policies, err = policy.NewEngine(ctx, tel.Logger.Zerolog())
	if err != nil {
		a.close(ctx)
		return nil, nil, err
	}
	if err := a.policies.LoadPolicies(ctx, cfg.ResolvedPolicyDirs()); err != nil {
		a.close(ctx)
		return nil, nil, err
	}
	a.profiles.SetGate(a.policies)

	a.orch = pipeline.New(store, a.profiles, pipeline.Options{
		Strict:    cfg.Strict,
		Schemas:   a.schemas,
		Callbacks: a.callbacks,
	})
	store.SetImportHook(a.orch.Import)

	if err := a.orch.Refresh(ctx); err != nil {
		if cfg.Strict {
			a.close(ctx)
			return nil, nil, err
		}
		logger.WithError(err).Warn("some profiles or callbacks failed to load")
	}

	return a, ctx, nil
}

func (a *app) close(ctx context.Context) {
	if a.store != nil {
		_ = a.store.Close()
	}
	if a.tel != nil {
		_ = a.tel.Shutdown(ctx)
	}
}

// paths returns args, or every stored resource path when args is empty.
func (a *app) paths(ctx context.Context, args []string) ([]string, error) {
	if len(args) > 0 {
		return args, nil
	}
	resources, err := a.store.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(resources))
	for i, r := range resources {
		out[i] = r.Path
	}
	return out, nil
}

// runApp opens the app, runs fn and closes the app.
func runApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	a, ctx, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.close(ctx)
	return fn(ctx, a)
}
