package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/conform/pkg/engine"
	"github.com/openfroyo/conform/pkg/telemetry"
)

// DefaultFile is the configuration file looked up when none is given.
const DefaultFile = "conform.yaml"

// Config is the application configuration.
type Config struct {
	// Database configures the resource store.
	Database DatabaseConfig `yaml:"database"`

	// ProfileDirs are the roots profiles are loaded from.
	ProfileDirs []string `yaml:"profile_dirs" validate:"min=1,dive,required"`

	// CallbackDirs hold Starlark callback scripts.
	CallbackDirs []string `yaml:"callback_dirs" validate:"dive,required"`

	// PolicyDirs hold Rego admission policies for profiles.
	PolicyDirs []string `yaml:"policy_dirs" validate:"dive,required"`

	// Strict stops on the first task failure.
	Strict bool `yaml:"strict"`

	// Watch configures the profile directory watcher.
	Watch WatchConfig `yaml:"watch"`

	// Telemetry configures logging, tracing and metrics.
	Telemetry *telemetry.Config `yaml:"telemetry" validate:"required"`

	// dir is the directory of the loaded file.
	dir string
}

// DatabaseConfig configures the SQLite resource store.
type DatabaseConfig struct {
	// Path is the database file, or ":memory:".
	Path string `yaml:"path" validate:"required"`

	// MaxOpenConns limits open connections; zero keeps the store default.
	MaxOpenConns int `yaml:"max_open_conns" validate:"gte=0"`
}

// WatchConfig configures the watch command.
type WatchConfig struct {
	// Debounce is how long file events settle before a refresh.
	Debounce time.Duration `yaml:"debounce" validate:"gte=0"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Database:     DatabaseConfig{Path: filepath.Join(".conform", "resources.db")},
		ProfileDirs:  []string{"profiles"},
		CallbackDirs: []string{"scripts"},
		PolicyDirs:   []string{"policies"},
		Watch:        WatchConfig{Debounce: 500 * time.Millisecond},
		Telemetry:    telemetry.DefaultConfig(),
		dir:          ".",
	}
}

// Load reads the configuration at path over the defaults. An empty path
// loads DefaultFile, and a missing DefaultFile yields Default.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			cfg := Default()
			return cfg, cfg.Validate()
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		var ee *engine.EngineError
		if errors.As(err, &ee) {
			ee.Resource = path
		}
		return nil, err
	}
	cfg.dir = filepath.Dir(path)
	return cfg, nil
}

// Parse decodes a YAML configuration document over the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	// An empty document keeps the defaults.
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, engine.NewPermanentError("failed to parse config", err).
			WithCode(engine.ErrCodeValidation)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return engine.NewPermanentError("invalid config", err).
			WithCode(engine.ErrCodeValidation)
	}
	if err := c.Telemetry.Validate(); err != nil {
		return engine.NewPermanentError("invalid telemetry config", err).
			WithCode(engine.ErrCodeValidation)
	}
	return nil
}

// Resolve returns p relative to the configuration file's directory unless
// p is absolute.
func (c *Config) Resolve(p string) string {
	if p == "" || filepath.IsAbs(p) || p == ":memory:" {
		return p
	}
	dir := c.dir
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, p)
}

// DatabasePath is the resolved database path.
func (c *Config) DatabasePath() string {
	return c.Resolve(c.Database.Path)
}

// ResolvedProfileDirs are the resolved profile roots.
func (c *Config) ResolvedProfileDirs() []string {
	return c.resolveAll(c.ProfileDirs)
}

// ResolvedCallbackDirs are the resolved script directories.
func (c *Config) ResolvedCallbackDirs() []string {
	return c.resolveAll(c.CallbackDirs)
}

// ResolvedPolicyDirs are the resolved policy directories.
func (c *Config) ResolvedPolicyDirs() []string {
	return c.resolveAll(c.PolicyDirs)
}

func (c *Config) resolveAll(paths []string) []string {
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = c.Resolve(p)
	}
	return out
}
