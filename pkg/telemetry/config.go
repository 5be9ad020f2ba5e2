package telemetry

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the telemetry section of conform.yaml.
type Config struct {
	ServiceName    string `yaml:"service_name" validate:"required"`
	ServiceVersion string `yaml:"service_version" validate:"required"`
	// Environment is attached to every span, e.g. "development" or "ci".
	Environment string `yaml:"environment"`

	Logging LoggingConfig `yaml:"logging"`
	Tracing TracingConfig `yaml:"tracing"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// LoggingConfig configures the zerolog output.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=trace debug info warn error fatal"`
	Format string `yaml:"format" validate:"oneof=console json"`
	// Output is stderr, stdout or a file path opened for appending.
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
	TimeFormat   string `yaml:"time_format" validate:"omitempty,oneof=unix unixms rfc3339"`
}

// TracingConfig configures span export. Spans are only exported when
// Enabled is set; otherwise they stay in process.
type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter" validate:"oneof=otlp stdout none"`
	// Endpoint is the OTLP gRPC collector address, e.g. "localhost:4317".
	Endpoint           string            `yaml:"endpoint" validate:"required_if=Enabled true Exporter otlp"`
	SamplingRate       float64           `yaml:"sampling_rate" validate:"gte=0,lte=1"`
	MaxExportBatchSize int               `yaml:"max_export_batch_size" validate:"gte=0"`
	ExportTimeout      time.Duration     `yaml:"export_timeout"`
	Headers            map[string]string `yaml:"headers"`
	Insecure           bool              `yaml:"insecure"`
}

// MetricsConfig configures the Prometheus registry.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	// ListenAddress serves Path over HTTP during watch. Empty keeps
	// metrics in process.
	ListenAddress string `yaml:"listen_address" validate:"omitempty,hostname_port"`
	Path          string `yaml:"path" validate:"omitempty,startswith=/"`
	Namespace     string `yaml:"namespace"`
	// DefaultHistogramBuckets are the stage duration buckets in seconds.
	DefaultHistogramBuckets []float64 `yaml:"histogram_buckets"`
}

var validate = validator.New()

// DefaultConfig returns console logging at info level, no span export and
// in-process metrics.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "conform",
		ServiceVersion: "dev",
		Environment:    "development",
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			Output:     "stderr",
			TimeFormat: "rfc3339",
		},
		Tracing: TracingConfig{
			Exporter:           "none",
			SamplingRate:       1,
			MaxExportBatchSize: 512,
			ExportTimeout:      30 * time.Second,
			Insecure:           true,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Path:      "/metrics",
			Namespace: "conform",
			// Stage durations range from sub-millisecond diffs to multi-second
			// callback scripts.
			DefaultHistogramBuckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
	}
}

// CIConfig returns the defaults for unattended runs: JSON logs with unix
// timestamps and sampled OTLP tracing. The collector endpoint must still
// be set.
func CIConfig() *Config {
	cfg := DefaultConfig()
	cfg.Environment = "ci"
	cfg.Logging.Format = "json"
	cfg.Logging.TimeFormat = "unix"
	cfg.Tracing.Enabled = true
	cfg.Tracing.Exporter = "otlp"
	cfg.Tracing.SamplingRate = 0.1
	return cfg
}

// Validate checks the configuration against its field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid telemetry config: %w", err)
	}
	return nil
}
