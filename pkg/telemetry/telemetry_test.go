package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "default", mutate: func(*Config) {}},
		{name: "ci needs endpoint", mutate: func(c *Config) { *c = *CIConfig() }, wantErr: true},
		{name: "ci with endpoint", mutate: func(c *Config) {
			*c = *CIConfig()
			c.Tracing.Endpoint = "localhost:4317"
		}},
		{name: "bad level", mutate: func(c *Config) { c.Logging.Level = "loud" }, wantErr: true},
		{name: "bad format", mutate: func(c *Config) { c.Logging.Format = "xml" }, wantErr: true},
		{name: "bad exporter", mutate: func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.Exporter = "jaeger"
		}, wantErr: true},
		{name: "bad sampling", mutate: func(c *Config) { c.Tracing.SamplingRate = 2 }, wantErr: true},
		{name: "missing service", mutate: func(c *Config) { c.ServiceName = "" }, wantErr: true},
		{name: "relative metrics path", mutate: func(c *Config) { c.Metrics.Path = "metrics" }, wantErr: true},
		{name: "listen address", mutate: func(c *Config) { c.Metrics.ListenAddress = ":9464" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger(&buf, "debug").
		NewComponentLogger("pipeline").
		WithResource("Assets/a.png").
		WithTask("Import Settings", "pre")

	logger.Warn("something happened")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v (%q)", err, buf.String())
	}

	want := map[string]string{
		"component": "pipeline",
		"resource":  "Assets/a.png",
		"task":      "Import Settings",
		"stage":     "pre",
		"level":     "warn",
		"message":   "something happened",
	}
	for k, v := range want {
		if entry[k] != v {
			t.Errorf("field %s = %v, want %s", k, entry[k], v)
		}
	}
}

func TestLoggerLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger(&buf, "warn")
	logger.Info("hidden")
	if buf.Len() != 0 {
		t.Errorf("info written at warn level: %q", buf.String())
	}
}

func TestLoggerContextRoundTrip(t *testing.T) {
	logger := NopLogger().WithAuditRun("run-1")
	ctx := logger.WithContext(context.Background())
	if got := FromContext(ctx); got != logger {
		t.Error("FromContext did not return the stored logger")
	}
	if FromContext(context.Background()) == nil {
		t.Error("FromContext without logger returned nil")
	}
}

func TestMetricsRecording(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: true, Namespace: "test"})
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}

	m.RecordTaskApplication("pre", "preprocessor", "applied")
	m.RecordTaskApplication("pre", "preprocessor", "applied")
	m.RecordSideChannelFlush("written")
	m.RecordError("")

	if got := testutil.ToFloat64(m.taskApplications.WithLabelValues("pre", "preprocessor", "applied")); got != 2 {
		t.Errorf("task applications = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.errorsByClass.WithLabelValues("unclassified")); got != 1 {
		t.Errorf("unclassified errors = %v, want 1", got)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "test_side_channel_flushes_total") {
		t.Error("metrics endpoint does not expose side channel flushes")
	}
}

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	m.RecordAudit("TextureImporter", true)
	m.RecordFilterFailure("file_size", "greater_than")
	m.BatchOpened()
	m.BatchClosed()

	disabled, err := NewMetrics(MetricsConfig{Enabled: false})
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}
	disabled.RecordStage("preprocess", 0)
	if disabled.Registry() != nil {
		t.Error("disabled metrics should have no registry")
	}
}

func TestTelemetryContext(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Output = "stderr"
	tel, err := NewTelemetry(cfg)
	if err != nil {
		t.Fatalf("NewTelemetry() error = %v", err)
	}
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())
	if FromTelemetryContext(ctx) != tel {
		t.Error("telemetry not stored in context")
	}
	if MetricsFromContext(ctx) != tel.Metrics {
		t.Error("metrics not reachable from context")
	}
	if MetricsFromContext(context.Background()) != nil {
		t.Error("expected nil metrics without telemetry")
	}

	stageCtx, stage := StartStage(ctx, "preprocess", "Assets/a.png")
	if stage.Span() == nil {
		t.Fatal("expected a span when telemetry is present")
	}
	if FromContext(stageCtx) == tel.Logger {
		t.Error("stage context should carry a derived logger")
	}
	stage.End(errors.New("boom"))

	_, bare := StartStage(context.Background(), "audit", "Assets/a.png")
	bare.End(nil)
}
