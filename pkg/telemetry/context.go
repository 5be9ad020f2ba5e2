package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// Telemetry bundles logging, tracing and metrics.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Config  *Config
}

type telemetryContextKey struct{}

// NewTelemetry creates a new telemetry instance from configuration.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		return nil, err
	}

	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Config:  cfg,
	}, nil
}

// WithContext adds the telemetry instance and its logger to the context.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, telemetryContextKey{}, t)
	return t.Logger.WithContext(ctx)
}

// FromTelemetryContext retrieves the telemetry instance from the context,
// or nil.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	if t, ok := ctx.Value(telemetryContextKey{}).(*Telemetry); ok {
		return t
	}
	return nil
}

// MetricsFromContext returns the metrics of the telemetry in ctx. The result
// may be nil; every Metrics method is a no-op on a nil receiver.
func MetricsFromContext(ctx context.Context) *Metrics {
	if t := FromTelemetryContext(ctx); t != nil {
		return t.Metrics
	}
	return nil
}

// Shutdown flushes and stops the tracer.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return t.Tracer.Shutdown(ctx)
}

// StartMetricsServer starts the metrics HTTP server if one is configured.
func (t *Telemetry) StartMetricsServer() error {
	return t.Metrics.StartMetricsServer()
}

// Stage instruments one resource passing through a pipeline stage.
type Stage struct {
	name    string
	span    trace.Span
	metrics *Metrics
	start   time.Time
}

// StartStage opens a stage span and returns a context whose logger carries
// the resource, the stage and the trace id. Without telemetry in ctx the
// span is a no-op.
func StartStage(ctx context.Context, stage, resourcePath string) (context.Context, *Stage) {
	s := &Stage{name: stage, metrics: MetricsFromContext(ctx), start: time.Now()}

	if tel := FromTelemetryContext(ctx); tel != nil && tel.Tracer != nil {
		ctx, s.span = tel.Tracer.StartStageSpan(ctx, stage, resourcePath)
	} else {
		s.span = trace.SpanFromContext(context.Background())
	}

	logger := FromContext(ctx).WithResource(resourcePath).WithField("stage", stage)
	if sc := s.span.SpanContext(); sc.IsValid() {
		logger = logger.WithField("trace_id", sc.TraceID().String())
	}
	return logger.WithContext(ctx), s
}

// Span returns the stage span.
func (s *Stage) Span() trace.Span {
	return s.span
}

// End records err, or success when nil, ends the span and records the stage
// duration.
func (s *Stage) End(err error) {
	if err != nil {
		RecordError(s.span, err)
	} else {
		RecordSuccess(s.span)
	}
	s.span.End()
	s.metrics.RecordStage(s.name, time.Since(s.start))
}
