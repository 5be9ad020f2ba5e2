// Package telemetry provides observability instrumentation for the conform
// import pipeline.
//
// It integrates structured logging (zerolog), distributed tracing
// (OpenTelemetry) and metrics (Prometheus) behind one Telemetry bundle.
//
// # Usage
//
//	cfg := telemetry.DefaultConfig()
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
//	ctx = tel.WithContext(ctx)
//
// # Structured Logging
//
// Core packages never hold a logger; they take the one carried by the
// context:
//
//	logger := telemetry.FromContext(ctx).WithResource(path)
//	logger.Warn("side channel record is corrupt")
//
// # Tracing
//
// The pipeline opens one span per resource stage and one per task
// application:
//
//	ctx, stage := telemetry.StartStage(ctx, "preprocess", path)
//	...
//	stage.End(err)
//
// The stage context's logger carries the resource, the stage and the
// trace id, and End records the stage duration metric.
//
// # Metrics
//
// Metrics methods are safe on a nil *Metrics, so components can record
// unconditionally:
//
//	telemetry.MetricsFromContext(ctx).RecordSideChannelFlush("written")
//
// Setting metrics.listen_address exposes the registry over HTTP.
package telemetry
