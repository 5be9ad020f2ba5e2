package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Metrics provides Prometheus metrics for the import pipeline.
type Metrics struct {
	config MetricsConfig

	resourcesProcessed *prometheus.CounterVec
	stageDuration      *prometheus.HistogramVec

	taskApplications *prometheus.CounterVec
	tasksSkipped     *prometheus.CounterVec

	audits            *prometheus.CounterVec
	nonConforming     *prometheus.CounterVec
	sideChannelWrites *prometheus.CounterVec
	filterFailures    *prometheus.CounterVec

	errorsByClass *prometheus.CounterVec

	openBatches prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// No-op metrics instance.
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		resourcesProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resources_processed_total",
				Help:      "Total number of resources driven through a pipeline stage",
			},
			[]string{"stage"},
		),
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Duration of one resource's pipeline stage in seconds",
				Buckets:   buckets,
			},
			[]string{"stage"},
		),
		taskApplications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "task_applications_total",
				Help:      "Total number of task applications by outcome",
			},
			[]string{"stage", "task_type", "status"},
		),
		tasksSkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tasks_skipped_total",
				Help:      "Total number of task applications skipped",
			},
			[]string{"task_type", "reason"},
		),
		audits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "audits_total",
				Help:      "Total number of resource audits",
			},
			[]string{"importer_type", "conforms"},
		),
		nonConforming: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "non_conforming_results_total",
				Help:      "Total number of non-conforming top-level results",
			},
			[]string{"kind"},
		),
		sideChannelWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "side_channel_flushes_total",
				Help:      "Total number of side channel flushes by outcome",
			},
			[]string{"outcome"},
		),
		filterFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "filter_parse_failures_total",
				Help:      "Total number of filters that failed closed on an unusable pattern",
			},
			[]string{"target", "condition"},
		),
		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of recovered errors by error class",
			},
			[]string{"class"},
		),
		openBatches: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "open_batches",
				Help:      "Current number of open edit batches",
			},
		),
	}

	registry.MustRegister(
		m.resourcesProcessed,
		m.stageDuration,
		m.taskApplications,
		m.tasksSkipped,
		m.audits,
		m.nonConforming,
		m.sideChannelWrites,
		m.filterFailures,
		m.errorsByClass,
		m.openBatches,
	)

	return m, nil
}

// Pipeline Metrics

// RecordStage records one resource passing through a stage.
func (m *Metrics) RecordStage(stage string, duration time.Duration) {
	if m == nil || m.resourcesProcessed == nil {
		return
	}
	m.resourcesProcessed.WithLabelValues(stage).Inc()
	m.stageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordTaskApplication records a task application outcome
// ("applied", "failed" or "stamped").
func (m *Metrics) RecordTaskApplication(stage, taskType, status string) {
	if m == nil || m.taskApplications == nil {
		return
	}
	m.taskApplications.WithLabelValues(stage, taskType, status).Inc()
}

// RecordTaskSkipped records a task that was resolved but not applied.
func (m *Metrics) RecordTaskSkipped(taskType, reason string) {
	if m == nil || m.tasksSkipped == nil {
		return
	}
	m.tasksSkipped.WithLabelValues(taskType, reason).Inc()
}

// Audit Metrics

// RecordAudit records one resource audit.
func (m *Metrics) RecordAudit(importerType string, conforms bool) {
	if m == nil || m.audits == nil {
		return
	}
	label := "false"
	if conforms {
		label = "true"
	}
	m.audits.WithLabelValues(importerType, label).Inc()
}

// RecordNonConforming records a non-conforming top-level result of the given kind.
func (m *Metrics) RecordNonConforming(kind string) {
	if m == nil || m.nonConforming == nil {
		return
	}
	m.nonConforming.WithLabelValues(kind).Inc()
}

// RecordSideChannelFlush records a flush outcome ("written", "unchanged" or "failed").
func (m *Metrics) RecordSideChannelFlush(outcome string) {
	if m == nil || m.sideChannelWrites == nil {
		return
	}
	m.sideChannelWrites.WithLabelValues(outcome).Inc()
}

// RecordFilterFailure records a filter that failed closed.
func (m *Metrics) RecordFilterFailure(target, condition string) {
	if m == nil || m.filterFailures == nil {
		return
	}
	m.filterFailures.WithLabelValues(target, condition).Inc()
}

// RecordError records a recovered error by class.
func (m *Metrics) RecordError(errorClass string) {
	if m == nil || m.errorsByClass == nil {
		return
	}
	if errorClass == "" {
		errorClass = "unclassified"
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
}

// BatchOpened increments the open batch gauge.
func (m *Metrics) BatchOpened() {
	if m == nil || m.openBatches == nil {
		return
	}
	m.openBatches.Inc()
}

// BatchClosed decrements the open batch gauge.
func (m *Metrics) BatchClosed() {
	if m == nil || m.openBatches == nil {
		return
	}
	m.openBatches.Dec()
}

// Registry returns the underlying registry, or nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics when a listen
// address is configured.
func (m *Metrics) StartMetricsServer() error {
	if m == nil || !m.config.Enabled || m.config.ListenAddress == "" {
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Str("address", m.config.ListenAddress).Msg("metrics server stopped")
		}
	}()

	return nil
}
