package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "reforge"

// Metrics collects Prometheus metrics for the provisioning pipeline.
type Metrics struct {
	config MetricsConfig

	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec

	stagesExecuted *prometheus.CounterVec
	stageDuration  *prometheus.HistogramVec

	fetches            *prometheus.CounterVec
	dependencyInstalls *prometheus.CounterVec
	layersSkipped      *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a metrics collector. When disabled, all record methods
// are no-ops.
func NewMetrics(cfg MetricsConfig) *Metrics {
	if !cfg.Enabled {
		return &Metrics{config: cfg}
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "runs_started_total",
			Help:      "Total number of provisioning runs started",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "runs_completed_total",
			Help:      "Total number of provisioning runs completed",
		}, []string{"status"}),

		stagesExecuted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "layer_stages_executed_total",
			Help:      "Total number of layer stages executed",
		}, []string{"stage", "status"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of layer stage execution in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),

		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "artifact_fetches_total",
			Help:      "Total number of artifact fetch attempts",
		}, []string{"status"}),
		dependencyInstalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "dependency_installs_total",
			Help:      "Total number of layer dependency install attempts",
		}, []string{"status"}),
		layersSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "layers_skipped_total",
			Help:      "Total number of planned layers skipped",
		}, []string{"reason"}),
	}

	registry.MustRegister(
		m.runsStarted,
		m.runsCompleted,
		m.stagesExecuted,
		m.stageDuration,
		m.fetches,
		m.dependencyInstalls,
		m.layersSkipped,
	)

	return m
}

// RecordRunStarted increments the run counter.
func (m *Metrics) RecordRunStarted() {
	if m.registry == nil {
		return
	}
	m.runsStarted.Inc()
}

// RecordRunCompleted records a finished run with its final status.
func (m *Metrics) RecordRunCompleted(status string) {
	if m.registry == nil {
		return
	}
	m.runsCompleted.WithLabelValues(status).Inc()
}

// RecordStage records one executed layer stage.
func (m *Metrics) RecordStage(stage string, exitCode int, duration time.Duration) {
	if m.registry == nil {
		return
	}
	status := "succeeded"
	if exitCode != 0 {
		status = "failed"
	}
	m.stagesExecuted.WithLabelValues(stage, status).Inc()
	m.stageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordFetch records an artifact fetch attempt.
func (m *Metrics) RecordFetch(err error) {
	if m.registry == nil {
		return
	}
	status := "succeeded"
	if err != nil {
		status = "failed"
	}
	m.fetches.WithLabelValues(status).Inc()
}

// RecordDependencyInstall records a dependency install attempt.
func (m *Metrics) RecordDependencyInstall(exitCode int) {
	if m.registry == nil {
		return
	}
	status := "succeeded"
	if exitCode != 0 {
		status = "failed"
	}
	m.dependencyInstalls.WithLabelValues(status).Inc()
}

// RecordLayerSkipped records a planned layer excluded from execution.
func (m *Metrics) RecordLayerSkipped(reason string) {
	if m.registry == nil {
		return
	}
	m.layersSkipped.WithLabelValues(reason).Inc()
}

// Handler returns the /metrics HTTP handler for the private registry.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics when a listen address is configured. It blocks,
// so callers run it in a goroutine alongside long-lived commands.
func (m *Metrics) Serve() error {
	if m.registry == nil || m.config.ListenAddress == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return http.ListenAndServe(m.config.ListenAddress, mux)
}
