// Package telemetry provides the agent's observability instrumentation:
// structured logging with zerolog, Prometheus metrics on a private
// registry, and optional OpenTelemetry tracing of runs, layers, and
// stages.
package telemetry

import "time"

// Config contains the telemetry configuration for the agent.
type Config struct {
	// ServiceName identifies the agent in traces and metrics.
	ServiceName string

	// ServiceVersion is the agent build version.
	ServiceVersion string

	// Environment is the resolved deployment tier, when known.
	Environment string

	// Logging configures structured logging.
	Logging LoggingConfig

	// Metrics configures the Prometheus registry.
	Metrics MetricsConfig

	// Tracing configures OpenTelemetry tracing.
	Tracing TracingConfig
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level sets the minimum log level (trace, debug, info, warn, error).
	Level string

	// Console switches from JSON to human-readable console output.
	Console bool
}

// MetricsConfig configures metrics collection.
type MetricsConfig struct {
	// Enabled controls whether metrics are collected.
	Enabled bool

	// ListenAddress optionally exposes /metrics over HTTP. A one-shot
	// bootstrap run normally leaves this empty.
	ListenAddress string
}

// TracingConfig configures tracing.
type TracingConfig struct {
	// Enabled controls whether spans are exported.
	Enabled bool

	// Exporter selects the span exporter: otlp, stdout, or none.
	Exporter string

	// Endpoint is the OTLP collector endpoint.
	Endpoint string

	// ExportTimeout bounds span export.
	ExportTimeout time.Duration
}

// DefaultConfig returns the configuration used when nothing is set: info
// logging, metrics collected but not served, tracing disabled.
func DefaultConfig() Config {
	return Config{
		ServiceName:    "reforge",
		ServiceVersion: "dev",
		Logging:        LoggingConfig{Level: "info"},
		Metrics:        MetricsConfig{Enabled: true},
		Tracing:        TracingConfig{Enabled: false, Exporter: "none", ExportTimeout: 30 * time.Second},
	}
}
