package telemetry

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// Telemetry bundles the three instrumentation pillars.
type Telemetry struct {
	Logger  zerolog.Logger
	Metrics *Metrics
	Tracer  *Tracer
}

// New initializes telemetry from configuration.
func New(cfg Config) (*Telemetry, error) {
	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	return &Telemetry{
		Logger:  NewLogger(cfg.Logging),
		Metrics: NewMetrics(cfg.Metrics),
		Tracer:  tracer,
	}, nil
}

// Shutdown flushes pending telemetry data.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return t.Tracer.Shutdown(ctx)
}
