package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/reforge/reforge/pkg/artifact"
	"github.com/reforge/reforge/pkg/config"
	"github.com/reforge/reforge/pkg/identity"
	"github.com/reforge/reforge/pkg/telemetry"
)

// loadConfig builds the effective configuration, honoring the global
// flags. requireBucket is false for commands that never touch the store.
func loadConfig(requireBucket bool) (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, err
	}
	if verbose {
		cfg.Telemetry.LogLevel = "debug"
	}
	if err := cfg.Validate(requireBucket); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// newTelemetry initializes the observability stack from configuration.
func newTelemetry(cfg config.Config, version string) (*telemetry.Telemetry, error) {
	tcfg := telemetry.DefaultConfig()
	tcfg.ServiceVersion = version
	tcfg.Logging.Level = cfg.Telemetry.LogLevel
	tcfg.Logging.Console = !jsonOutput
	tcfg.Metrics.ListenAddress = cfg.Telemetry.MetricsListen
	tcfg.Tracing.Enabled = cfg.Telemetry.TraceExporter != "none" && cfg.Telemetry.TraceExporter != ""
	tcfg.Tracing.Exporter = cfg.Telemetry.TraceExporter
	tcfg.Tracing.Endpoint = cfg.Telemetry.TraceEndpoint
	return telemetry.New(tcfg)
}

// newFetcher builds the artifact fetcher, or a no-op one when downloads
// are skipped.
func newFetcher(ctx context.Context, cfg config.Config, skipDownload bool, log zerolog.Logger) (artifact.Fetcher, error) {
	if skipDownload {
		return artifact.Nop{Log: log}, nil
	}
	fetcher, err := artifact.NewS3Fetcher(ctx, cfg.Artifacts.Bucket, cfg.Artifacts.Region, cfg.Artifacts.Endpoint, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize artifact store: %w", err)
	}
	return fetcher, nil
}

// newResolver builds the identity resolver against the instance metadata
// service.
func newResolver(ctx context.Context, cfg config.Config, log zerolog.Logger) (*identity.Resolver, error) {
	source, err := identity.NewAWSSource(ctx, cfg.Artifacts.Region)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize metadata source: %w", err)
	}
	return identity.NewResolver(source, log), nil
}
