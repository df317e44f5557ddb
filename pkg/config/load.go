package config

import (
	"fmt"
	"os"

	"cuelang.org/go/cue/cuecontext"
)

// Environment variables recognized as overrides.
const (
	EnvBucket   = "REFORGE_BUCKET"
	EnvRegion   = "REFORGE_REGION"
	EnvLogLevel = "REFORGE_LOG_LEVEL"
)

// Load builds the effective configuration: defaults, then the CUE file at
// path (if any), then environment overrides. An empty path with no file
// present yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

// applyFile merges a CUE configuration file over cfg.
func applyFile(cfg *Config, path string) error {
	src, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	ctx := cuecontext.New()
	value := ctx.CompileBytes(src)
	if err := value.Err(); err != nil {
		return fmt.Errorf("failed to compile config file %s: %w", path, err)
	}
	if err := value.Validate(); err != nil {
		return fmt.Errorf("invalid config file %s: %w", path, err)
	}
	if err := value.Decode(cfg); err != nil {
		return fmt.Errorf("failed to decode config file %s: %w", path, err)
	}
	return nil
}

// applyEnv applies environment variable overrides.
func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvBucket); v != "" {
		cfg.Artifacts.Bucket = v
	}
	if v := os.Getenv(EnvRegion); v != "" {
		cfg.Artifacts.Region = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Telemetry.LogLevel = v
	}
}
