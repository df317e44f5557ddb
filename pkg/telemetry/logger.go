package telemetry

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger creates the root logger for the agent.
func NewLogger(cfg LoggingConfig) zerolog.Logger {
	var logger zerolog.Logger
	if cfg.Console {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(ParseLevel(cfg.Level)).With().Timestamp().Logger()
}

// ParseLevel converts a string log level to zerolog.Level, defaulting to
// info for unknown values.
func ParseLevel(level string) zerolog.Level {
	switch level {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
