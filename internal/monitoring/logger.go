// Package monitoring carries the observability surface of the hub: structured
// logger construction and the Prometheus metric set.
package monitoring

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// LogFormat selects the logger output encoding.
type LogFormat string

const (
	LogFormatJSON   LogFormat = "json"   // machine-readable, for log shipping
	LogFormatPretty LogFormat = "pretty" // human-readable, for local dev
)

// LoggerConfig configures NewLogger.
type LoggerConfig struct {
	Level  string // debug, info, warn, error
	Format LogFormat
}

// NewLogger builds the process-wide structured logger. Components receive
// sub-loggers via logger.With().Str("component", ...).
func NewLogger(config LoggerConfig) zerolog.Logger {
	var output io.Writer = os.Stdout

	level, err := zerolog.ParseLevel(config.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	if config.Format == LogFormatPretty {
		output = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
	}

	return zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Str("service", "realtime-hub").
		Logger()
}
