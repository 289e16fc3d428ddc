// Package logging configures zerolog for the ingestion pipeline.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// Component names used for the "component" field.
const (
	ComponentAuth      = "auth"
	ComponentRateLimit = "ratelimit"
	ComponentFetcher   = "fetcher"
	ComponentScanner   = "scanner"
	ComponentAudit     = "audit"
	ComponentBronze    = "bronze"
	ComponentSilver    = "silver"
	ComponentPipeline  = "pipeline"
	ComponentScheduler = "scheduler"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger and returns it.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(ParseLevel(string(cfg.Level)))
	zerolog.TimeFieldFormat = time.RFC3339Nano

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.Kitchen}
	}

	logger := zerolog.New(output).With().Timestamp().Logger()
	log.Logger = logger

	return logger
}

// ParseLevel converts a level name to a zerolog.Level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info", "":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a child of the global logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Nop returns a disabled logger, handy for tests and optional dependencies.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}

// Log Level Guidelines:
//
// Debug: per-request flow
//   - every page request (partition, offset, limit)
//   - token cache hits
//   - limiter waits
//
// Info: run milestones
//   - partition scanned (records, pages)
//   - token refreshed
//   - snapshot written, tables replaced
//   - run summary
//
// Warn: recovered failures
//   - retries after 401/429/5xx/timeouts
//   - partition failures (skipped, run continues)
//   - audit sink errors
//
// Error: fatal conditions
//   - token grant rejected
//   - zero partitions succeeded
//   - bronze or silver sink unwritable
//
// Context Fields:
//   - run_id: identifier of the current run
//   - date: target date (YYYY-MM-DD)
//   - partition: occupation code being scanned
//   - offset, limit: fetch window
//   - status: HTTP status code
//   - records: number of records returned or accumulated
//   - total: total-count hint from Content-Range
//   - error_class: client, server, rate_limit, unauthorized, network, decode
