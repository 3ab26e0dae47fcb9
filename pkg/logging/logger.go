// Package logging configures zerolog for the enricher and hands out
// component-scoped loggers.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
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

// Setup configures the global zerolog logger.
func Setup(cfg Config) zerolog.Logger {
	// Set global log level
	level := parseLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)

	// Configure output
	var output io.Writer = cfg.Output
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: cfg.Output}
	}

	// Create logger with timestamp
	logger := zerolog.New(output).With().Timestamp().Logger()

	// Set as global logger
	log.Logger = logger

	return logger
}

// parseLevel converts LogLevel to zerolog.Level.
func parseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(string(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Component names used as the "component" field.
const (
	ComponentPool         = "credential-pool"
	ComponentClient       = "companies-house"
	ComponentOrchestrator = "orchestrator"
	ComponentStore        = "store"
	ComponentProgress     = "progress"
	ComponentCLI          = "enricher"
)

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// WithJob returns a child logger carrying the job id.
func WithJob(logger zerolog.Logger, jobID string) zerolog.Logger {
	return logger.With().Str("job_id", jobID).Logger()
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Credential selection and per-call flow
//   - Cache hits and misses
//   - Pagination cursor movement
//
// Info: Normal operation events
//   - Run start/finish with final stats
//   - Page and batch completion
//   - Cooldown start and pool resets
//
// Warn: Conditions that don't stop the run
//   - Search returned no match (not found)
//   - Rate limited responses, retry queue activity
//   - Progress sink or cache errors (best effort)
//
// Error: Conditions requiring attention
//   - Forbidden responses (credential cooldown)
//   - Transient lookup failures written to the ledger
//   - Store errors that abort the run
//
// Context Fields:
//   - job_id: enrichment job identifier
//   - record_id: record being enriched
//   - credential: pool label (key-N), never the key itself
//   - op: lookup operation (search, profile)
//   - status_code: HTTP status code
//   - error_kind: rate_limited, forbidden, not_found, transient
//   - attempts: retry attempts for a record
