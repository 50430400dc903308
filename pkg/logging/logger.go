// Package logging provides structured logging configuration using zerolog
// for the offline cache layer and its binaries.
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
	// Level is the minimum level written. Unknown levels mean info.
	Level LogLevel

	// Pretty switches from JSON lines to zerolog's console writer.
	Pretty bool

	// Output defaults to os.Stderr.
	Output io.Writer

	// Service is attached to every line as "service" when set.
	Service string
}

// Setup configures the global zerolog logger and returns it.
func Setup(cfg Config) zerolog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out}
	}

	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	ctx := zerolog.New(out).With().Timestamp()
	if cfg.Service != "" {
		ctx = ctx.Str("service", cfg.Service)
	}
	log.Logger = ctx.Logger()
	return log.Logger
}

// parseLevel maps a configured level onto zerolog, accepting "warning"
// and any case. Levels outside debug..error fall back to info.
func parseLevel(level LogLevel) zerolog.Level {
	name := strings.ToLower(strings.TrimSpace(string(level)))
	if name == "warning" {
		name = string(LevelWarn)
	}
	parsed, err := zerolog.ParseLevel(name)
	if err != nil || parsed < zerolog.DebugLevel || parsed > zerolog.ErrorLevel {
		return zerolog.InfoLevel
	}
	return parsed
}

// NewLogger derives a logger tagged with component from the global one.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Nop returns a disabled logger.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Request classification (strategy, key)
//   - Cache hit/miss per store, evictions
//   - Queue state transitions (claim, release)
//
// Info: Normal operation events
//   - Lifecycle transitions (installing, active, superseded)
//   - Replay run summaries
//   - Connectivity changes
//   - Server startup/shutdown
//
// Warn: Warning conditions that don't prevent operation
//   - Swallowed cache failures (put, delete, eviction)
//   - Replay failures (entry stays queued)
//   - Network failures answered from cache
//
// Error: Error conditions requiring attention
//   - Install failures (static assets unavailable)
//   - Storage backend unavailable at startup
//   - Configuration errors
//
// Context Fields:
//   - component: emitting subsystem
//   - store: named cache store
//   - strategy: router strategy (static, api, image, fallback)
//   - key: cache request key
//   - tag: background sync tag
//   - write_id: queued write identifier
//   - user_id: owning user of a queued write
//   - attempts: replay attempts of a queued write
