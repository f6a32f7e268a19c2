// Package log provides a structured logging interface for the SED training pipeline.
//
// The interface is slog-compatible in shape and is backed by zerolog
// (see zerolog.go). Every package receives a Logger instead of writing to a
// global, so tests can swap in a TestLogger and assert on emitted fields.
//
// Example usage:
//
//	logger := log.GetLogger().With(
//	    log.ComponentKey, "trainer",
//	    log.RunIDKey, runID,
//	)
//	logger.Info("epoch finished",
//	    log.EpochKey, 3,
//	    log.LossKey, 0.41,
//	    log.LearningRateKey, 7.4e-4,
//	)
package log

import (
	"context"
)

// Logger defines a structured logging interface compatible with Go's log/slog.
//
// Fields are passed as alternating key/value pairs. With returns a child
// logger that prepends its fields to every record.
type Logger interface {
	// Debug logs per-step diagnostics (batch composition, gradient norms).
	Debug(msg string, fields ...any)

	// Info logs run milestones: datasets built, epoch summaries, checkpoints.
	Info(msg string, fields ...any)

	// Warn logs recoverable conditions such as an ill-defined metric.
	Warn(msg string, fields ...any)

	// Error logs failures. If the first field is an error it is attached
	// together with its stack trace.
	//
	// Example:
	//   logger.Error("checkpoint load failed", err, log.CheckpointPathKey, path)
	Error(msg string, fields ...any)

	// With returns a new Logger with the given fields pre-populated.
	With(fields ...any) Logger

	// Enabled reports whether the logger emits log records at the given level.
	Enabled(ctx context.Context, level Level) bool
}

// Level represents a logging level, compatible with slog.Level.
type Level int

// Standard logging levels, values are compatible with slog.Level.
const (
	LevelDebug Level = -4
	LevelInfo  Level = 0
	LevelWarn  Level = 4
	LevelError Level = 8
)

// String returns the string representation of the log level.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts "debug", "info", "warn" or "error" into a Level.
func ParseLevel(s string) (Level, bool) {
	switch s {
	case "debug":
		return LevelDebug, true
	case "info", "":
		return LevelInfo, true
	case "warn", "warning":
		return LevelWarn, true
	case "error":
		return LevelError, true
	default:
		return LevelInfo, false
	}
}

// LoggerProvider defines an interface for creating and configuring loggers.
type LoggerProvider interface {
	// GetLogger returns the default logger instance.
	GetLogger() Logger

	// GetLoggerWithName returns a logger with a specific component identifier.
	GetLoggerWithName(name string) Logger

	// SetLevel sets the minimum log level for all loggers created by this provider.
	SetLevel(level Level)
}
