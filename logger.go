package ijsonl

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with ijsonl-specific helpers.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
// Use this to disable logging entirely.
func NoopLogger() *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// WithRow adds a row field to the logger.
func (l *Logger) WithRow(row uint64) *Logger {
	return &Logger{
		Logger: l.Logger.With("row", row),
	}
}

// WithField adds a field path to the logger.
func (l *Logger) WithField(path string) *Logger {
	return &Logger{
		Logger: l.Logger.With("field", path),
	}
}

// LogAppend logs an append operation.
func (l *Logger) LogAppend(ctx context.Context, row uint64, fields int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "append failed",
			"row", row,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "append completed",
			"row", row,
			"fields", fields,
		)
	}
}

// LogRecovery logs a startup reconciliation pass.
func (l *Logger) LogRecovery(ctx context.Context, recordsReplayed int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "recovery failed",
			"records_replayed", recordsReplayed,
			"error", err,
		)
	} else if recordsReplayed > 0 {
		l.InfoContext(ctx, "recovery completed",
			"records_replayed", recordsReplayed,
		)
	}
}

// LogSnapshot logs a snapshot operation.
func (l *Logger) LogSnapshot(ctx context.Context, key string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "snapshot failed",
			"key", key,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "snapshot saved",
			"key", key,
		)
	}
}
