package memlab

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with allocator-specific context.
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
func NewJSONLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return NewLogger(slog.DiscardHandler)
}

// WithRegion adds the owning region to every record.
func (l *Logger) WithRegion(region string) *Logger {
	return &Logger{
		Logger: l.Logger.With("region", region),
	}
}

// LogChunkInstalled logs a chunk becoming the current chunk.
func (l *Logger) LogChunkInstalled(ctx context.Context, chunkID uint32, pooled bool) {
	l.DebugContext(ctx, "chunk installed",
		"chunk_id", chunkID,
		"pooled", pooled,
	)
}

// LogChunkRetired logs a full chunk being retired.
func (l *Logger) LogChunkRetired(ctx context.Context, chunkID uint32, wasted int) {
	l.DebugContext(ctx, "chunk retired",
		"chunk_id", chunkID,
		"wasted_bytes", wasted,
	)
}

// LogPoolExhausted logs a failed chunk acquisition.
func (l *Logger) LogPoolExhausted(ctx context.Context, err error) {
	l.WarnContext(ctx, "chunk pool exhausted, backing off",
		"error", err,
	)
}

// LogReclaim logs chunks being handed back to the pool.
func (l *Logger) LogReclaim(ctx context.Context, chunks int) {
	l.InfoContext(ctx, "allocator reclaimed",
		"chunks", chunks,
	)
}

// LogPersist logs a persist call.
func (l *Logger) LogPersist(ctx context.Context, seqID int64, drain bool, err error) {
	if err != nil {
		l.ErrorContext(ctx, "persist failed",
			"sequence_id", seqID,
			"drain", drain,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "persist completed",
			"sequence_id", seqID,
			"drain", drain,
		)
	}
}
