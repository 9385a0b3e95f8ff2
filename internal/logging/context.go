package logging

import (
	"context"
)

// contextKey is a type for context keys to avoid collisions.
type contextKey int

const loggerKey contextKey = iota

// WithLoggerCtx returns a new context with the logger attached. The monitor
// attaches a per-cycle logger here so the scanner and reclaimer tag their
// entries with the cycle ID.
func WithLoggerCtx(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// FromCtx returns the logger from the context, or the global logger if none
// is attached.
func FromCtx(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerKey).(*Logger); ok {
		return l
	}
	return Global()
}
