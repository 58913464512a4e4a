// Package debug carries the debug flag through context and configures slog.
package debug

import (
	"context"
	"io"
	"log/slog"
	"os"
)

type contextKey string

const debugKey contextKey = "support_debug"

// WithDebug returns a context with debug mode enabled/disabled.
func WithDebug(ctx context.Context, enabled bool) context.Context {
	return context.WithValue(ctx, debugKey, enabled)
}

// IsEnabled reports whether debug mode is set on ctx.
func IsEnabled(ctx context.Context) bool {
	if v, ok := ctx.Value(debugKey).(bool); ok {
		return v
	}
	return false
}

// LoggerOptions selects the handler installed by SetupLoggerWith.
type LoggerOptions struct {
	Debug bool
	JSON  bool
	Out   io.Writer
}

// SetupLogger configures slog based on debug mode.
func SetupLogger(debugEnabled bool) {
	SetupLoggerWith(LoggerOptions{Debug: debugEnabled})
}

// SetupLoggerWith installs a text or JSON handler as the default logger.
// Background sync failures log at Warn, so Warn stays the quiet floor.
func SetupLoggerWith(opts LoggerOptions) *slog.Logger {
	level := slog.LevelWarn
	if opts.Debug {
		level = slog.LevelDebug
	}
	out := opts.Out
	if out == nil {
		out = os.Stderr
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if opts.JSON {
		handler = slog.NewJSONHandler(out, handlerOpts)
	} else {
		handler = slog.NewTextHandler(out, handlerOpts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
