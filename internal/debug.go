package internal

import (
	"context"
	"log/slog"
)

// LevelTrace sits below slog.LevelDebug so per-segment tracing
// (traceSnd/traceRcv/traceSeg in tcp/debug.go) can be enabled
// independently of ordinary debug logging.
const LevelTrace slog.Level = slog.LevelDebug - 2

// LogEnabled reports whether l has a handler that would emit at lvl.
// A nil logger is never enabled.
func LogEnabled(l *slog.Logger, lvl slog.Level) bool {
	return l != nil && l.Handler().Enabled(context.Background(), lvl)
}

// LogAttrs is the logging entry point every package logger funnels
// through. A nil logger silently drops the record, matching the
// nil-safe *Metrics pattern in tcp/metrics.go.
func LogAttrs(l *slog.Logger, level slog.Level, msg string, attrs ...slog.Attr) {
	if l != nil {
		l.LogAttrs(context.Background(), level, msg, attrs...)
	}
}
