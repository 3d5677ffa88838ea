package logging

import (
	"io"
	"log/slog"
)

// New builds a slog.Logger writing to w. Unknown levels fall back to info;
// format is "text" or "json".
func New(level, format string, w io.Writer) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var h slog.Handler
	if format == "json" {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h)
}

// Discard returns a logger that drops everything. Used by tests and as the
// engine default when no logger is supplied.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
