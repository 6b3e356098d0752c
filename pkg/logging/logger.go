package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// ParseLevel maps a config string onto a slog level. Empty or unknown
// strings get info, so a misconfigured engine still logs.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger builds a logger writing to w. Format "text" is meant for a
// console transcript view; anything else emits JSON lines.
func NewLogger(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	var h slog.Handler
	if strings.EqualFold(strings.TrimSpace(format), "text") {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}
	return slog.New(h)
}

// Setup installs the process-wide default logger from the engine's
// log_level and log_format settings.
func Setup(level, format string) *slog.Logger {
	log := NewLogger(os.Stdout, level, format)
	slog.SetDefault(log)
	return log
}

// NewComponentLogger tags every record with the component name so capture,
// playback and session logs can be told apart in one stream.
func NewComponentLogger(base *slog.Logger, component string) *slog.Logger {
	if base == nil {
		base = slog.Default()
	}
	return base.With(slog.String("component", component))
}
