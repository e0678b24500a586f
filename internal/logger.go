package internal

import (
	"io"
	"log/slog"

	"github.com/DukeRupert/chatquota/internal/session"
)

func NewLogger(w io.Writer, env string, level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:       logLevel,
		ReplaceAttr: redactSessionID,
	}

	var handler slog.Handler
	if env == "development" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	return slog.New(handler)
}

// redactSessionID hides raw guest session tokens. Only the correlation hash
// may appear in logs.
func redactSessionID(_ []string, a slog.Attr) slog.Attr {
	if a.Key == session.CookieName {
		return slog.String(a.Key, "[REDACTED]")
	}
	return a
}
