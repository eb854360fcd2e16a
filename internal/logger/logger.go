// Package logger provides slog helpers for the app.
package logger

import (
	"io"
	"log/slog"
	"strings"

	"github.com/handsomefox/watchwise/internal/env"
)

// New builds the process logger: JSON in production, text locally.
func New(w io.Writer, level slog.Level, e env.Environment) *slog.Logger {
	prod := e.IsProduction()
	opts := &slog.HandlerOptions{
		AddSource: prod,
		Level:     level,
	}
	if prod {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// ParseLevel maps debug, info, warn and error; anything else is info.
func ParseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func Error(err error) slog.Attr {
	if err == nil {
		return slog.String("err", "nil")
	}
	return slog.String("err", err.Error())
}
