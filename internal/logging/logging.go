// Package logging builds the slog logger of the command line tool. Library
// packages accept a *slog.Logger and never configure logging themselves.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config selects the level and format of a logger.
type Config struct {
	Level            string // DEBUG, INFO, WARN or ERROR
	Structured       bool
	StructuredFormat string // "json" or "text"
	ExtraFields      map[string]string

	// Output defaults to os.Stderr.
	Output io.Writer

	// SetDefault also installs the logger as slog.Default.
	SetDefault bool
}

// Configure returns a logger for cfg.
func Configure(cfg Config) *slog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}

	var handler slog.Handler
	if cfg.Structured && strings.EqualFold(cfg.StructuredFormat, "json") {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	if len(cfg.ExtraFields) > 0 {
		attrs := make([]slog.Attr, 0, len(cfg.ExtraFields))
		for k, v := range cfg.ExtraFields {
			attrs = append(attrs, slog.String(k, v))
		}
		handler = handler.WithAttrs(attrs)
	}

	logger := slog.New(handler)
	if cfg.SetDefault {
		slog.SetDefault(logger)
	}
	return logger
}

// ParseLevel maps a level name to a slog.Level; unknown names mean INFO.
func ParseLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}
