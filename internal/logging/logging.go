// Package logging wires the process-wide slog default.
package logging

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/sandbotdev/sandbot/internal/config"
)

// Setup installs the default slog logger. With a file configured,
// output goes to a rotated JSON log and to stderr as text; without
// one, stderr only.
func Setup(cfg config.LoggingConfig) {
	level := parseLevel(cfg.Level)

	textHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})

	if cfg.File == "" {
		slog.SetDefault(slog.New(textHandler))
		return
	}

	rotated := &lumberjack.Logger{
		Filename:   config.ExpandHome(cfg.File),
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}
	jsonHandler := slog.NewJSONHandler(rotated, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(teeHandler{text: textHandler, json: jsonHandler}))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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

// teeHandler fans records out to both sinks.
type teeHandler struct {
	text slog.Handler
	json slog.Handler
}

func (h teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.text.Enabled(ctx, level) || h.json.Enabled(ctx, level)
}

func (h teeHandler) Handle(ctx context.Context, r slog.Record) error {
	var first error
	if h.text.Enabled(ctx, r.Level) {
		first = h.text.Handle(ctx, r.Clone())
	}
	if h.json.Enabled(ctx, r.Level) {
		if err := h.json.Handle(ctx, r.Clone()); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (h teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return teeHandler{text: h.text.WithAttrs(attrs), json: h.json.WithAttrs(attrs)}
}

func (h teeHandler) WithGroup(name string) slog.Handler {
	return teeHandler{text: h.text.WithGroup(name), json: h.json.WithGroup(name)}
}
