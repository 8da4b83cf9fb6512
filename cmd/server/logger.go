package main

import (
	"log/slog"
	"os"
	"strings"
)

// initLogger installs a JSON slog logger. LOG_LEVEL overrides the configured level.
func initLogger(configuredLevel string) *slog.Logger {
	raw := configuredLevel
	if env := os.Getenv("LOG_LEVEL"); env != "" {
		raw = env
	}

	level := new(slog.LevelVar)
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		level.Set(slog.LevelDebug)
	case "warn", "warning":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	default:
		level.Set(slog.LevelInfo)
	}
	l := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(l)
	return l
}
