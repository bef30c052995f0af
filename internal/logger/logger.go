// Package logger provides structured logging using Go 1.21's log/slog.
// It sets up a JSON handler with service-level context so every component
// logs through the same pipeline.
package logger

import (
	"log/slog"
	"os"
	"strings"
)

// Init creates and returns a structured logger for the given service.
// The logger outputs JSON to stdout with the service name embedded and is
// installed as the slog default.
func Init(service string, level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})

	logger := slog.New(handler).With(
		slog.String("service", service),
	)

	slog.SetDefault(logger)

	return logger
}

// ParseLevel maps a LOG_LEVEL string to a slog.Level, defaulting to Info.
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
