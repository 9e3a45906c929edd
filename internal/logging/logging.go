// Package logging builds the process-wide slog logger.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/conorfennell/cardify/internal/config"
)

// Setup creates a logger from cfg and installs it as the slog default.
// An unknown level falls back to info with a warning.
func Setup(cfg config.LogConfig) (*slog.Logger, error) {
	return setup(cfg, os.Stderr)
}

func setup(cfg config.LogConfig, stderr io.Writer) (*slog.Logger, error) {
	level, levelErr := ParseLevel(cfg.Level)

	var out io.Writer = stderr
	if cfg.File != "" {
		out = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
	}

	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "json":
		h = slog.NewJSONHandler(out, opts)
	case "", "text":
		h = slog.NewTextHandler(out, opts)
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	logger := slog.New(h)
	slog.SetDefault(logger)
	if levelErr != nil {
		logger.Warn("using info level", "error", levelErr)
	}
	return logger, nil
}

// ParseLevel maps debug, info, warn and error onto slog levels. Anything
// else yields info and an error.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}
