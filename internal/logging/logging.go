// Package logging builds the structured loggers used by the sphyctre tools
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"sphyctre/internal/config"
)

// ParseLevel maps a level name onto a slog level. Unknown names mean info.
func ParseLevel(s string) slog.Level {
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

// NewLogger creates a logger writing to w. It does not replace the global
// logger.
func NewLogger(level, format string, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	if strings.ToLower(format) == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// New creates the logger described by cfg. Output goes to cfg.File when
// set, otherwise to stderr. verbose forces debug level. The returned close
// function releases the log file.
func New(cfg config.LoggingConfig, verbose bool) (*slog.Logger, func() error, error) {
	level := cfg.Level
	if verbose {
		level = "debug"
	}
	if cfg.File == "" {
		return NewLogger(level, cfg.Format, os.Stderr), func() error { return nil }, nil
	}
	f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return NewLogger(level, cfg.Format, f), f.Close, nil
}
