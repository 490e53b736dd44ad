// Package logging builds the process-wide slog logger. Foreground commands get
// a tinted console handler; the daemon writes JSON lines to the rotated
// activity log. Both can be active at once through MultiHandler.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"gopkg.in/natefinch/lumberjack.v2"
)

const TimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Config controls where and how the activity log is written.
type Config struct {
	Level      string `json:"level" mapstructure:"level"`
	File       string `json:"file" mapstructure:"file"`
	MaxSizeMB  int    `json:"maxSizeMb" mapstructure:"max_size_mb"`
	MaxBackups int    `json:"maxBackups" mapstructure:"max_backups"`
	MaxAgeDays int    `json:"maxAgeDays" mapstructure:"max_age_days"`
	Compress   bool   `json:"compress" mapstructure:"compress"`
}

// ParseLevel maps a config string to a slog level. Unknown values fall back
// to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

// ConsoleHandler returns a tinted handler for interactive output. Colors are
// disabled when w is not a terminal.
func ConsoleHandler(w *os.File, level slog.Level) slog.Handler {
	return tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: TimeFormat,
		NoColor:    !isatty.IsTerminal(w.Fd()),
	})
}

// FileHandler returns a JSON handler appending to the rotated activity log.
// The caller owns the returned closer.
func FileHandler(cfg Config, level slog.Level) (slog.Handler, io.Closer) {
	sink := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
	return slog.NewJSONHandler(sink, &slog.HandlerOptions{Level: level}), sink
}

// Setup installs the default logger. console selects whether a terminal
// handler is attached alongside the activity log; the detached daemon runs
// with console=false. The returned func closes the file sink.
func Setup(cfg Config, console bool) (func() error, error) {
	level := ParseLevel(cfg.Level)
	handlers := make([]slog.Handler, 0, 2)

	if console {
		handlers = append(handlers, ConsoleHandler(os.Stdout, level))
	}

	closeSink := func() error { return nil }
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		fileHandler, sink := FileHandler(cfg, level)
		handlers = append(handlers, fileHandler)
		closeSink = sink.Close
	}

	if len(handlers) == 0 {
		handlers = append(handlers, ConsoleHandler(os.Stderr, level))
	}

	slog.SetDefault(slog.New(NewMultiHandler(handlers...)))
	return closeSink, nil
}
