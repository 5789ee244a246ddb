// Package logging builds the process logger.
//
// Stdout carries the protocol, so logs go to stderr or, when a file is
// configured, to a size-rotated file.
package logging

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// ErrInvalidLevel is returned for an unrecognised level name.
var ErrInvalidLevel = errors.New("invalid log level")

// Default rotation settings.
const (
	DefaultMaxSizeMB  = 10
	DefaultMaxBackups = 3
	DefaultMaxAgeDays = 28
)

// Config configures the process logger.
type Config struct {
	// Level is one of debug, info, warn or error. Empty means info.
	Level string
	// File is the log file path. Empty means stderr.
	File string
	// MaxSizeMB is the size at which the file rotates.
	MaxSizeMB int
	// MaxBackups is the number of rotated files kept.
	MaxBackups int
	// Stderr overrides the fallback writer, for tests.
	Stderr io.Writer
}

// Logger is a slog.Logger that owns its output.
type Logger struct {
	*slog.Logger
	closer io.Closer
}

// Close flushes and closes the log file, if any.
func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

// New builds a JSON logger from cfg.
func New(cfg Config) (*Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	var (
		out    io.Writer
		closer io.Closer
	)
	switch {
	case cfg.File != "":
		lj := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    orDefault(cfg.MaxSizeMB, DefaultMaxSizeMB),
			MaxBackups: orDefault(cfg.MaxBackups, DefaultMaxBackups),
			MaxAge:     DefaultMaxAgeDays,
		}
		out, closer = lj, lj
	case cfg.Stderr != nil:
		out = cfg.Stderr
	default:
		out = os.Stderr
	}

	handler := slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})
	return &Logger{Logger: slog.New(handler), closer: closer}, nil
}

// ParseLevel converts a level name to a slog.Level.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidLevel, name)
	}
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
