// Package logging provides the module-scoped, injectable logger used by every
// component of the migration. It is a thin layer over log/slog.
//
// Components receive a Logger at construction and never reach for a global:
//
//	client := api.New(cfg, limiter, log.Module("api"))
//
// Tests substitute a Capture to assert on what was logged.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Logger is the logging interface injected into components.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)

	// Module returns a logger scoped to a named component. Nested modules
	// are joined with a dot ("migrate.roles").
	Module(name string) Logger

	// With returns a logger that adds the given key/value pairs to every entry.
	With(args ...any) Logger
}

// Options configures a slog-backed Logger.
type Options struct {
	// Level is one of debug, info, warn, error. Defaults to info.
	Level string

	// Console receives human-readable text output. Defaults to stderr.
	Console io.Writer

	// FilePath, when set, additionally writes JSON entries at debug level.
	FilePath string
}

type slogLogger struct {
	base   *slog.Logger // without the module attribute
	l      *slog.Logger
	module string
}

func newSlogLogger(l *slog.Logger) *slogLogger {
	return &slogLogger{base: l, l: l}
}

// New builds a Logger from options. The returned closer releases the log
// file, if one was opened.
func New(opts Options) (Logger, io.Closer, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, nil, err
	}

	console := opts.Console
	if console == nil {
		console = os.Stderr
	}

	handlers := []slog.Handler{
		slog.NewTextHandler(console, &slog.HandlerOptions{Level: level}),
	}

	var closer io.Closer = nopCloser{}
	if opts.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(opts.FilePath), 0755); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(opts.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		handlers = append(handlers, slog.NewJSONHandler(f, &slog.HandlerOptions{Level: slog.LevelDebug}))
		closer = f
	}

	return newSlogLogger(slog.New(newFanoutHandler(handlers...))), closer, nil
}

// NewSlog wraps an existing slog.Logger.
func NewSlog(l *slog.Logger) Logger {
	return newSlogLogger(l)
}

// Discard returns a Logger that drops everything.
func Discard() Logger {
	return newSlogLogger(slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1})))
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug", "trace":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q (expected debug, info, warn or error)", s)
	}
}

func (s *slogLogger) Debug(msg string, args ...any) { s.l.Debug(msg, args...) }
func (s *slogLogger) Info(msg string, args ...any)  { s.l.Info(msg, args...) }
func (s *slogLogger) Warn(msg string, args ...any)  { s.l.Warn(msg, args...) }
func (s *slogLogger) Error(msg string, args ...any) { s.l.Error(msg, args...) }

func (s *slogLogger) Module(name string) Logger {
	module := name
	if s.module != "" {
		module = s.module + "." + name
	}
	return &slogLogger{base: s.base, l: s.base.With("module", module), module: module}
}

func (s *slogLogger) With(args ...any) Logger {
	return &slogLogger{base: s.base.With(args...), l: s.l.With(args...), module: s.module}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
