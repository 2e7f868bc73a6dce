// Package logging defines the structured logging interface shared by every
// component and a log/slog adapter, following the teacher's own
// documented pattern of keeping the framework logging interface agnostic
// of any particular backend.
package logging

import (
	"log/slog"
	"os"
)

// Logger is the structured logging surface used throughout the core. It is
// deliberately small so any backend (slog, zap, logrus) can satisfy it.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	Debug(msg string, args ...any)

	// With returns a logger that always includes the given key-value
	// pairs, used to attribute module IPC logs (§4.3) to their module.
	With(args ...any) Logger
}

// slogLogger adapts *slog.Logger to Logger.
type slogLogger struct {
	l *slog.Logger
}

// NewSlog returns a Logger backed by log/slog, writing JSON to stdout.
func NewSlog() Logger {
	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	return &slogLogger{l: slog.New(h)}
}

func (s *slogLogger) Info(msg string, args ...any)  { s.l.Info(msg, args...) }
func (s *slogLogger) Warn(msg string, args ...any)  { s.l.Warn(msg, args...) }
func (s *slogLogger) Error(msg string, args ...any) { s.l.Error(msg, args...) }
func (s *slogLogger) Debug(msg string, args ...any) { s.l.Debug(msg, args...) }
func (s *slogLogger) With(args ...any) Logger       { return &slogLogger{l: s.l.With(args...)} }
