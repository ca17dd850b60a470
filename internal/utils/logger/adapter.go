package logger

import (
	"io"
	"log/slog"
)

// Logger is the logging surface every roverlive component depends on
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, err error, args ...any)
}

// Adapter wraps slog.Logger to match the Logger interface
type Adapter struct {
	*slog.Logger
}

// NewAdapter creates a new logger adapter
func NewAdapter(logger *slog.Logger) *Adapter {
	return &Adapter{Logger: logger}
}

// Nop returns a Logger that discards everything
func Nop() *Adapter {
	return NewAdapter(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// Debug logs a debug message
func (a *Adapter) Debug(msg string, args ...any) {
	a.Logger.Debug(msg, args...)
}

// Info logs an info message
func (a *Adapter) Info(msg string, args ...any) {
	a.Logger.Info(msg, args...)
}

// Warn logs a warning message
func (a *Adapter) Warn(msg string, args ...any) {
	a.Logger.Warn(msg, args...)
}

// Error logs an error message. A nil err is omitted.
func (a *Adapter) Error(msg string, err error, args ...any) {
	if err != nil {
		args = append([]any{"error", err}, args...)
	}
	a.Logger.Error(msg, args...)
}

// Component returns an adapter tagging every record with component=name
func (a *Adapter) Component(name string) *Adapter {
	return &Adapter{Logger: a.Logger.With(slog.String("component", name))}
}
