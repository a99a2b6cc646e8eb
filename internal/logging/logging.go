// SPDX-License-Identifier: Apache-2.0

// Package logging wraps pterm's structured logger behind a small interface,
// the way pgroll's pkg/migrations.Logger wraps pterm.Logger. Every
// component of the proxy logs through this interface rather than calling
// pterm directly, so tests can swap in a no-op implementation.
package logging

import "github.com/pterm/pterm"

// Logger is the structured logging interface used throughout the proxy.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, err error, args ...any)
	Debug(msg string, args ...any)

	// With returns a logger that always attaches the given key/value pairs.
	With(args ...any) Logger
}

type pLogger struct {
	logger pterm.Logger
	extra  []any
}

// New returns a Logger backed by pterm's default logger.
func New() Logger {
	return &pLogger{logger: pterm.DefaultLogger}
}

func (l *pLogger) Info(msg string, args ...any) {
	l.logger.Info(msg, l.logger.Args(l.merge(args)...))
}

func (l *pLogger) Warn(msg string, args ...any) {
	l.logger.Warn(msg, l.logger.Args(l.merge(args)...))
}

func (l *pLogger) Debug(msg string, args ...any) {
	l.logger.Debug(msg, l.logger.Args(l.merge(args)...))
}

func (l *pLogger) Error(msg string, err error, args ...any) {
	allArgs := append([]any{"error", err}, args...)
	l.logger.Error(msg, l.logger.Args(l.merge(allArgs)...))
}

func (l *pLogger) With(args ...any) Logger {
	return &pLogger{logger: l.logger, extra: append(append([]any{}, l.extra...), args...)}
}

func (l *pLogger) merge(args []any) []any {
	if len(l.extra) == 0 {
		return args
	}
	return append(append([]any{}, l.extra...), args...)
}

// Noop is a Logger that discards everything; used in unit tests that do not
// want log output, mirroring pgroll's migrations.NewNoopLogger.
type Noop struct{}

func NewNoop() Logger { return Noop{} }

func (Noop) Info(msg string, args ...any)             {}
func (Noop) Warn(msg string, args ...any)             {}
func (Noop) Debug(msg string, args ...any)            {}
func (Noop) Error(msg string, err error, args ...any) {}
func (n Noop) With(args ...any) Logger                { return n }
