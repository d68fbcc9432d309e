// Package logging provides the five-level logger facade the protocol
// engine logs through. It wraps [log/slog] the way the teacher's
// internal/config package parses slog levels, and adds the
// namespace-extension the spec requires so a component can derive a
// child logger scoped to its own name (e.g. "subscription:<channelID>").
package logging

import (
	"context"
	"io"
	"log/slog"
)

// LevelTrace sits below slog's Debug for wire-level forensics, mirroring
// the teacher's custom trace level.
const LevelTrace = slog.Level(-8)

// Logger is a namespaced five-level (Trace, Debug, Info, Warn, Error)
// logging facade. The zero value is
// not usable; construct with [New] or [Discard]. A nil *Logger is safe
// to call — every method is a no-op — so components can hold an
// optional logger field without nil-checking before every log call.
type Logger struct {
	slog      *slog.Logger
	namespace string
}

// New wraps an existing [slog.Logger]. If base is nil, [slog.Default]
// is used.
func New(base *slog.Logger) *Logger {
	if base == nil {
		base = slog.Default()
	}
	return &Logger{slog: base}
}

// Discard returns a Logger that drops everything, useful in tests.
func Discard() *Logger {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// With returns a child logger extending the namespace with suffix,
// colon-joined — the same joining rule as [storage.JoinNamespace], so a
// component that extends its storage namespace can extend its logger
// namespace identically.
func (l *Logger) With(suffix string) *Logger {
	if l == nil {
		return nil
	}
	ns := suffix
	if l.namespace != "" && suffix != "" {
		ns = l.namespace + ":" + suffix
	} else if l.namespace != "" {
		ns = l.namespace
	}
	child := &Logger{slog: l.slog, namespace: ns}
	if ns != "" {
		child.slog = l.slog.With("component", ns)
	}
	return child
}

func (l *Logger) log(ctx context.Context, level slog.Level, msg string, args ...any) {
	if l == nil {
		return
	}
	l.slog.Log(ctx, level, msg, args...)
}

// Trace logs at [LevelTrace].
func (l *Logger) Trace(msg string, args ...any) { l.log(context.Background(), LevelTrace, msg, args...) }

// Debug logs at slog.LevelDebug.
func (l *Logger) Debug(msg string, args ...any) { l.log(context.Background(), slog.LevelDebug, msg, args...) }

// Info logs at slog.LevelInfo.
func (l *Logger) Info(msg string, args ...any) { l.log(context.Background(), slog.LevelInfo, msg, args...) }

// Warn logs at slog.LevelWarn.
func (l *Logger) Warn(msg string, args ...any) { l.log(context.Background(), slog.LevelWarn, msg, args...) }

// Error logs at slog.LevelError.
func (l *Logger) Error(msg string, args ...any) { l.log(context.Background(), slog.LevelError, msg, args...) }

// ReplaceLogLevelNames customizes the level name for Trace in log
// output, for use as a slog.HandlerOptions.ReplaceAttr.
func ReplaceLogLevelNames(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey {
		if level, ok := a.Value.Any().(slog.Level); ok && level == LevelTrace {
			a.Value = slog.StringValue("TRACE")
		}
	}
	return a
}
