// Package applog provides the structured logging wrapper shared by every
// component of the orchestrator. It adapts the teacher's daemon logger
// (log/slog with component tagging) to the wider set of callers in this
// module.
package applog

import (
	"io"
	"log/slog"
	"os"
)

// Level mirrors the daemon's LogLevel type.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Logger wraps slog.Logger with component context, the same shape the
// teacher's pkg/daemon.Logger uses.
type Logger struct {
	*slog.Logger
	component string
}

// New creates a structured JSON logger writing to w at the given level.
func New(w io.Writer, component string, level Level) *Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: toSlogLevel(level)})
	return &Logger{Logger: slog.New(handler), component: component}
}

// Default creates a logger writing to stderr at info level.
func Default(component string) *Logger {
	return New(os.Stderr, component, LevelInfo)
}

func toSlogLevel(l Level) slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithComponent returns a logger scoped to a child component name.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{Logger: l.Logger.With("component", component), component: component}
}

// WithTask returns a logger scoped to a specific task id.
func (l *Logger) WithTask(taskID string) *Logger {
	return &Logger{Logger: l.Logger.With("task_id", taskID), component: l.component}
}

// WithRun returns a logger scoped to a specific run id.
func (l *Logger) WithRun(runID string) *Logger {
	return &Logger{Logger: l.Logger.With("run_id", runID), component: l.component}
}

func (l *Logger) Debug(msg string, args ...any) {
	l.Logger.Debug(msg, append([]any{"component", l.component}, args...)...)
}

func (l *Logger) Info(msg string, args ...any) {
	l.Logger.Info(msg, append([]any{"component", l.component}, args...)...)
}

func (l *Logger) Warn(msg string, args ...any) {
	l.Logger.Warn(msg, append([]any{"component", l.component}, args...)...)
}

func (l *Logger) Error(msg string, args ...any) {
	l.Logger.Error(msg, append([]any{"component", l.component}, args...)...)
}
