// Package logging provides structured logging for the orchestrator kernel.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"
)

type ctxKey string

const (
	TaskIDKey ctxKey = "task_id"
	RunIDKey  ctxKey = "run_id"
	StepKey   ctxKey = "step"
)

// Logger wraps slog.Logger with component tagging and context-attribute helpers.
type Logger struct {
	*slog.Logger
	component string
}

// Config controls handler construction.
type Config struct {
	Level     string `yaml:"level" json:"level"`
	Format    string `yaml:"format" json:"format"` // json or text
	Output    string `yaml:"output" json:"output"` // stdout, stderr, or file path
	Component string `yaml:"component" json:"component"`
}

// New builds a Logger from Config.
func New(cfg Config) *Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var output io.Writer
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			output = os.Stdout
		} else {
			output = f
		}
	}

	opts := &slog.HandlerOptions{Level: level, AddSource: level == slog.LevelDebug}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(output, opts)
	} else {
		handler = slog.NewJSONHandler(output, opts)
	}

	return &Logger{Logger: slog.New(handler).With(slog.String("component", cfg.Component)), component: cfg.Component}
}

// Default builds a Logger from LOG_LEVEL/LOG_FORMAT environment variables.
func Default(component string) *Logger {
	return New(Config{
		Level:     os.Getenv("LOG_LEVEL"),
		Format:    os.Getenv("LOG_FORMAT"),
		Output:    "stdout",
		Component: component,
	})
}

// WithContext attaches task/run/step attributes carried on ctx, if present.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	lg := l.Logger
	if v, ok := ctx.Value(TaskIDKey).(string); ok && v != "" {
		lg = lg.With(slog.String("task_id", v))
	}
	if v, ok := ctx.Value(RunIDKey).(string); ok && v != "" {
		lg = lg.With(slog.String("run_id", v))
	}
	if v, ok := ctx.Value(StepKey).(int); ok {
		lg = lg.With(slog.Int("step", v))
	}
	return &Logger{Logger: lg, component: l.component}
}

// WithTaskID attaches a task_id attribute.
func (l *Logger) WithTaskID(id string) *Logger {
	return &Logger{Logger: l.Logger.With(slog.String("task_id", id)), component: l.component}
}

// WithRunID attaches a run_id attribute.
func (l *Logger) WithRunID(id string) *Logger {
	return &Logger{Logger: l.Logger.With(slog.String("run_id", id)), component: l.component}
}

// WithError attaches an error attribute, no-op on nil.
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return &Logger{Logger: l.Logger.With(slog.String("error", err.Error())), component: l.component}
}

// TransitionLog records a Task Engine state transition.
func (l *Logger) TransitionLog(taskID, from, to, event string) {
	l.Logger.Info("task transition",
		slog.String("task_id", taskID),
		slog.String("from", from),
		slog.String("to", to),
		slog.String("event", event),
	)
}

// HeartbeatLog records a lease heartbeat write or miss.
func (l *Logger) HeartbeatLog(taskID string, ok bool, age time.Duration, err error) {
	attrs := []any{slog.String("task_id", taskID), slog.Float64("age_ms", float64(age.Milliseconds()))}
	if err != nil {
		l.Logger.Warn("heartbeat failed", append(attrs, slog.String("error", err.Error()))...)
		return
	}
	l.Logger.Debug("heartbeat", attrs...)
}

// ToolLog records a tool invocation outcome.
func (l *Logger) ToolLog(taskID, tool string, success bool, duration time.Duration, errKind string) {
	attrs := []any{
		slog.String("task_id", taskID),
		slog.String("tool", tool),
		slog.Bool("success", success),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	}
	if errKind != "" {
		attrs = append(attrs, slog.String("error_kind", errKind))
	}
	if success {
		l.Logger.Info("tool invocation", attrs...)
	} else {
		l.Logger.Warn("tool invocation failed", attrs...)
	}
}
