// Package logger is a thin action-keyed facade over zerolog. Every entry
// carries the service name, hostname and an action field so log pipelines
// can group by operation.
package logger

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

type Logger struct {
	zl zerolog.Logger
}

func New(service string) *Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zl := zerolog.New(os.Stdout).With().
		Timestamp().
		Str("service", service).
		Str("hostname", hostname()).
		Logger()
	return &Logger{zl: zl}
}

func (l *Logger) Info(action string, fields map[string]any) {
	l.zl.Info().Fields(fields).Str("action", action).Msg(action)
}

func (l *Logger) Debug(action string, fields map[string]any) {
	l.zl.Debug().Fields(fields).Str("action", action).Msg(action)
}

func (l *Logger) Warn(action string, fields map[string]any) {
	l.zl.Warn().Fields(fields).Str("action", action).Msg(action)
}

func (l *Logger) Error(action string, err error, fields map[string]any) {
	l.zl.Error().Err(err).Fields(fields).Str("action", action).Msg(action)
}

func hostname() string { h, _ := os.Hostname(); return h }
