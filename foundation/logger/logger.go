// Package logger provides the structured logger used by the binaries.
package logger

import (
	"context"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level represents a logging level.
type Level int8

// Set of logging levels.
const (
	LevelDebug Level = Level(zapcore.DebugLevel)
	LevelInfo  Level = Level(zapcore.InfoLevel)
	LevelWarn  Level = Level(zapcore.WarnLevel)
	LevelError Level = Level(zapcore.ErrorLevel)
)

// ParseLevel converts a level name into a level.
func ParseLevel(name string) (Level, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(name)))); err != nil {
		return LevelInfo, fmt.Errorf("parse-level: %w", err)
	}

	return Level(lvl), nil
}

// Format represents the encoding of a log line.
type Format string

// Set of formats.
const (
	FormatConsole Format = "console"
	FormatJSON    Format = "json"
)

// Logger writes structured events tagged with the service name.
type Logger struct {
	sugar *zap.SugaredLogger
}

// New constructs a logger that writes console lines to w.
func New(w io.Writer, minLevel Level, service string) *Logger {
	return NewWithFormat(w, minLevel, service, FormatConsole)
}

// NewWithFormat constructs a logger that writes lines in the format to w.
func NewWithFormat(w io.Writer, minLevel Level, service string, format Format) *Logger {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "time"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder

	var enc zapcore.Encoder
	switch format {
	case FormatJSON:
		enc = zapcore.NewJSONEncoder(cfg)
	default:
		enc = zapcore.NewConsoleEncoder(cfg)
	}

	core := zapcore.NewCore(enc, zapcore.AddSync(w), zap.NewAtomicLevelAt(zapcore.Level(minLevel)))
	log := zap.New(core).With(zap.String("service", service))

	return &Logger{
		sugar: log.Sugar(),
	}
}

// Debug logs at the debug level.
func (l *Logger) Debug(ctx context.Context, msg string, args ...any) {
	l.sugar.Debugw(msg, args...)
}

// Info logs at the info level.
func (l *Logger) Info(ctx context.Context, msg string, args ...any) {
	l.sugar.Infow(msg, args...)
}

// Warn logs at the warn level.
func (l *Logger) Warn(ctx context.Context, msg string, args ...any) {
	l.sugar.Warnw(msg, args...)
}

// Error logs at the error level.
func (l *Logger) Error(ctx context.Context, msg string, args ...any) {
	l.sugar.Errorw(msg, args...)
}

// Sync flushes any buffered lines.
func (l *Logger) Sync() error {
	return l.sugar.Sync()
}
