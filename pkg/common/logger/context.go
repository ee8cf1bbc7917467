package logger

import (
	"context"
	"sync"
)

// LoggerContext accumulates attributes over the course of an operation so
// later records carry everything learned so far.
type LoggerContext struct {
	mu     sync.Mutex
	logger *Logger
}

// NewLoggerContext wraps the given logger.
func NewLoggerContext(l *Logger) *LoggerContext {
	return &LoggerContext{logger: l}
}

// Add attaches attributes to every subsequent record.
func (lc *LoggerContext) Add(args ...any) {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	lc.logger = lc.logger.With(args...)
}

func (lc *LoggerContext) current() *Logger {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return lc.logger
}

func (lc *LoggerContext) Debug(ctx context.Context, msg string, args ...any) {
	lc.current().Debugc(ctx, 4, msg, args...)
}

func (lc *LoggerContext) Info(ctx context.Context, msg string, args ...any) {
	lc.current().Infoc(ctx, 4, msg, args...)
}

func (lc *LoggerContext) Warn(ctx context.Context, msg string, args ...any) {
	lc.current().Warnc(ctx, 4, msg, args...)
}

func (lc *LoggerContext) Error(ctx context.Context, msg string, args ...any) {
	lc.current().Errorc(ctx, 4, msg, args...)
}
