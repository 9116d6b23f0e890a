package utils

import (
	"fmt"
	"log"
	"os"
	"sync"
)

type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

// Logger is a thin leveled wrapper over the stdlib logger. Handlers and
// services receive it by pointer; a nil Logger is safe to call.
type Logger struct {
	mu    sync.Mutex
	out   *log.Logger
	level LogLevel
}

func NewLogger() *Logger {
	return &Logger{
		out:   log.New(os.Stderr, "", log.LstdFlags|log.LUTC),
		level: LevelInfo,
	}
}

func (l *Logger) SetLevel(level LogLevel) {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.level = level
	l.mu.Unlock()
}

func (l *Logger) logf(level LogLevel, prefix, format string, args ...any) {
	if l == nil {
		return
	}
	l.mu.Lock()
	min := l.level
	l.mu.Unlock()
	if level < min {
		return
	}
	l.out.Output(3, prefix+" "+fmt.Sprintf(format, args...))
}

func (l *Logger) Debugf(format string, args ...any) {
	l.logf(LevelDebug, "DEBUG", format, args...)
}

func (l *Logger) Infof(format string, args ...any) {
	l.logf(LevelInfo, "INFO", format, args...)
}

func (l *Logger) Warnf(format string, args ...any) {
	l.logf(LevelWarn, "WARN", format, args...)
}

func (l *Logger) Errorf(format string, args ...any) {
	l.logf(LevelError, "ERROR", format, args...)
}
