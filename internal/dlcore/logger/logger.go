// Package logger implements the engine's leveled logger (C11): a minimum
// level filter plus optional console, file, and user-callback sinks,
// generalizing the teacher's single-sink internal/utils debug helper.
package logger

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/surge-downloader/dlcore/internal/dlcore/types"
)

// SinkFunc receives every emitted line, after level filtering, in addition
// to whatever console/file sinks are configured.
type SinkFunc func(level types.LogLevel, message string)

// Logger writes "[ISO-like timestamp] [LEVEL] message" lines to its
// configured sinks. Safe for concurrent use.
type Logger struct {
	mu      sync.Mutex
	level   types.LogLevel
	console bool
	file    io.WriteCloser
	sink    SinkFunc
}

func New(cfg types.LogConfig) (*Logger, error) {
	l := &Logger{
		level:   cfg.Level,
		console: cfg.LogToConsole,
	}
	if cfg.LogToFile && cfg.LogFilePath != "" {
		f, err := os.OpenFile(cfg.LogFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, types.NewError(types.ErrFileIo, "open log file", err)
		}
		l.file = f
	}
	return l, nil
}

func (l *Logger) SetSink(fn SinkFunc) {
	l.mu.Lock()
	l.sink = fn
	l.mu.Unlock()
}

func (l *Logger) SetLevel(level types.LogLevel) {
	l.mu.Lock()
	l.level = level
	l.mu.Unlock()
}

func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

func (l *Logger) log(level types.LogLevel, format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.level < level {
		return
	}
	msg := fmt.Sprintf(format, args...)
	line := fmt.Sprintf("[%s] [%s] %s", time.Now().Format("2006-01-02T15:04:05.000Z07:00"), level, msg)
	if l.console {
		fmt.Fprintln(os.Stderr, line)
	}
	if l.file != nil {
		fmt.Fprintln(l.file, line)
	}
	if l.sink != nil {
		l.sink(level, msg)
	}
}

func (l *Logger) Error(format string, args ...any)   { l.log(types.LogError, format, args...) }
func (l *Logger) Warning(format string, args ...any) { l.log(types.LogWarning, format, args...) }
func (l *Logger) Info(format string, args ...any)    { l.log(types.LogInfo, format, args...) }
func (l *Logger) Debug(format string, args ...any)   { l.log(types.LogDebug, format, args...) }

// Nop returns a Logger that discards everything, for callers that never
// configured logging.
func Nop() *Logger {
	return &Logger{level: types.LogNone}
}
