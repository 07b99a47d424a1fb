package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
)

type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

var levelNames = map[LogLevel]string{
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
}

var (
	defaultLogger *Logger
	once          sync.Once
)

// Hook receives every message that passes the level filter, after it has
// been written.
type Hook func(level, message string)

// Logger is a leveled logger writing through a standard library log.Logger.
type Logger struct {
	level LogLevel
	out   *log.Logger
	hooks []Hook
	mu    sync.RWMutex
}

// New creates a Logger writing to stdout at the given level.
func New(level string) *Logger {
	return &Logger{
		level: ParseLogLevel(level),
		out:   log.New(os.Stdout, "[KPTV-CATCHUP] ", log.LstdFlags),
	}
}

// getDefaultLogger returns the process wide logger used by the package-level helpers.
func getDefaultLogger() *Logger {
	once.Do(func() {
		defaultLogger = New("INFO")
	})
	return defaultLogger
}

// Default exposes the package-level logger so it can be handed to components
// that accept a *Logger.
func Default() *Logger {
	return getDefaultLogger()
}

// ParseLogLevel converts a level name into a LogLevel, defaulting to INFO.
func ParseLogLevel(level string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

// SetLogLevel sets the level of the package-level logger.
func SetLogLevel(level string) {
	getDefaultLogger().SetLevel(level)
}

// GetLogLevel returns the level of the package-level logger.
func GetLogLevel() string {
	return getDefaultLogger().GetLevel()
}

// SetOutput redirects the package-level logger, mostly for tests.
func SetOutput(w io.Writer) {
	getDefaultLogger().SetOutput(w)
}

// AddHook registers a hook on the package-level logger.
func AddHook(h Hook) {
	getDefaultLogger().AddHook(h)
}

// AddHook registers h; hooks run in registration order on the logging goroutine.
func (l *Logger) AddHook(h Hook) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hooks = append(l.hooks, h)
}

func (l *Logger) SetLevel(level string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = ParseLogLevel(level)
}

func (l *Logger) GetLevel() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if name, ok := levelNames[l.level]; ok {
		return name
	}
	return "INFO"
}

// SetOutput swaps the destination writer while keeping prefix and flags.
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.out = log.New(w, l.out.Prefix(), l.out.Flags())
}

func (l *Logger) logf(level LogLevel, format string, v ...interface{}) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if level < l.level {
		return
	}
	msg := fmt.Sprintf(format, v...)
	l.out.Printf("[%s] %s", levelNames[level], msg)
	for _, h := range l.hooks {
		h(levelNames[level], msg)
	}
}

// Debug logs debug level messages
func (l *Logger) Debug(format string, v ...interface{}) {
	l.logf(DEBUG, format, v...)
}

// Info logs info level messages
func (l *Logger) Info(format string, v ...interface{}) {
	l.logf(INFO, format, v...)
}

// Warn logs warning level messages
func (l *Logger) Warn(format string, v ...interface{}) {
	l.logf(WARN, format, v...)
}

// Error logs error level messages
func (l *Logger) Error(format string, v ...interface{}) {
	l.logf(ERROR, format, v...)
}

// Package-level functions (for direct use like logger.Info())

func Debug(format string, v ...interface{}) {
	getDefaultLogger().Debug(format, v...)
}

func Info(format string, v ...interface{}) {
	getDefaultLogger().Info(format, v...)
}

func Warn(format string, v ...interface{}) {
	getDefaultLogger().Warn(format, v...)
}

func Error(format string, v ...interface{}) {
	getDefaultLogger().Error(format, v...)
}
