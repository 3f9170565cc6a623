package log

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

var levelNames = map[LogLevel]string{
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARN",
	LevelError: "ERROR",
	LevelFatal: "FATAL",
}

func (l LogLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "INFO"
}

func (l LogLevel) zerolog() zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	case LevelFatal:
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// ParseLevel maps a case-insensitive level name to a LogLevel, falling back to LevelInfo.
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	case "fatal":
		return LevelFatal
	default:
		return LevelInfo
	}
}

// Config controls the global logger.
type Config struct {
	Level  string
	Format string    // "json" (default) or "console"
	Output io.Writer // defaults to os.Stdout
}

type Logger struct {
	level LogLevel
	zl    zerolog.Logger
}

func NewLogger(level LogLevel) *Logger {
	return newLogger(Config{Level: level.String()})
}

func newLogger(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	if strings.EqualFold(cfg.Format, "console") {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.DateTime}
	}
	level := ParseLevel(cfg.Level)
	zl := zerolog.New(out).Level(level.zerolog()).With().Timestamp().Logger()
	return &Logger{level: level, zl: zl}
}

func (l *Logger) SetLevel(level LogLevel) {
	l.level = level
	l.zl = l.zl.Level(level.zerolog())
}

func (l *Logger) Level() LogLevel {
	return l.level
}

// With returns a child logger carrying an extra field on every entry.
func (l *Logger) With(key string, value any) *Logger {
	return &Logger{level: l.level, zl: l.zl.With().Interface(key, value).Logger()}
}

// WithComponent returns a child logger tagged with the component name.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{level: l.level, zl: l.zl.With().Str("component", component).Logger()}
}

// Zerolog exposes the underlying logger for libraries that want one.
func (l *Logger) Zerolog() zerolog.Logger {
	return l.zl
}

func (l *Logger) Debug(format string, args ...any) {
	l.log(LevelDebug, 2, format, args...)
}

func (l *Logger) Info(format string, args ...any) {
	l.log(LevelInfo, 2, format, args...)
}

func (l *Logger) Warn(format string, args ...any) {
	l.log(LevelWarn, 2, format, args...)
}

func (l *Logger) Error(format string, args ...any) {
	l.log(LevelError, 2, format, args...)
}

// Fatal logs and exits the process.
func (l *Logger) Fatal(format string, args ...any) {
	l.log(LevelFatal, 2, format, args...)
	os.Exit(1)
}

func (l *Logger) log(level LogLevel, depth int, format string, args ...any) {
	if level < l.level {
		return
	}
	// WithLevel so that fatal entries do not exit from inside zerolog.
	l.zl.WithLevel(level.zerolog()).Caller(depth).Msgf(format, args...)
}

var (
	globalMu     sync.RWMutex
	globalLogger *Logger
)

// Configure replaces the global logger.
func Configure(cfg Config) {
	logger := newLogger(cfg)
	globalMu.Lock()
	globalLogger = logger
	globalMu.Unlock()
}

func InitLogger(level LogLevel) {
	Configure(Config{Level: level.String()})
}

func GetLogger() *Logger {
	globalMu.RLock()
	logger := globalLogger
	globalMu.RUnlock()
	if logger != nil {
		return logger
	}

	globalMu.Lock()
	defer globalMu.Unlock()
	if globalLogger == nil {
		globalLogger = newLogger(Config{Level: os.Getenv("LOG_LEVEL")})
	}
	return globalLogger
}

// WithComponent is shorthand for GetLogger().WithComponent.
func WithComponent(component string) *Logger {
	return GetLogger().WithComponent(component)
}

func Debug(format string, args ...any) {
	GetLogger().log(LevelDebug, 3, format, args...)
}

func Info(format string, args ...any) {
	GetLogger().log(LevelInfo, 3, format, args...)
}

func Warn(format string, args ...any) {
	GetLogger().log(LevelWarn, 3, format, args...)
}

func Error(format string, args ...any) {
	GetLogger().log(LevelError, 3, format, args...)
}

func Fatal(format string, args ...any) {
	GetLogger().log(LevelFatal, 3, format, args...)
	os.Exit(1)
}
