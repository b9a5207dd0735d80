// Package logger provides a small structured, leveled logger used across
// fhirjob. Fields attach via WithField/WithFields and are rendered as
// "key=value" pairs after the message.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"
)

// LogLevel represents the severity level of a log message.
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

func (l LogLevel) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel parses a case-insensitive level name, accepting "WARNING" as
// an alias for WARN.
func ParseLevel(level string) (LogLevel, error) {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return DEBUG, nil
	case "INFO":
		return INFO, nil
	case "WARN", "WARNING":
		return WARN, nil
	case "ERROR":
		return ERROR, nil
	default:
		return INFO, fmt.Errorf("unknown log level: %s", level)
	}
}

// Logger is a minimal structured logger: a level gate, a set of sticky
// fields, and a text-line renderer.
type Logger struct {
	level  LogLevel
	logger *log.Logger
	fields map[string]interface{}
}

// Config configures a new Logger.
type Config struct {
	Level  LogLevel
	Output io.Writer
	Format string // accepted but not used: output is always text lines
}

// New returns a Logger at INFO level writing text lines to stdout.
func New() *Logger {
	return NewWithConfig(Config{Level: INFO, Output: os.Stdout, Format: "text"})
}

// NewWithConfig returns a Logger configured per cfg.
func NewWithConfig(cfg Config) *Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	return &Logger{
		level:  cfg.Level,
		logger: log.New(cfg.Output, "", 0),
		fields: make(map[string]interface{}),
	}
}

// WithFields returns a copy of l carrying additional key/value pairs.
func (l *Logger) WithFields(keyVals ...interface{}) *Logger {
	nl := &Logger{level: l.level, logger: l.logger, fields: make(map[string]interface{})}
	for k, v := range l.fields {
		nl.fields[k] = v
	}
	for i := 0; i+1 < len(keyVals); i += 2 {
		nl.fields[fmt.Sprintf("%v", keyVals[i])] = keyVals[i+1]
	}
	return nl
}

// WithField returns a copy of l carrying one additional key/value pair.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return l.WithFields(key, value)
}

func (l *Logger) Debug(msg string, kv ...interface{}) { l.log(DEBUG, msg, kv...) }
func (l *Logger) Info(msg string, kv ...interface{})  { l.log(INFO, msg, kv...) }
func (l *Logger) Warn(msg string, kv ...interface{})  { l.log(WARN, msg, kv...) }
func (l *Logger) Error(msg string, kv ...interface{}) { l.log(ERROR, msg, kv...) }

func (l *Logger) log(level LogLevel, msg string, kv ...interface{}) {
	if level < l.level {
		return
	}
	timestamp := time.Now().Format("2006-01-02T15:04:05.000Z07:00")

	all := make(map[string]interface{}, len(l.fields)+len(kv)/2)
	for k, v := range l.fields {
		all[k] = v
	}
	for i := 0; i+1 < len(kv); i += 2 {
		all[fmt.Sprintf("%v", kv[i])] = kv[i+1]
	}

	l.logger.Print(formatLine(timestamp, level, msg, all))
}

func formatLine(timestamp string, level LogLevel, msg string, fields map[string]interface{}) string {
	parts := []string{fmt.Sprintf("[%s]", timestamp), fmt.Sprintf("[%s]", level.String()), msg}

	if len(fields) > 0 {
		var fieldParts []string
		for k, v := range fields {
			fieldParts = append(fieldParts, fmt.Sprintf("%s=%v", k, formatValue(v)))
		}
		parts = append(parts, fmt.Sprintf("| %s", strings.Join(fieldParts, " ")))
	}
	return strings.Join(parts, " ")
}

func formatValue(value interface{}) string {
	switch v := value.(type) {
	case string:
		if strings.Contains(v, " ") {
			return fmt.Sprintf(`"%s"`, v)
		}
		return v
	case error:
		return fmt.Sprintf(`"%s"`, v.Error())
	case time.Duration:
		return v.String()
	case time.Time:
		return v.Format("2006-01-02T15:04:05Z07:00")
	default:
		return fmt.Sprintf("%v", v)
	}
}

func (l *Logger) SetLevel(level LogLevel) { l.level = level }
func (l *Logger) GetLevel() LogLevel      { return l.level }

// global logger instance for package-level convenience functions.
var global = New()

func SetLevel(level LogLevel) { global.SetLevel(level) }

func Debug(msg string, kv ...interface{}) { global.Debug(msg, kv...) }
func Info(msg string, kv ...interface{})  { global.Info(msg, kv...) }
func Warn(msg string, kv ...interface{})  { global.Warn(msg, kv...) }
func Error(msg string, kv ...interface{}) { global.Error(msg, kv...) }

func WithField(key string, value interface{}) *Logger { return global.WithField(key, value) }
func WithFields(kv ...interface{}) *Logger            { return global.WithFields(kv...) }
