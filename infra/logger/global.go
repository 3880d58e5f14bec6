package logger

import (
	"context"
	"sync"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/mstgnz/coursepay/infra/config"
)

var (
	globalLogger *SystemLogger
	once         sync.Once
)

// InitGlobalLogger initializes the global system logger. A nil sink keeps
// logging console-only.
func InitGlobalLogger(sink Sink) {
	once.Do(func() {
		cfg := SystemLoggerConfig{
			EnableConsole: true,
			EnableSink:    sink != nil,
			MinLevel:      ParseLevel(config.GetEnv("LOGGING_LEVEL", "info")),
			Service:       "coursepay",
			Version:       "1.0.0",
			Environment:   config.GetEnv("ENVIRONMENT", "development"),
		}

		if cfg.Environment == "development" {
			cfg.MinLevel = LevelDebug
		}

		globalLogger = NewSystemLogger(sink, cfg)
	})
}

// GetGlobalLogger returns the global logger instance
func GetGlobalLogger() *SystemLogger {
	if globalLogger == nil {
		globalLogger = NewSystemLogger(nil, SystemLoggerConfig{
			EnableConsole: true,
			MinLevel:      LevelInfo,
			Service:       "coursepay",
			Version:       "1.0.0",
			Environment:   "development",
		})
	}
	return globalLogger
}

func Debug(message string, ctx ...LogContext) {
	GetGlobalLogger().Debug(message, ctx...)
}

func Info(message string, ctx ...LogContext) {
	GetGlobalLogger().Info(message, ctx...)
}

func Warn(message string, ctx ...LogContext) {
	GetGlobalLogger().Warn(message, ctx...)
}

func Error(message string, err error, ctx ...LogContext) {
	GetGlobalLogger().Error(message, err, ctx...)
}

func Fatal(message string, err error, ctx ...LogContext) {
	GetGlobalLogger().Fatal(message, err, ctx...)
}

// WithContext creates a context logger from the global logger
func WithContext(ctx LogContext) *ContextLogger {
	return GetGlobalLogger().WithContext(ctx)
}

// WithUser creates a context logger for a user
func WithUser(userID string) *ContextLogger {
	return WithContext(LogContext{UserID: userID})
}

// WithOperation creates a context logger for a named operation
func WithOperation(op string) *ContextLogger {
	return WithContext(LogContext{Operation: op})
}

// FromContext builds a LogContext carrying the chi request id, if any.
func FromContext(ctx context.Context, op string) LogContext {
	return LogContext{
		Operation: op,
		RequestID: middleware.GetReqID(ctx),
		Fields:    map[string]any{},
	}
}
