package logger

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
)

func resetGlobal() {
	globalLogger = nil
	once = sync.Once{}
}

func TestInitGlobalLogger(t *testing.T) {
	resetGlobal()
	t.Setenv("ENVIRONMENT", "development")

	InitGlobalLogger(nil)

	assert.NotNil(t, globalLogger)
	assert.Equal(t, "coursepay", globalLogger.service)
	assert.Equal(t, LevelDebug, globalLogger.minLevel)
	assert.False(t, globalLogger.enableSink)
}

func TestInitGlobalLogger_ProductionLevel(t *testing.T) {
	resetGlobal()
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("LOGGING_LEVEL", "warn")

	InitGlobalLogger(nil)

	assert.Equal(t, LevelWarn, globalLogger.minLevel)
}

func TestInitGlobalLogger_OnlyOnce(t *testing.T) {
	resetGlobal()

	InitGlobalLogger(nil)
	first := globalLogger
	InitGlobalLogger(nil)

	assert.Same(t, first, globalLogger)
}

func TestGetGlobalLogger_Fallback(t *testing.T) {
	resetGlobal()

	logger := GetGlobalLogger()
	assert.NotNil(t, logger)
	assert.Equal(t, LevelInfo, logger.minLevel)
}

func TestGlobalHelpers(t *testing.T) {
	resetGlobal()
	InitGlobalLogger(nil)
	globalLogger.enableConsole = false

	Debug("Debug message")
	Info("Info message", LogContext{UserID: "u1"})
	Warn("Warning message")
	Error("Error message", nil)

	assert.Equal(t, "u1", WithUser("u1").context.UserID)
	assert.Equal(t, "refund", WithOperation("refund").context.Operation)
}

func TestFromContext(t *testing.T) {
	var got LogContext
	h := middleware.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = FromContext(r.Context(), "create_payment")
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, "create_payment", got.Operation)
	assert.NotEmpty(t, got.RequestID)
	assert.Empty(t, FromContext(context.Background(), "x").RequestID)
}
