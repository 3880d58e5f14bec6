package middle

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/mstgnz/coursepay/infra/logger"
)

// quietPaths are polled by infrastructure and only logged at debug.
var quietPaths = []string{"/health", "/metrics"}

// RequestLoggingMiddleware logs one line per request with status, size and
// duration. Bodies are never logged: they carry payer data.
func RequestLoggingMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			// keeps Hijack working for the websocket upgrade
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}

			log := logger.WithContext(logger.LogContext{
				Operation: "http.request",
				RequestID: middleware.GetReqID(r.Context()),
				Fields: map[string]any{
					"method":      r.Method,
					"path":        r.URL.Path,
					"status":      status,
					"bytes":       ww.BytesWritten(),
					"duration_ms": time.Since(start).Milliseconds(),
					"client_ip":   GetClientIP(r),
				},
			})

			msg := fmt.Sprintf("%s %s %d", r.Method, r.URL.Path, status)
			switch requestLevel(r.URL.Path, status) {
			case logger.LevelError:
				log.Error(msg, nil)
			case logger.LevelWarn:
				log.Warn(msg)
			case logger.LevelDebug:
				log.Debug(msg)
			default:
				log.Info(msg)
			}
		})
	}
}

func requestLevel(path string, status int) logger.LogLevel {
	switch {
	case status >= 500:
		return logger.LevelError
	case status >= 400:
		return logger.LevelWarn
	}
	for _, p := range quietPaths {
		if strings.HasPrefix(path, p) {
			return logger.LevelDebug
		}
	}
	return logger.LevelInfo
}
