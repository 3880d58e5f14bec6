package middle

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mstgnz/coursepay/infra/auth"
	"github.com/mstgnz/coursepay/infra/logger"
	"github.com/stretchr/testify/assert"
)

type mockValidator struct {
	ValidateTokenFunc func(token string) (auth.Identity, error)
}

func (m *mockValidator) ValidateToken(token string) (auth.Identity, error) {
	return m.ValidateTokenFunc(token)
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("success"))
	})
}

func TestAuthMiddleware(t *testing.T) {
	validator := &mockValidator{
		ValidateTokenFunc: func(token string) (auth.Identity, error) {
			if token == "good" {
				return auth.Identity{UserID: "u1", Role: auth.RoleStudent}, nil
			}
			return auth.Identity{}, errors.New("bad token")
		},
	}

	var seen auth.Identity
	handler := AuthMiddleware(validator)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = auth.FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name           string
		authHeader     string
		query          string
		expectedStatus int
	}{
		{name: "Valid token", authHeader: "Bearer good", expectedStatus: http.StatusOK},
		{name: "Invalid token", authHeader: "Bearer wrong", expectedStatus: http.StatusUnauthorized},
		{name: "Missing Authorization header", expectedStatus: http.StatusUnauthorized},
		{name: "Invalid format", authHeader: "Basic good", expectedStatus: http.StatusUnauthorized},
		{name: "Query token for websocket", query: "?access_token=good", expectedStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = auth.Identity{}
			req := httptest.NewRequest(http.MethodGet, "/test"+tt.query, nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}

			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			assert.Equal(t, tt.expectedStatus, rr.Code)
			if tt.expectedStatus == http.StatusOK {
				assert.Equal(t, "u1", seen.UserID)
			}
		})
	}
}

func TestRequireAdmin(t *testing.T) {
	handler := RequireAdmin()(okHandler())

	tests := []struct {
		name           string
		identity       *auth.Identity
		expectedStatus int
	}{
		{name: "admin", identity: &auth.Identity{UserID: "a", Role: auth.RoleAdmin}, expectedStatus: http.StatusOK},
		{name: "student", identity: &auth.Identity{UserID: "s", Role: auth.RoleStudent}, expectedStatus: http.StatusForbidden},
		{name: "anonymous", expectedStatus: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin", nil)
			if tt.identity != nil {
				req = req.WithContext(auth.WithIdentity(req.Context(), *tt.identity))
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)
			assert.Equal(t, tt.expectedStatus, rr.Code)
		})
	}
}

func TestRateLimiter(t *testing.T) {
	rl := &RateLimiter{
		visitors: make(map[string]*visitor),
		rate:     2,
		window:   100 * time.Millisecond,
	}

	assert.True(t, rl.Allow("ip:192.168.1.1"))
	assert.True(t, rl.Allow("ip:192.168.1.1"))
	assert.False(t, rl.Allow("ip:192.168.1.1"))
	assert.True(t, rl.Allow("ip:10.0.0.1"), "keys are limited independently")

	time.Sleep(150 * time.Millisecond)
	assert.True(t, rl.Allow("ip:192.168.1.1"))
}

func TestRateLimitMiddleware_KeysByUser(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rl := NewRateLimiter(ctx, 1)
	handler := RateLimitMiddleware(rl)(okHandler())

	send := func(userID string) int {
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.RemoteAddr = "192.168.1.1:12345"
		if userID != "" {
			req = req.WithContext(auth.WithIdentity(req.Context(), auth.Identity{UserID: userID}))
		}
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr.Code
	}

	assert.Equal(t, http.StatusOK, send(""))
	assert.Equal(t, http.StatusTooManyRequests, send(""))
	assert.Equal(t, http.StatusOK, send("u1"), "same IP but authenticated user has its own bucket")
	assert.Equal(t, http.StatusTooManyRequests, send("u1"))
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{name: "forwarded_for_first", headers: map[string]string{"X-Forwarded-For": "1.1.1.1, 2.2.2.2"}, want: "1.1.1.1"},
		{name: "real_ip", headers: map[string]string{"X-Real-IP": "3.3.3.3"}, want: "3.3.3.3"},
		{name: "remote_addr", remote: "4.4.4.4:5555", want: "4.4.4.4"},
		{name: "ipv6_localhost", remote: "[::1]:5555", want: "127.0.0.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if tt.remote != "" {
				req.RemoteAddr = tt.remote
			}
			assert.Equal(t, tt.want, GetClientIP(req))
		})
	}
}

func TestSecurityHeadersMiddleware(t *testing.T) {
	rr := httptest.NewRecorder()
	SecurityHeadersMiddleware()(okHandler()).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/test", nil))

	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))
	assert.Equal(t, "strict-origin-when-cross-origin", rr.Header().Get("Referrer-Policy"))
}

func TestIPWhitelistMiddleware(t *testing.T) {
	handler := IPWhitelistMiddleware([]string{"127.0.0.1", " 192.168.1.100 "})(okHandler())

	tests := []struct {
		name           string
		clientIP       string
		expectedStatus int
	}{
		{name: "Whitelisted IP", clientIP: "127.0.0.1", expectedStatus: http.StatusOK},
		{name: "Trimmed entry", clientIP: "192.168.1.100", expectedStatus: http.StatusOK},
		{name: "Non-whitelisted IP", clientIP: "10.0.0.9", expectedStatus: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/webhooks/gateway", nil)
			req.RemoteAddr = tt.clientIP + ":12345"
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)
			assert.Equal(t, tt.expectedStatus, rr.Code)
		})
	}

	rr := httptest.NewRecorder()
	IPWhitelistMiddleware(nil)(okHandler()).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rr.Code, "empty whitelist allows all")
}

func TestRequestValidationMiddleware(t *testing.T) {
	handler := RequestValidationMiddleware()(okHandler())

	tests := []struct {
		name           string
		method         string
		path           string
		contentType    string
		contentLength  int64
		expectedStatus int
	}{
		{name: "Valid JSON POST", method: http.MethodPost, path: "/v1/payments/card", contentType: "application/json", contentLength: 100, expectedStatus: http.StatusOK},
		{name: "GET without content type", method: http.MethodGet, path: "/v1/plans", expectedStatus: http.StatusOK},
		{name: "Empty POST without content type", method: http.MethodPost, path: "/v1/claims/c1/mediation", contentLength: 0, expectedStatus: http.StatusOK},
		{name: "POST body without content type", method: http.MethodPost, path: "/v1/refunds", contentLength: 10, expectedStatus: http.StatusBadRequest},
		{name: "Webhook without content type", method: http.MethodPost, path: "/webhooks/gateway", contentLength: 10, expectedStatus: http.StatusOK},
		{name: "Unsupported content type", method: http.MethodPost, path: "/v1/refunds", contentType: "text/plain", contentLength: 10, expectedStatus: http.StatusUnsupportedMediaType},
		{name: "Request too large", method: http.MethodPost, path: "/v1/refunds", contentType: "application/json", contentLength: 2 * 1024 * 1024, expectedStatus: http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader("test body"))
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			req.ContentLength = tt.contentLength

			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			assert.Equal(t, tt.expectedStatus, rr.Code)
		})
	}
}

func TestRequestLoggingMiddleware_PassesResponseThrough(t *testing.T) {
	handler := RequestLoggingMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/plans", nil))

	assert.Equal(t, http.StatusTeapot, rr.Code)
	assert.Equal(t, "short and stout", rr.Body.String())
}

func TestRequestLevel(t *testing.T) {
	tests := []struct {
		path   string
		status int
		want   logger.LogLevel
	}{
		{"/v1/payments/card", http.StatusCreated, logger.LevelInfo},
		{"/v1/payments/card", http.StatusUnprocessableEntity, logger.LevelWarn},
		{"/v1/refunds", http.StatusBadGateway, logger.LevelError},
		{"/health", http.StatusOK, logger.LevelDebug},
		{"/health", http.StatusServiceUnavailable, logger.LevelError},
		{"/metrics", http.StatusOK, logger.LevelDebug},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, requestLevel(tt.path, tt.status), "%s %d", tt.path, tt.status)
	}
}
