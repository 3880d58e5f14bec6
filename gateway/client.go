// Package gateway is the single HTTP client for the external payment gateway.
// Every component that talks to the gateway goes through Client.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/mstgnz/coursepay/infra/apperr"
	"github.com/mstgnz/coursepay/infra/logger"
	"github.com/mstgnz/coursepay/infra/metrics"
	"github.com/mstgnz/coursepay/infra/opensearch"
)

const (
	idempotencyHeader = "X-Idempotency-Key"
	userAgent         = "coursepay/1.0"
)

// AuditSink receives one record per logical gateway call.
type AuditSink interface {
	LogGatewayCall(ctx context.Context, entry opensearch.GatewayCallLog) error
}

// Config represents configuration for the gateway client
type Config struct {
	BaseURL     string
	AccessToken string
	// Timeout bounds a whole logical call, retries included.
	Timeout    time.Duration
	MaxRetries int
	// InitialBackoff is the first retry wait. Defaults to 200ms.
	InitialBackoff time.Duration
}

// Client sends authenticated JSON requests to the gateway.
type Client struct {
	config  Config
	http    *http.Client
	audit   AuditSink
	metrics *metrics.Metrics
}

// NewClient creates a new gateway client
func NewClient(cfg Config, audit AuditSink, m *metrics.Metrics) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 200 * time.Millisecond
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &Client{
		config:  cfg,
		http:    &http.Client{},
		audit:   audit,
		metrics: m,
	}
}

type sendOptions struct {
	idempotencyKey string
}

// Option customizes a single Send.
type Option func(*sendOptions)

// WithIdempotencyKey pins the X-Idempotency-Key header. Without it every
// write call gets a fresh key.
func WithIdempotencyKey(key string) Option {
	return func(o *sendOptions) {
		o.idempotencyKey = key
	}
}

// DeriveIdempotencyKey maps a client supplied key to a stable gateway key, so
// a client retry after a transport failure is deduplicated by the gateway.
func DeriveIdempotencyKey(prefix, key string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(prefix+":"+key)).String()
}

// Send performs one logical call. payload may be nil. Transport failures, 429
// and 5xx responses are retried with exponential backoff reusing the same
// idempotency key.
func (c *Client) Send(ctx context.Context, method, endpoint string, payload any, opts ...Option) ([]byte, error) {
	if method == "" || strings.TrimSpace(endpoint) == "" {
		return nil, apperr.Unexpected("gateway call requires method and endpoint", nil)
	}

	var o sendOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.idempotencyKey == "" && isWrite(method) {
		o.idempotencyKey = uuid.NewString()
	}

	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return nil, apperr.Unexpected("failed to encode gateway payload", err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	logCtx := logger.FromContext(ctx, "gateway."+strings.ToLower(method))
	logCtx.Fields["endpoint"] = endpoint
	if body != nil {
		logger.Debug("gateway payload: "+opensearch.SanitizeForLog(string(body)), logCtx)
	}

	start := time.Now()
	attempts := 0
	var status int
	var respBody []byte

	operation := func() error {
		attempts++
		var err error
		status, respBody, err = c.do(ctx, method, endpoint, body, o.idempotencyKey)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		if status == http.StatusTooManyRequests || status >= 500 {
			return fmt.Errorf("gateway returned %d", status)
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.config.InitialBackoff
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.config.MaxRetries)), ctx)

	err := backoff.Retry(operation, policy)
	duration := time.Since(start)

	c.metrics.ObserveGatewayCall(method, status, duration)
	logCtx.Fields["status"] = status
	logCtx.Fields["duration_ms"] = duration.Milliseconds()
	logCtx.Fields["attempts"] = attempts

	result, callErr := c.classify(ctx, method, status, respBody, err)
	if callErr != nil {
		logger.Warn("gateway call failed: "+callErr.Error(), logCtx)
	} else {
		logger.Info(fmt.Sprintf("gateway %s %s", method, endpoint), logCtx)
	}
	c.recordAudit(ctx, method, endpoint, o.idempotencyKey, status, duration, attempts, callErr)

	return result, callErr
}

func (c *Client) do(ctx context.Context, method, endpoint string, body []byte, idemKey string) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, joinURL(c.config.BaseURL, endpoint), reader)
	if err != nil {
		return 0, nil, backoff.Permanent(fmt.Errorf("failed to create HTTP request: %w", err))
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Authorization", "Bearer "+c.config.AccessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idemKey != "" {
		req.Header.Set(idempotencyHeader, idemKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return resp.StatusCode, respBody, nil
}

func (c *Client) classify(ctx context.Context, method string, status int, body []byte, err error) ([]byte, error) {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return nil, apperr.External(http.StatusGatewayTimeout, "payment gateway timed out", ctx.Err())
	case status == 0:
		return nil, apperr.External(0, "payment gateway unreachable", err)
	case status < 200 || status >= 300:
		msg := gatewayMessage(body)
		if msg == "" {
			msg = http.StatusText(status)
		}
		return nil, apperr.External(status, fmt.Sprintf("payment gateway error (%d): %s", status, msg), nil)
	}
	return body, nil
}

func (c *Client) recordAudit(ctx context.Context, method, endpoint, idemKey string, status int, d time.Duration, attempts int, err error) {
	if c.audit == nil {
		return
	}
	entry := opensearch.GatewayCallLog{
		Timestamp:      time.Now().UTC(),
		Method:         method,
		Endpoint:       endpoint,
		RequestID:      logger.FromContext(ctx, "").RequestID,
		IdempotencyKey: idemKey,
		StatusCode:     status,
		DurationMs:     d.Milliseconds(),
		Attempts:       attempts,
	}
	if err != nil {
		entry.Error = err.Error()
	}

	// detached from ctx so a finished request does not cancel the audit write
	go func() {
		auditCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.audit.LogGatewayCall(auditCtx, entry); err != nil {
			logger.Debug("gateway audit write failed: " + err.Error())
		}
	}()
}

// gatewayMessage extracts the human readable message of an error body.
func gatewayMessage(body []byte) string {
	var e struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(body, &e) != nil {
		return strings.TrimSpace(string(body))
	}
	if e.Message != "" {
		return e.Message
	}
	return e.Error
}

func isWrite(method string) bool {
	return method == http.MethodPost || method == http.MethodPut || method == http.MethodPatch
}

func joinURL(base, endpoint string) string {
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return endpoint
	}
	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}
	return base + endpoint
}

// IsNotFound reports whether err is a gateway 404.
func IsNotFound(err error) bool {
	return apperr.KindOf(err) == apperr.KindExternal && apperr.StatusOf(err) == http.StatusNotFound
}
