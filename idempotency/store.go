// Package idempotency remembers the response of a client request under its
// idempotency key so that a repeated request is answered without repeating the
// side effects.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	PrefixCard     = "card"
	PrefixPix      = "pix"
	PrefixCheckout = "checkout"

	DefaultTTL = 24 * time.Hour
	lockTTL    = 30 * time.Second
)

var (
	ErrInProgress = errors.New("a request with this idempotency key is in progress")
	ErrEmptyKey   = errors.New("idempotency key is required")
)

// Response is what gets replayed: status code and the exact body bytes.
type Response struct {
	StatusCode int    `json:"status_code"`
	Body       []byte `json:"body"`
}

// Store persists responses and serializes executions per key.
type Store interface {
	// GetCachedResponse returns nil, nil when nothing is stored under the key.
	GetCachedResponse(ctx context.Context, prefix, key string) (*Response, error)
	StoreResponse(ctx context.Context, prefix, key string, body []byte, statusCode int) error
	// Lock returns ErrInProgress while another execution holds the key.
	Lock(ctx context.Context, prefix, key string) (func(), error)
}

func recordKey(prefix, key string) string {
	return fmt.Sprintf("%s:%s", prefix, key)
}

// pollInterval is how often a waiting caller re-checks a key held by another.
var pollInterval = 50 * time.Millisecond

// Execute runs fn at most once per (prefix, key) while the stored response
// lives. Concurrent callers wait for the holder and receive its response.
// replayed reports whether the response came from the store. Errors from fn
// are returned and nothing is stored, so the client may retry.
func Execute(ctx context.Context, store Store, prefix, key string, fn func(ctx context.Context) (*Response, error)) (resp *Response, replayed bool, err error) {
	if strings.TrimSpace(key) == "" {
		return nil, false, ErrEmptyKey
	}

	for {
		cached, err := store.GetCachedResponse(ctx, prefix, key)
		if err != nil {
			return nil, false, err
		}
		if cached != nil {
			return cached, true, nil
		}

		unlock, err := store.Lock(ctx, prefix, key)
		if errors.Is(err, ErrInProgress) {
			select {
			case <-ctx.Done():
				return nil, false, ctx.Err()
			case <-time.After(pollInterval):
				continue
			}
		}
		if err != nil {
			return nil, false, err
		}

		resp, replayed, err = runLocked(ctx, store, prefix, key, fn)
		unlock()
		return resp, replayed, err
	}
}

func runLocked(ctx context.Context, store Store, prefix, key string, fn func(ctx context.Context) (*Response, error)) (*Response, bool, error) {
	// the previous holder may have stored between our check and our lock
	cached, err := store.GetCachedResponse(ctx, prefix, key)
	if err != nil {
		return nil, false, err
	}
	if cached != nil {
		return cached, true, nil
	}

	resp, err := fn(ctx)
	if err != nil {
		return nil, false, err
	}
	if err := store.StoreResponse(ctx, prefix, key, resp.Body, resp.StatusCode); err != nil {
		return nil, false, fmt.Errorf("store idempotent response: %w", err)
	}
	return resp, false, nil
}
