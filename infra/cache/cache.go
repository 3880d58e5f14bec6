// Package cache provides the response cache used for read-heavy queries:
// get-or-create with single flight per key, and collection version tokens so a
// whole family of derived keys can be invalidated with one write.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mstgnz/coursepay/infra/logger"
	"github.com/mstgnz/coursepay/infra/metrics"
	"golang.org/x/sync/singleflight"
)

// Backend stores raw cache values.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

const versionTTL = 30 * 24 * time.Hour

// ResponseCache wraps a Backend with JSON encoding and single-flight creation.
type ResponseCache struct {
	backend    Backend
	group      singleflight.Group
	defaultTTL time.Duration
	metrics    *metrics.Metrics
}

func NewResponseCache(backend Backend, defaultTTL time.Duration, m *metrics.Metrics) *ResponseCache {
	return &ResponseCache{backend: backend, defaultTTL: defaultTTL, metrics: m}
}

// GetOrCreate returns the cached value for key or builds it with factory.
// Concurrent misses on the same key share one factory call. Backend failures
// degrade to calling factory directly.
func GetOrCreate[T any](ctx context.Context, c *ResponseCache, key string, ttl time.Duration, factory func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	if raw, ok := c.lookup(ctx, key); ok {
		var v T
		if err := json.Unmarshal(raw, &v); err == nil {
			return v, nil
		}
		_ = c.backend.Delete(ctx, key)
	}

	res, err, _ := c.group.Do(key, func() (any, error) {
		// another flight may have filled the key while we waited
		if raw, ok := c.lookup(ctx, key); ok {
			var v T
			if err := json.Unmarshal(raw, &v); err == nil {
				return v, nil
			}
		}

		v, err := factory(ctx)
		if err != nil {
			return nil, err
		}

		if raw, mErr := json.Marshal(v); mErr == nil {
			if sErr := c.backend.Set(ctx, key, raw, ttl); sErr != nil {
				logger.Warn("cache set failed", logger.LogContext{Fields: map[string]any{"key": key, "error": sErr.Error()}})
			}
		}
		return v, nil
	})
	if err != nil {
		return zero, err
	}
	return res.(T), nil
}

// Invalidate removes keys.
func (c *ResponseCache) Invalidate(ctx context.Context, keys ...string) error {
	return c.backend.Delete(ctx, keys...)
}

func (c *ResponseCache) lookup(ctx context.Context, key string) ([]byte, bool) {
	raw, ok, err := c.backend.Get(ctx, key)
	if err != nil {
		logger.Warn("cache get failed", logger.LogContext{Fields: map[string]any{"key": key, "error": err.Error()}})
		return nil, false
	}
	c.metrics.IncCacheLookup(ok)
	return raw, ok
}

// Version returns the current generation token for a collection, creating one
// when none exists.
func (c *ResponseCache) Version(ctx context.Context, collection string) (string, error) {
	return GetOrCreate(ctx, c, versionKey(collection), versionTTL, func(context.Context) (string, error) {
		return uuid.NewString(), nil
	})
}

// BumpVersion replaces the collection token, orphaning every key derived from
// the previous one. Orphans expire through their own TTL.
func (c *ResponseCache) BumpVersion(ctx context.Context, collection string) error {
	raw, err := json.Marshal(uuid.NewString())
	if err != nil {
		return err
	}
	return c.backend.Set(ctx, versionKey(collection), raw, versionTTL)
}

// VersionedKey builds a key bound to the collection's current token.
func (c *ResponseCache) VersionedKey(ctx context.Context, collection string, parts ...string) (string, error) {
	version, err := c.Version(ctx, collection)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:v%s:%s", collection, version, strings.Join(parts, ":")), nil
}

func versionKey(collection string) string {
	return collection + "_cache_version"
}
