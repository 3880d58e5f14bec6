package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	key         string
	value       []byte
	expiresAt   time.Time
	listElement *list.Element
}

// Stats represents cache performance metrics
type Stats struct {
	Size        int     `json:"size"`
	MaxSize     int     `json:"max_size"`
	Hits        int64   `json:"hits"`
	Misses      int64   `json:"misses"`
	Evictions   int64   `json:"evictions"`
	TTLExpiries int64   `json:"ttl_expiries"`
	HitRatio    float64 `json:"hit_ratio"`
}

// MemoryBackend is a size-bounded LRU with per-entry expiry.
type MemoryBackend struct {
	entries     map[string]*memoryEntry
	accessOrder *list.List // most recent at front
	maxSize     int
	mu          sync.Mutex
	now         func() time.Time

	hits        int64
	misses      int64
	evictions   int64
	ttlExpiries int64
}

func NewMemoryBackend(maxSize int) *MemoryBackend {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &MemoryBackend{
		entries:     make(map[string]*memoryEntry),
		accessOrder: list.New(),
		maxSize:     maxSize,
		now:         time.Now,
	}
}

func (c *MemoryBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.entries[key]
	if !exists {
		c.misses++
		return nil, false, nil
	}

	if c.expiredUnsafe(entry) {
		c.deleteEntryUnsafe(entry)
		c.ttlExpiries++
		c.misses++
		return nil, false, nil
	}

	c.accessOrder.MoveToFront(entry.listElement)
	c.hits++
	return entry.value, true, nil
}

func (c *MemoryBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = c.now().Add(ttl)
	}

	if existing, exists := c.entries[key]; exists {
		existing.value = value
		existing.expiresAt = expiresAt
		c.accessOrder.MoveToFront(existing.listElement)
		return nil
	}

	if len(c.entries) >= c.maxSize {
		c.evictLRUUnsafe()
	}

	entry := &memoryEntry{key: key, value: value, expiresAt: expiresAt}
	entry.listElement = c.accessOrder.PushFront(entry)
	c.entries[key] = entry
	return nil
}

func (c *MemoryBackend) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, key := range keys {
		if entry, exists := c.entries[key]; exists {
			c.deleteEntryUnsafe(entry)
		}
	}
	return nil
}

func (c *MemoryBackend) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *MemoryBackend) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	hitRatio := 0.0
	if total := c.hits + c.misses; total > 0 {
		hitRatio = float64(c.hits) / float64(total)
	}

	return Stats{
		Size:        len(c.entries),
		MaxSize:     c.maxSize,
		Hits:        c.hits,
		Misses:      c.misses,
		Evictions:   c.evictions,
		TTLExpiries: c.ttlExpiries,
		HitRatio:    hitRatio,
	}
}

// Cleanup removes expired entries
func (c *MemoryBackend) Cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, entry := range c.entries {
		if c.expiredUnsafe(entry) {
			c.deleteEntryUnsafe(entry)
			c.ttlExpiries++
		}
	}
}

// StartCleanup runs Cleanup every interval until ctx is done.
func (c *MemoryBackend) StartCleanup(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.Cleanup()
			}
		}
	}()
}

func (c *MemoryBackend) expiredUnsafe(entry *memoryEntry) bool {
	return !entry.expiresAt.IsZero() && !c.now().Before(entry.expiresAt)
}

func (c *MemoryBackend) evictLRUUnsafe() {
	lruElement := c.accessOrder.Back()
	if lruElement == nil {
		return
	}
	c.deleteEntryUnsafe(lruElement.Value.(*memoryEntry))
	c.evictions++
}

func (c *MemoryBackend) deleteEntryUnsafe(entry *memoryEntry) {
	delete(c.entries, entry.key)
	if entry.listElement != nil {
		c.accessOrder.Remove(entry.listElement)
	}
}
