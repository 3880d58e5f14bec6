package idempotency

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	resp      Response
	expiresAt time.Time
}

// MemoryStore keeps records in process. Suitable for a single instance.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]memoryEntry
	locks   map[string]struct{}
	ttl     time.Duration
	now     func() time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{
		records: make(map[string]memoryEntry),
		locks:   make(map[string]struct{}),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (s *MemoryStore) GetCachedResponse(_ context.Context, prefix, key string) (*Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := recordKey(prefix, key)
	e, ok := s.records[k]
	if !ok {
		return nil, nil
	}
	if s.now().After(e.expiresAt) {
		delete(s.records, k)
		return nil, nil
	}
	body := make([]byte, len(e.resp.Body))
	copy(body, e.resp.Body)
	return &Response{StatusCode: e.resp.StatusCode, Body: body}, nil
}

func (s *MemoryStore) StoreResponse(_ context.Context, prefix, key string, body []byte, statusCode int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := recordKey(prefix, key)
	// records are never overwritten while alive
	if e, ok := s.records[k]; ok && !s.now().After(e.expiresAt) {
		return nil
	}
	stored := make([]byte, len(body))
	copy(stored, body)
	s.records[k] = memoryEntry{
		resp:      Response{StatusCode: statusCode, Body: stored},
		expiresAt: s.now().Add(s.ttl),
	}
	return nil
}

func (s *MemoryStore) Lock(_ context.Context, prefix, key string) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := recordKey(prefix, key)
	if _, held := s.locks[k]; held {
		return nil, ErrInProgress
	}
	s.locks[k] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.locks, k)
			s.mu.Unlock()
		})
	}, nil
}

// Cleanup drops expired records.
func (s *MemoryStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for k, e := range s.records {
		if now.After(e.expiresAt) {
			delete(s.records, k)
		}
	}
}
