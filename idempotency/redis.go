package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// extendScript pushes the lock expiry forward while it still holds our token.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisStore shares records and locks between instances. A held lock is
// extended in the background, so it outlives slow gateway calls and only
// expires when its holder is gone.
type RedisStore struct {
	client  redis.UniversalClient
	ttl     time.Duration
	lockTTL time.Duration
}

func NewRedisStore(client redis.UniversalClient, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, ttl: ttl, lockTTL: lockTTL}
}

func (s *RedisStore) dataKey(prefix, key string) string {
	return "idempotency:" + recordKey(prefix, key)
}

func (s *RedisStore) lockKey(prefix, key string) string {
	return "idempotency:lock:" + recordKey(prefix, key)
}

func (s *RedisStore) GetCachedResponse(ctx context.Context, prefix, key string) (*Response, error) {
	data, err := s.client.Get(ctx, s.dataKey(prefix, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read idempotency record: %w", err)
	}

	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode idempotency record: %w", err)
	}
	return &resp, nil
}

func (s *RedisStore) StoreResponse(ctx context.Context, prefix, key string, body []byte, statusCode int) error {
	data, err := json.Marshal(Response{StatusCode: statusCode, Body: body})
	if err != nil {
		return err
	}
	// SetNX keeps the first response if two writers race.
	if err := s.client.SetNX(ctx, s.dataKey(prefix, key), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("write idempotency record: %w", err)
	}
	return nil
}

func (s *RedisStore) Lock(ctx context.Context, prefix, key string) (func(), error) {
	token := uuid.NewString()
	lockKey := s.lockKey(prefix, key)

	ok, err := s.client.SetNX(ctx, lockKey, token, s.lockTTL).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire idempotency lock: %w", err)
	}
	if !ok {
		return nil, ErrInProgress
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go s.keepAlive(lockKey, token, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = releaseScript.Run(releaseCtx, s.client, []string{lockKey}, token).Err()
		})
	}, nil
}

// keepAlive refreshes the lock every third of its TTL until stop closes or
// the lock turns out to belong to someone else.
func (s *RedisStore) keepAlive(lockKey, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	interval := s.lockTTL / 3
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			held, err := extendScript.Run(ctx, s.client, []string{lockKey}, token, s.lockTTL.Milliseconds()).Int()
			cancel()
			if err == nil && held == 0 {
				return
			}
		}
	}
}
