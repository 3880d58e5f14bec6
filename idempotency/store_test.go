package idempotency

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stores(t *testing.T) map[string]Store {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(time.Hour),
		"redis":  NewRedisStore(client, time.Hour),
	}
}

func TestExecute_OneEffectiveExecution(t *testing.T) {
	pollInterval = 5 * time.Millisecond

	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			var executions int32
			fn := func(context.Context) (*Response, error) {
				atomic.AddInt32(&executions, 1)
				time.Sleep(30 * time.Millisecond)
				return &Response{StatusCode: http.StatusCreated, Body: []byte(`{"id":"p1"}`)}, nil
			}

			const callers = 20
			var wg sync.WaitGroup
			results := make([]*Response, callers)
			for i := 0; i < callers; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					resp, _, err := Execute(context.Background(), store, PrefixCard, "key-1", fn)
					assert.NoError(t, err)
					results[i] = resp
				}(i)
			}
			wg.Wait()

			assert.Equal(t, int32(1), atomic.LoadInt32(&executions))
			for _, r := range results {
				require.NotNil(t, r)
				assert.Equal(t, http.StatusCreated, r.StatusCode)
				assert.Equal(t, []byte(`{"id":"p1"}`), r.Body)
			}
		})
	}
}

func TestExecute_Replay(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			calls := 0
			fn := func(context.Context) (*Response, error) {
				calls++
				return &Response{StatusCode: http.StatusUnprocessableEntity, Body: []byte(`{"error":"rejected"}`)}, nil
			}

			first, replayed, err := Execute(ctx, store, PrefixPix, "k", fn)
			require.NoError(t, err)
			assert.False(t, replayed)

			second, replayed, err := Execute(ctx, store, PrefixPix, "k", fn)
			require.NoError(t, err)
			assert.True(t, replayed)
			assert.Equal(t, first, second)
			assert.Equal(t, 1, calls, "business rejections are stored too")

			_, _, err = Execute(ctx, store, PrefixCard, "k", fn)
			require.NoError(t, err)
			assert.Equal(t, 2, calls, "prefixes are separate namespaces")
		})
	}
}

func TestExecute_ErrorsAreNotStored(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			boom := errors.New("gateway unreachable")

			_, _, err := Execute(ctx, store, PrefixCard, "retry-me", func(context.Context) (*Response, error) {
				return nil, boom
			})
			assert.ErrorIs(t, err, boom)

			resp, replayed, err := Execute(ctx, store, PrefixCard, "retry-me", func(context.Context) (*Response, error) {
				return &Response{StatusCode: http.StatusCreated, Body: []byte("ok")}, nil
			})
			require.NoError(t, err)
			assert.False(t, replayed)
			assert.Equal(t, []byte("ok"), resp.Body)
		})
	}
}

func TestExecute_EmptyKey(t *testing.T) {
	_, _, err := Execute(context.Background(), NewMemoryStore(0), PrefixCard, "  ", nil)
	assert.ErrorIs(t, err, ErrEmptyKey)
}

func TestExecute_WaiterHonoursContext(t *testing.T) {
	store := NewMemoryStore(0)
	unlock, err := store.Lock(context.Background(), PrefixCard, "busy")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, _, err = Execute(ctx, store, PrefixCard, "busy", func(context.Context) (*Response, error) {
		t.Fatal("must not run while locked")
		return nil, nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemoryStore_Expiry(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Hour)
	now := time.Now()
	store.now = func() time.Time { return now }

	require.NoError(t, store.StoreResponse(ctx, PrefixCard, "k", []byte("a"), 200))
	require.NoError(t, store.StoreResponse(ctx, PrefixCard, "k", []byte("b"), 500))

	resp, err := store.GetCachedResponse(ctx, PrefixCard, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), resp.Body, "records are never mutated")

	now = now.Add(2 * time.Hour)
	resp, err = store.GetCachedResponse(ctx, PrefixCard, "k")
	require.NoError(t, err)
	assert.Nil(t, resp)
}

func TestRedisStore_ExpiryAndLock(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	store := NewRedisStore(client, time.Hour)
	ctx := context.Background()

	require.NoError(t, store.StoreResponse(ctx, PrefixCard, "k", []byte("body"), 201))
	assert.True(t, mr.Exists("idempotency:card:k"))
	mr.FastForward(2 * time.Hour)
	resp, err := store.GetCachedResponse(ctx, PrefixCard, "k")
	require.NoError(t, err)
	assert.Nil(t, resp)

	unlock, err := store.Lock(ctx, PrefixCard, "k")
	require.NoError(t, err)
	_, err = store.Lock(ctx, PrefixCard, "k")
	assert.ErrorIs(t, err, ErrInProgress)

	// a stale holder must not release a lock taken over by someone else
	mr.FastForward(lockTTL + time.Second)
	unlock2, err := store.Lock(ctx, PrefixCard, "k")
	require.NoError(t, err)
	unlock()
	assert.True(t, mr.Exists("idempotency:lock:card:k"))

	unlock2()
	assert.False(t, mr.Exists("idempotency:lock:card:k"))
}

func TestRedisStore_LockKeptAliveWhileHeld(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	store := NewRedisStore(client, time.Hour)
	store.lockTTL = 300 * time.Millisecond
	ctx := context.Background()
	key := "idempotency:lock:card:slow"

	unlock, err := store.Lock(ctx, PrefixCard, "slow")
	require.NoError(t, err)

	// the holder outlives the original TTL
	mr.FastForward(250 * time.Millisecond)
	assert.Eventually(t, func() bool {
		return mr.TTL(key) > 200*time.Millisecond
	}, 2*time.Second, 10*time.Millisecond)
	mr.FastForward(250 * time.Millisecond)
	assert.True(t, mr.Exists(key))

	_, err = store.Lock(ctx, PrefixCard, "slow")
	assert.ErrorIs(t, err, ErrInProgress)

	unlock()
	unlock()
	assert.False(t, mr.Exists(key))
}
