package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// plainStore hides AtomicStore so the limiter's generic path is exercised
type plainStore struct{ Store }

func newRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client)
}

func storesUnderTest(t *testing.T) map[string]Store {
	return map[string]Store{
		"memory":       NewMemoryStore(),
		"redis-atomic": newRedisStore(t),
		"redis-plain":  plainStore{newRedisStore(t)},
	}
}

func TestLimiter_CapAndWindowReset(t *testing.T) {
	ctx := context.Background()

	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			clock := &fakeClock{now: time.Now()}
			limiter := NewLimiter(store, time.Hour, 20, WithClock(clock.Now))

			for i := 1; i <= 20; i++ {
				require.True(t, limiter.Allow(ctx, "10.0.0.1"), "request %d", i)
			}
			assert.False(t, limiter.Allow(ctx, "10.0.0.1"), "request 21 must be rejected")
			assert.False(t, limiter.Allow(ctx, "10.0.0.1"), "rejections do not reset the window")

			// Other clients are unaffected
			assert.True(t, limiter.Allow(ctx, "10.0.0.2"))

			// Exactly at the reset time the window is still active
			clock.Advance(time.Hour)
			assert.False(t, limiter.Allow(ctx, "10.0.0.1"))

			clock.Advance(time.Millisecond)
			assert.True(t, limiter.Allow(ctx, "10.0.0.1"), "first request of a new window")
			for i := 2; i <= 20; i++ {
				require.True(t, limiter.Allow(ctx, "10.0.0.1"), "request %d in new window", i)
			}
			assert.False(t, limiter.Allow(ctx, "10.0.0.1"))
		})
	}
}

func TestLimiter_ConcurrentRequestsNeverExceedCap(t *testing.T) {
	ctx := context.Background()
	limiter := NewLimiter(NewMemoryStore(), time.Hour, 20)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if limiter.Allow(ctx, "burst") {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, allowed)
}

type failingStore struct{}

func (failingStore) Get(context.Context, string) (Record, bool, error) {
	return Record{}, false, errors.New("store down")
}
func (failingStore) Set(context.Context, string, Record) error { return errors.New("store down") }
func (failingStore) Increment(context.Context, string) (Record, error) {
	return Record{}, errors.New("store down")
}

func TestLimiter_FailsOpen(t *testing.T) {
	limiter := NewLimiter(failingStore{}, time.Hour, 1)
	for i := 0; i < 5; i++ {
		assert.True(t, limiter.Allow(context.Background(), "client"))
	}
}

func TestLimiter_Sweep(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Now()}
	store := NewMemoryStore()
	limiter := NewLimiter(store, time.Minute, 5, WithClock(clock.Now))

	limiter.Allow(ctx, "a")
	clock.Advance(30 * time.Second)
	limiter.Allow(ctx, "b")
	require.Equal(t, 2, store.Len())

	clock.Advance(31 * time.Second)
	assert.Equal(t, 1, limiter.Sweep())
	assert.Equal(t, 1, store.Len())

	_, ok, _ := store.Get(ctx, "b")
	assert.True(t, ok)

	// Stores without a sweeper are left alone
	assert.Equal(t, 0, NewLimiter(newRedisStore(t), time.Minute, 5).Sweep())
}

func TestMemoryStore_IncrementMissing(t *testing.T) {
	_, err := NewMemoryStore().Increment(context.Background(), "nobody")
	assert.Error(t, err)
}

func TestRedisStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newRedisStore(t)

	_, ok, err := store.Get(ctx, "client")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = store.Increment(ctx, "client")
	assert.Error(t, err)

	reset := time.Now().Add(time.Hour).Truncate(time.Millisecond)
	require.NoError(t, store.Set(ctx, "client", Record{Count: 3, ResetAt: reset}))

	rec, err := store.Increment(ctx, "client")
	require.NoError(t, err)
	assert.Equal(t, 4, rec.Count)
	assert.True(t, reset.Equal(rec.ResetAt))
}
