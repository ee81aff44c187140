package kv

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

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
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestMemoryStore_GetSetDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Set(ctx, "a", []byte("1"), 0))
	v, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), v)

	require.NoError(t, s.Delete(ctx, "a"))
	_, err = s.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, s.Delete(ctx, "a"))
}

func TestMemoryStore_TTL(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(1000, 0)}
	s := NewMemoryStoreWithClock(clock.Now)

	require.NoError(t, s.Set(ctx, "short", []byte("x"), time.Second))
	require.NoError(t, s.Set(ctx, "forever", []byte("y"), 0))

	clock.Advance(999 * time.Millisecond)
	_, err := s.Get(ctx, "short")
	require.NoError(t, err)

	clock.Advance(time.Millisecond)
	_, err = s.Get(ctx, "short")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1, s.Len())
}

func TestMemoryStore_PurgeExpired(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(0, 0)}
	s := NewMemoryStoreWithClock(clock.Now)

	require.NoError(t, s.Set(ctx, "a", []byte("1"), time.Minute))
	require.NoError(t, s.Set(ctx, "b", []byte("2"), time.Hour))
	clock.Advance(2 * time.Minute)

	assert.Equal(t, 1, s.PurgeExpired())
	assert.Equal(t, 1, s.Len())
}

func TestMemoryStore_CompareAndSwap(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.CompareAndSwap(ctx, "k", nil, []byte("v1"), 0))
	assert.ErrorIs(t, s.CompareAndSwap(ctx, "k", nil, []byte("v1"), 0), ErrConflict)
	assert.ErrorIs(t, s.CompareAndSwap(ctx, "k", []byte("other"), []byte("v2"), 0), ErrConflict)

	require.NoError(t, s.CompareAndSwap(ctx, "k", []byte("v1"), []byte("v2"), 0))
	v, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), v)

	require.NoError(t, s.CompareAndSwap(ctx, "k", []byte("v2"), nil, 0))
	_, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, s.CompareAndSwap(ctx, "gone", []byte("v"), []byte("w"), 0), ErrConflict)
}

func TestMemoryStore_CompareAndSwapConcurrentIncrements(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Set(ctx, "n", []byte{0}, 0))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				cur, err := s.Get(ctx, "n")
				if err != nil {
					t.Error(err)
					return
				}
				err = s.CompareAndSwap(ctx, "n", cur, []byte{cur[0] + 1}, 0)
				if errors.Is(err, ErrConflict) {
					continue
				}
				if err != nil {
					t.Error(err)
				}
				return
			}
		}()
	}
	wg.Wait()

	v, err := s.Get(ctx, "n")
	require.NoError(t, err)
	assert.Equal(t, byte(50), v[0])
}

func TestMemoryStore_Scan(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Set(ctx, "rl:b", []byte("2"), 0))
	require.NoError(t, s.Set(ctx, "rl:a", []byte("1"), 0))
	require.NoError(t, s.Set(ctx, "challenge:x", []byte("3"), 0))

	var keys []string
	err := s.Scan(ctx, "rl:", func(key string, value []byte) error {
		keys = append(keys, key)
		// Callbacks may mutate the store.
		return s.Delete(ctx, key)
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"rl:a", "rl:b"}, keys)
	assert.Equal(t, 1, s.Len())

	stop := errors.New("stop")
	err = s.Scan(ctx, "", func(string, []byte) error { return stop })
	assert.ErrorIs(t, err, stop)
}
