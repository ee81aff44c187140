package db

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/kv"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return &RedisStore{Client: client, Ctx: context.Background()}, mr
}

func TestRedisStore_GetSetDelete(t *testing.T) {
	ctx := context.Background()
	rs, _ := newTestRedisStore(t)

	_, err := rs.Get(ctx, "missing")
	assert.ErrorIs(t, err, kv.ErrNotFound)

	require.NoError(t, rs.Set(ctx, "k", []byte("v"), 0))
	v, err := rs.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), v)

	require.NoError(t, rs.Delete(ctx, "k"))
	_, err = rs.Get(ctx, "k")
	assert.ErrorIs(t, err, kv.ErrNotFound)
}

func TestRedisStore_TTL(t *testing.T) {
	ctx := context.Background()
	rs, mr := newTestRedisStore(t)

	require.NoError(t, rs.Set(ctx, "k", []byte("v"), time.Minute))
	mr.FastForward(61 * time.Second)

	_, err := rs.Get(ctx, "k")
	assert.ErrorIs(t, err, kv.ErrNotFound)
}

func TestRedisStore_CompareAndSwap(t *testing.T) {
	ctx := context.Background()
	rs, mr := newTestRedisStore(t)

	require.NoError(t, rs.CompareAndSwap(ctx, "k", nil, []byte("1"), time.Hour))
	assert.ErrorIs(t, rs.CompareAndSwap(ctx, "k", nil, []byte("1"), time.Hour), kv.ErrConflict)
	assert.ErrorIs(t, rs.CompareAndSwap(ctx, "k", []byte("0"), []byte("2"), time.Hour), kv.ErrConflict)

	require.NoError(t, rs.CompareAndSwap(ctx, "k", []byte("1"), []byte("2"), time.Hour))
	got, err := mr.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "2", got)
	assert.Equal(t, time.Hour, mr.TTL("k"))

	require.NoError(t, rs.CompareAndSwap(ctx, "k", []byte("2"), nil, 0))
	assert.False(t, mr.Exists("k"))
}

func TestRedisStore_Scan(t *testing.T) {
	ctx := context.Background()
	rs, _ := newTestRedisStore(t)
	require.NoError(t, rs.Set(ctx, "ratelimit:a", []byte("1"), 0))
	require.NoError(t, rs.Set(ctx, "ratelimit:b", []byte("2"), 0))
	require.NoError(t, rs.Set(ctx, "challenge:c", []byte("3"), 0))

	seen := map[string]string{}
	err := rs.Scan(ctx, "ratelimit:", func(key string, value []byte) error {
		seen[key] = string(value)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"ratelimit:a": "1", "ratelimit:b": "2"}, seen)

	var keys []string
	require.NoError(t, rs.Scan(ctx, "", func(key string, _ []byte) error {
		keys = append(keys, key)
		return nil
	}))
	sort.Strings(keys)
	assert.Equal(t, []string{"challenge:c", "ratelimit:a", "ratelimit:b"}, keys)
}

func TestRedisStore_Ping(t *testing.T) {
	rs, _ := newTestRedisStore(t)
	assert.NoError(t, rs.Ping(context.Background()))
}
