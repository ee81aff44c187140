package db

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/kv"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const scanBatchSize = 200

// RedisStore wraps a redis client and context for operations. It implements
// kv.Store so rate-limit entries and challenge sessions can be shared between
// gatekeeper instances.
type RedisStore struct {
	Client *redis.Client
	Ctx    context.Context
}

var _ kv.Store = (*RedisStore)(nil)

// InitRedis initializes a Redis client and returns a RedisStore.
func InitRedis(addr string) (*RedisStore, error) {
	rs := &RedisStore{
		Client: redis.NewClient(&redis.Options{Addr: addr}),
		Ctx:    context.Background(),
	}

	// Add OpenTelemetry instrumentation to Redis client
	if err := redisotel.InstrumentTracing(rs.Client); err != nil {
		return nil, fmt.Errorf("failed to instrument redis tracing: %w", err)
	}

	if err := rs.Client.Ping(rs.Ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	zap.L().Info("Connected to Redis", zap.String("addr", addr))
	return rs, nil
}

// Get returns the value stored at key or kv.ErrNotFound.
func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := r.Client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, kv.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return v, nil
}

// Set stores value at key. A zero ttl keeps the key until it is deleted.
func (r *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.Client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Delete removes key.
func (r *RedisStore) Delete(ctx context.Context, key string) error {
	if err := r.Client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

// CompareAndSwap uses WATCH/MULTI/EXEC. A concurrent write to key between
// the read and EXEC aborts the transaction and surfaces as kv.ErrConflict.
func (r *RedisStore) CompareAndSwap(ctx context.Context, key string, prev, next []byte, ttl time.Duration) error {
	txf := func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
			if prev != nil {
				return kv.ErrConflict
			}
		case err != nil:
			return err
		default:
			if prev == nil || !bytes.Equal(cur, prev) {
				return kv.ErrConflict
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if next == nil {
				pipe.Del(ctx, key)
				return nil
			}
			pipe.Set(ctx, key, next, ttl)
			return nil
		})
		return err
	}

	err := r.Client.Watch(ctx, txf, key)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, kv.ErrConflict), errors.Is(err, redis.TxFailedErr):
		return kv.ErrConflict
	default:
		return fmt.Errorf("redis cas %s: %w", key, err)
	}
}

// Scan walks every key starting with prefix using SCAN MATCH. Keys that
// disappear between SCAN and GET are skipped.
func (r *RedisStore) Scan(ctx context.Context, prefix string, fn func(key string, value []byte) error) error {
	iter := r.Client.Scan(ctx, 0, prefix+"*", scanBatchSize).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		v, err := r.Client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return fmt.Errorf("redis get %s: %w", key, err)
		}
		if err := fn(key, v); err != nil {
			return err
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan %s: %w", prefix, err)
	}
	return nil
}

// Ping checks connectivity for health reporting.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.Client.Ping(ctx).Err()
}

// Close shuts down the Redis client.
func (r *RedisStore) Close() {
	if r != nil && r.Client != nil {
		if err := r.Client.Close(); err != nil {
			zap.L().Error("redis close", zap.Error(err))
		}
	}
}
