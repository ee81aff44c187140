// Package kv defines the small key/value contract shared by the rate limiter
// and the challenge engine, and an in-process implementation of it.
package kv

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by Get when the key is absent or expired.
	ErrNotFound = errors.New("key not found")
	// ErrConflict is returned by CompareAndSwap when the stored value does
	// not match the expected one.
	ErrConflict = errors.New("compare and swap conflict")
)

// Store is a byte-oriented key/value store with per-key TTL.
//
// CompareAndSwap replaces the value at key with next only if the current
// value equals prev. A nil prev means the key must be absent; a nil next
// deletes the key. A ttl of zero means no expiry.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	CompareAndSwap(ctx context.Context, key string, prev, next []byte, ttl time.Duration) error
	Scan(ctx context.Context, prefix string, fn func(key string, value []byte) error) error
}
