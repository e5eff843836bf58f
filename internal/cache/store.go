// Package cache provides a small TTL cache used for read-through lookups
// (username availability, wallet balances) with an in-memory or Redis
// backend.
package cache

import (
	"context"
	"time"
)

// Store is a byte-oriented TTL key/value store.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
