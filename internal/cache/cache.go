package cache

import (
	"context"
	"encoding/json"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dmitrijs2005/paykeeper/internal/logging"
)

// TTLCache stores JSON-encoded values in a Store and coalesces concurrent
// loads of the same key.
type TTLCache struct {
	store  Store
	ttl    time.Duration
	group  singleflight.Group
	logger logging.Logger
}

func New(store Store, ttl time.Duration, logger logging.Logger) *TTLCache {
	return &TTLCache{store: store, ttl: ttl, logger: logger}
}

func (c *TTLCache) Invalidate(ctx context.Context, key string) {
	if err := c.store.Delete(ctx, key); err != nil {
		c.logger.Warn(ctx, "cache delete failed", "key", key, "error", err)
	}
}

// GetOrLoad returns the cached value for key, or calls load, caches its
// result for the cache TTL and returns it. Store failures are logged and
// fall through to load; load errors are not cached.
func GetOrLoad[T any](ctx context.Context, c *TTLCache, key string, load func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	if raw, ok, err := c.store.Get(ctx, key); err != nil {
		c.logger.Warn(ctx, "cache read failed", "key", key, "error", err)
	} else if ok {
		var v T
		if err := json.Unmarshal(raw, &v); err == nil {
			return v, nil
		}
		c.logger.Warn(ctx, "cache entry undecodable", "key", key)
	}

	res, err, _ := c.group.Do(key, func() (any, error) {
		v, err := load(ctx)
		if err != nil {
			return nil, err
		}
		if raw, err := json.Marshal(v); err == nil {
			if err := c.store.Set(ctx, key, raw, c.ttl); err != nil {
				c.logger.Warn(ctx, "cache write failed", "key", key, "error", err)
			}
		}
		return v, nil
	})
	if err != nil {
		return zero, err
	}
	return res.(T), nil
}
