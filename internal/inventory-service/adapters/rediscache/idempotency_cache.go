// Package rediscache keeps a read-through copy of the idempotency log in
// Redis so replays of recent keys skip the database.
package rediscache

import (
	"context"
	"time"

	"github.com/jcmexdev/inventory-sagas/internal/pkg/cache"
)

const DefaultTTL = 24 * time.Hour

type IdempotencyCache struct {
	cache cache.Cache
	ttl   time.Duration
}

func NewIdempotencyCache(c cache.Cache, ttl time.Duration) *IdempotencyCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &IdempotencyCache{cache: c, ttl: ttl}
}

func (c *IdempotencyCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := c.cache.Get(ctx, c.cache.GenerateKey("idempotency", key))
	if err != nil {
		return nil, false, err
	}
	if v == "" {
		return nil, false, nil
	}
	return []byte(v), true, nil
}

// Put stores payload unless the key is already cached; the first payload
// recorded for a key is the only one ever served.
func (c *IdempotencyCache) Put(ctx context.Context, key string, payload []byte) error {
	_, err := c.cache.SetNX(ctx, c.cache.GenerateKey("idempotency", key), payload, c.ttl)
	return err
}
