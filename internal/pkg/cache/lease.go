package cache

import (
	"context"
	"fmt"
	"time"
)

// Lease is a best-effort exclusive lock held in the cache under one key. It
// expires on its own after ttl, so a crashed holder never blocks others for
// longer than that.
type Lease struct {
	cache Cache
	key   string
	owner string
	ttl   time.Duration
}

func NewLease(c Cache, name, owner string, ttl time.Duration) *Lease {
	return &Lease{cache: c, key: c.GenerateKey("lease", name), owner: owner, ttl: ttl}
}

// Acquire reports whether this owner now holds the lease.
func (l *Lease) Acquire(ctx context.Context) (bool, error) {
	ok, err := l.cache.SetNX(ctx, l.key, l.owner, l.ttl)
	if err != nil {
		return false, fmt.Errorf("cache: acquire lease %s: %w", l.key, err)
	}
	return ok, nil
}

// Release drops the lease if this owner still holds it.
func (l *Lease) Release(ctx context.Context) error {
	if _, err := l.cache.DeleteIfValue(ctx, l.key, l.owner); err != nil {
		return fmt.Errorf("cache: release lease %s: %w", l.key, err)
	}
	return nil
}
