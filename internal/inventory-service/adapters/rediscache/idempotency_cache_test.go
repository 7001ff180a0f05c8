package rediscache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcmexdev/inventory-sagas/internal/pkg/cache"
)

func TestIdempotencyCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	c := NewIdempotencyCache(cache.NewRedisCacheFromClient(client, "inventory"), time.Hour)
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, ok)

	first := []byte(`{"success":true,"remainingStock":70}`)
	require.NoError(t, c.Put(ctx, "k1", first))
	require.NoError(t, c.Put(ctx, "k1", []byte(`{"success":true,"remainingStock":1}`)))

	got, ok, err := c.Get(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, first, got)

	assert.Equal(t, time.Hour, mr.TTL("inventory:idempotency:k1"))
}
