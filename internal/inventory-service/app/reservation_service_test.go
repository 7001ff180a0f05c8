package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcmexdev/inventory-sagas/internal/inventory-service/domain"
	"github.com/jcmexdev/inventory-sagas/internal/pkg/clock"
	"github.com/jcmexdev/inventory-sagas/internal/pkg/reservation"
)

var testNow = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

type fakeCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	getErr  error
	puts    int
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: map[string][]byte{}}
}

func (c *fakeCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return nil, false, c.getErr
	}
	v, ok := c.entries[key]
	return v, ok, nil
}

func (c *fakeCache) Put(_ context.Context, key string, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.puts++
	c.entries[key] = payload
	return nil
}

func newService(repo *memRepo, opts ...ReservationServiceOption) *ReservationService {
	return NewReservationService(repo, clock.NewFixed(testNow), opts...)
}

func req(product string, qty int, key string) reservation.Request {
	return reservation.Request{ProductID: product, Quantity: qty, IdempotencyKey: key}
}

func TestReserve_DecrementsAndRejectsOversell(t *testing.T) {
	repo := newMemRepo(map[string]int{"apple": 100})
	svc := newService(repo)
	ctx := context.Background()

	res, err := svc.Reserve(ctx, req("apple", 30, "k1"))
	require.NoError(t, err)
	assert.True(t, res.Applied())
	assert.Equal(t, 70, res.Payload.RemainingStock)
	assert.JSONEq(t, `{"success":true,"message":"Stock reserved","productId":"apple","reservedQuantity":30,"remainingStock":70}`, string(res.Raw))

	_, err = svc.Reserve(ctx, req("apple", 80, "k2"))
	require.ErrorIs(t, err, domain.ErrInsufficientStock)
	assert.Equal(t, 70, repo.quantity("apple"))
	assert.Equal(t, 1, repo.recordCount(), "failed reservations leave no record")
}

func TestReserve_ReplaysStoredPayload(t *testing.T) {
	repo := newMemRepo(map[string]int{"apple": 100})
	svc := newService(repo)
	ctx := context.Background()

	first, err := svc.Reserve(ctx, req("apple", 10, "k1"))
	require.NoError(t, err)

	// Stock moves on between the two calls; the replay must not reflect it.
	_, err = svc.Reserve(ctx, req("apple", 5, "k2"))
	require.NoError(t, err)

	second, err := svc.Reserve(ctx, req("apple", 10, "k1"))
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Raw, second.Raw)
	assert.Equal(t, 90, second.Payload.RemainingStock)
	assert.Equal(t, 85, repo.quantity("apple"))
}

func TestReserve_SameKeyConcurrentCallersConverge(t *testing.T) {
	repo := newMemRepo(map[string]int{"apple": 70})
	svc := newService(repo)

	const callers = 8
	results := make([]reservation.Result, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.Reserve(context.Background(), req("apple", 50, "X"))
		}(i)
	}
	wg.Wait()

	applied := 0
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0].Raw, results[i].Raw)
		if results[i].Applied() {
			applied++
		}
	}
	assert.Equal(t, 1, applied)
	assert.Equal(t, 20, repo.quantity("apple"))
}

func TestReserve_NeverOversellsUnderContention(t *testing.T) {
	repo := newMemRepo(map[string]int{"banana": 50})
	svc := newService(repo)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok       int
		rejected int
	)
	for i := 0; i < 80; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Reserve(context.Background(), req("banana", 1, fmt.Sprintf("key-%d", i)))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, domain.ErrInsufficientStock):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 50, ok)
	assert.Equal(t, 30, rejected)
	assert.Equal(t, 0, repo.quantity("banana"))
	assert.Equal(t, 50, repo.recordCount())
}

func TestReserve_InsertRaceRereadsWinner(t *testing.T) {
	repo := newMemRepo(map[string]int{"apple": 100})
	winner := []byte(`{"success":true,"message":"Stock reserved","productId":"apple","reservedQuantity":5,"remainingStock":95}`)
	repo.beforeInsert = func(key string) {
		repo.insertRecord(domain.IdempotencyRecord{Key: key, ResponsePayload: winner, CreatedAt: testNow})
	}
	svc := newService(repo)

	res, err := svc.Reserve(context.Background(), req("apple", 5, "race"))
	require.NoError(t, err)
	assert.True(t, res.Replayed)
	assert.Equal(t, winner, res.Raw)
	assert.Equal(t, 100, repo.quantity("apple"), "loser's decrement is rolled back")
}

func TestReserve_Errors(t *testing.T) {
	tests := []struct {
		name    string
		request reservation.Request
		wantErr error
	}{
		{name: "unknown product", request: req("kiwi", 1, "k"), wantErr: domain.ErrProductNotFound},
		{name: "empty product", request: req("", 1, "k"), wantErr: domain.ErrInvalidRequest},
		{name: "zero quantity", request: req("apple", 0, "k"), wantErr: domain.ErrInvalidRequest},
		{name: "negative quantity", request: req("apple", -3, "k"), wantErr: domain.ErrInvalidRequest},
		{name: "missing key", request: req("apple", 1, ""), wantErr: domain.ErrInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newMemRepo(map[string]int{"apple": 10})
			_, err := newService(repo).Reserve(context.Background(), tt.request)
			require.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, 10, repo.quantity("apple"))
			assert.Zero(t, repo.recordCount())
		})
	}
}

func TestReserve_StorageNotReady(t *testing.T) {
	repo := newMemRepo(map[string]int{"apple": 10})
	repo.findErr = domain.ErrNotReady

	_, err := newService(repo).Reserve(context.Background(), req("apple", 1, "k"))
	require.ErrorIs(t, err, domain.ErrNotReady)
	assert.False(t, reservation.IsTerminal(err))
}

func TestReserve_UsesCache(t *testing.T) {
	t.Run("hit skips the ledger", func(t *testing.T) {
		repo := newMemRepo(map[string]int{"apple": 10})
		cache := newFakeCache()
		cached := []byte(`{"success":true,"message":"Stock reserved","productId":"apple","reservedQuantity":2,"remainingStock":8}`)
		cache.entries["k"] = cached

		res, err := newService(repo, WithIdempotencyCache(cache)).Reserve(context.Background(), req("apple", 2, "k"))
		require.NoError(t, err)
		assert.True(t, res.Replayed)
		assert.Equal(t, cached, res.Raw)
		assert.Zero(t, repo.lockCalls)
	})

	t.Run("fills after commit", func(t *testing.T) {
		repo := newMemRepo(map[string]int{"apple": 10})
		cache := newFakeCache()

		res, err := newService(repo, WithIdempotencyCache(cache)).Reserve(context.Background(), req("apple", 2, "k"))
		require.NoError(t, err)
		assert.Equal(t, res.Raw, cache.entries["k"])
	})

	t.Run("read errors fall back to the ledger", func(t *testing.T) {
		repo := newMemRepo(map[string]int{"apple": 10})
		cache := newFakeCache()
		cache.getErr = errors.New("redis down")

		res, err := newService(repo, WithIdempotencyCache(cache)).Reserve(context.Background(), req("apple", 2, "k"))
		require.NoError(t, err)
		assert.True(t, res.Applied())
		assert.Equal(t, 8, repo.quantity("apple"))
	})
}

func TestCreateProductAndList(t *testing.T) {
	repo := newMemRepo(map[string]int{"apple": 100})
	svc := newService(repo)
	ctx := context.Background()

	item, err := svc.CreateProduct(ctx, "orange", 75)
	require.NoError(t, err)
	assert.Equal(t, testNow, item.UpdatedAt)

	_, err = svc.CreateProduct(ctx, "apple", 1)
	require.ErrorIs(t, err, domain.ErrProductExists)

	_, err = svc.CreateProduct(ctx, "", 1)
	require.ErrorIs(t, err, domain.ErrInvalidRequest)
	_, err = svc.CreateProduct(ctx, "pear", -1)
	require.ErrorIs(t, err, domain.ErrInvalidRequest)

	items, err := svc.ListStock(ctx)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "apple", items[0].ProductID)
	assert.Equal(t, 75, items[1].Quantity)
}
