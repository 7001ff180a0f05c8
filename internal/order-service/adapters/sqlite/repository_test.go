package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcmexdev/inventory-sagas/internal/order-service/domain"
)

var base = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func openTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := Open(filepath.Join(t.TempDir(), "data", "orders.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func pendingOrder(id string, created time.Time) domain.Order {
	return domain.Order{
		ID:             id,
		ProductID:      "apple",
		Quantity:       3,
		Status:         domain.StatusPending,
		IdempotencyKey: "key-" + id,
		CreatedAt:      created,
		UpdatedAt:      created,
	}
}

func TestRepository_CreateAndGet(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	o := pendingOrder("o1", base.Add(123*time.Nanosecond))
	require.NoError(t, repo.Create(ctx, o))

	got, err := repo.Get(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, o, got)

	_, err = repo.Get(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrOrderNotFound)

	dup := pendingOrder("o2", base)
	dup.IdempotencyKey = o.IdempotencyKey
	require.Error(t, repo.Create(ctx, dup), "idempotency keys are unique")
}

func TestRepository_TransitionStatusIsGuarded(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, pendingOrder("o1", base)))

	later := base.Add(time.Minute)
	require.NoError(t, repo.TransitionStatus(ctx, "o1", domain.StatusPending, domain.StatusProcessed, later))

	got, err := repo.Get(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessed, got.Status)
	assert.Equal(t, later, got.UpdatedAt)

	err = repo.TransitionStatus(ctx, "o1", domain.StatusPending, domain.StatusOutOfStock, later)
	require.ErrorIs(t, err, domain.ErrStatusConflict)

	err = repo.TransitionStatus(ctx, "nope", domain.StatusPending, domain.StatusProcessed, later)
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestRepository_DeleteIfStatus(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, pendingOrder("o1", base)))
	require.NoError(t, repo.Create(ctx, pendingOrder("o2", base)))
	require.NoError(t, repo.TransitionStatus(ctx, "o2", domain.StatusPending, domain.StatusProcessed, base))

	require.NoError(t, repo.DeleteIfStatus(ctx, "o1", domain.StatusPending))
	_, err := repo.Get(ctx, "o1")
	require.ErrorIs(t, err, domain.ErrOrderNotFound)

	require.ErrorIs(t, repo.DeleteIfStatus(ctx, "o2", domain.StatusPending), domain.ErrStatusConflict)
}

func TestRepository_ListPending(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, pendingOrder("young", base.Add(10*time.Minute))))
	require.NoError(t, repo.Create(ctx, pendingOrder("old-2", base.Add(2*time.Second))))
	require.NoError(t, repo.Create(ctx, pendingOrder("old-1", base.Add(time.Second))))
	require.NoError(t, repo.Create(ctx, pendingOrder("old-1b", base.Add(time.Second))))
	require.NoError(t, repo.Create(ctx, pendingOrder("done", base)))
	require.NoError(t, repo.TransitionStatus(ctx, "done", domain.StatusPending, domain.StatusProcessed, base))

	got, err := repo.ListPending(ctx, base.Add(time.Minute), 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"old-1", "old-1b", "old-2"}, ids(got), "oldest first, ties by insertion")

	got, err = repo.ListPending(ctx, base.Add(time.Minute), 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"old-1", "old-1b"}, ids(got))

	all, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, "young", all[0].ID)
	assert.Len(t, all, 5)
}

func TestRepository_Attempts(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.SaveAttempt(ctx, domain.ReservationAttempt{
		OrderID: "o1", Attempt: 1, IdempotencyKey: "k", Outcome: "transient", Error: "timeout", CreatedAt: base,
	}))
	require.NoError(t, repo.SaveAttempt(ctx, domain.ReservationAttempt{
		OrderID: "o1", Attempt: 2, IdempotencyKey: "k", Outcome: "ok", TraceID: "abc", SpanID: "def", CreatedAt: base.Add(time.Second),
	}))

	got, err := repo.ListAttempts(ctx, "o1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "timeout", got[0].Error)
	assert.Equal(t, 2, got[1].Attempt)
	assert.Equal(t, "abc", got[1].TraceID)
	assert.Empty(t, got[1].Error)
}

func TestRepository_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orders.db")
	repo, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, repo.Create(context.Background(), pendingOrder("o1", base)))
	require.NoError(t, repo.Close())

	repo, err = Open(path)
	require.NoError(t, err)
	defer repo.Close()
	got, err := repo.Get(context.Background(), "o1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, got.Status)
}

func ids(orders []domain.Order) []string {
	out := make([]string, len(orders))
	for i, o := range orders {
		out[i] = o.ID
	}
	return out
}

func TestTimeLayoutSortsLexically(t *testing.T) {
	a := formatTime(base.Add(999 * time.Millisecond))
	b := formatTime(base.Add(time.Second))
	assert.Less(t, a, b)
	parsed, err := parseTime(a)
	require.NoError(t, err)
	assert.Equal(t, base.Add(999*time.Millisecond), parsed)
}
