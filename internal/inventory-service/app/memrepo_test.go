package app

import (
	"context"
	"sort"
	"sync"

	"github.com/jcmexdev/inventory-sagas/internal/inventory-service/domain"
)

// memRepo is an in-memory StockRepository with row locks held until the
// transaction ends and writes that become visible only on commit.
type memRepo struct {
	mu       sync.Mutex
	rowLocks map[string]*sync.Mutex
	stock    map[string]int
	records  map[string]domain.IdempotencyRecord

	// beforeInsert runs inside CreateIdempotencyRecord, before the
	// uniqueness check. Tests use it to force the insert race.
	beforeInsert func(key string)
	findErr      error
	lockCalls    int
}

type memTx struct {
	locked  []*sync.Mutex
	stock   map[string]int
	records map[string]domain.IdempotencyRecord
}

type memTxKey struct{}

func newMemRepo(stock map[string]int) *memRepo {
	r := &memRepo{
		rowLocks: map[string]*sync.Mutex{},
		stock:    map[string]int{},
		records:  map[string]domain.IdempotencyRecord{},
	}
	for id, q := range stock {
		r.stock[id] = q
		r.rowLocks[id] = &sync.Mutex{}
	}
	return r
}

func txFrom(ctx context.Context) *memTx {
	tx, _ := ctx.Value(memTxKey{}).(*memTx)
	return tx
}

func (r *memRepo) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if txFrom(ctx) != nil {
		return fn(ctx)
	}
	tx := &memTx{stock: map[string]int{}, records: map[string]domain.IdempotencyRecord{}}
	defer func() {
		for i := len(tx.locked) - 1; i >= 0; i-- {
			tx.locked[i].Unlock()
		}
	}()

	if err := fn(context.WithValue(ctx, memTxKey{}, tx)); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for key := range tx.records {
		if _, exists := r.records[key]; exists {
			return domain.ErrIdempotencyConflict
		}
	}
	for id, q := range tx.stock {
		r.stock[id] = q
	}
	for key, rec := range tx.records {
		r.records[key] = rec
	}
	return nil
}

func (r *memRepo) FindIdempotencyRecord(ctx context.Context, key string) (*domain.IdempotencyRecord, error) {
	if r.findErr != nil {
		return nil, r.findErr
	}
	if tx := txFrom(ctx); tx != nil {
		if rec, ok := tx.records[key]; ok {
			return &rec, nil
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[key]; ok {
		return &rec, nil
	}
	return nil, nil
}

func (r *memRepo) GetStockForUpdate(ctx context.Context, productID string) (domain.StockItem, error) {
	r.mu.Lock()
	r.lockCalls++
	lock, ok := r.rowLocks[productID]
	r.mu.Unlock()
	if !ok {
		return domain.StockItem{}, domain.ErrProductNotFound
	}

	lock.Lock()
	tx := txFrom(ctx)
	tx.locked = append(tx.locked, lock)

	if q, ok := tx.stock[productID]; ok {
		return domain.StockItem{ProductID: productID, Quantity: q}, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return domain.StockItem{ProductID: productID, Quantity: r.stock[productID]}, nil
}

func (r *memRepo) UpdateStockQuantity(ctx context.Context, productID string, quantity int) error {
	txFrom(ctx).stock[productID] = quantity
	return nil
}

func (r *memRepo) CreateIdempotencyRecord(ctx context.Context, rec domain.IdempotencyRecord) error {
	if r.beforeInsert != nil {
		r.beforeInsert(rec.Key)
	}
	r.mu.Lock()
	_, exists := r.records[rec.Key]
	r.mu.Unlock()
	if exists {
		return domain.ErrIdempotencyConflict
	}
	txFrom(ctx).records[rec.Key] = rec
	return nil
}

func (r *memRepo) CreateProduct(_ context.Context, item domain.StockItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.stock[item.ProductID]; ok {
		return domain.ErrProductExists
	}
	r.stock[item.ProductID] = item.Quantity
	r.rowLocks[item.ProductID] = &sync.Mutex{}
	return nil
}

func (r *memRepo) ListStock(context.Context) ([]domain.StockItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	items := make([]domain.StockItem, 0, len(r.stock))
	for id, q := range r.stock {
		items = append(items, domain.StockItem{ProductID: id, Quantity: q})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ProductID < items[j].ProductID })
	return items, nil
}

func (r *memRepo) quantity(productID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stock[productID]
}

func (r *memRepo) recordCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// insertRecord commits a record directly, as a concurrent winner would.
func (r *memRepo) insertRecord(rec domain.IdempotencyRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[rec.Key] = rec
}
