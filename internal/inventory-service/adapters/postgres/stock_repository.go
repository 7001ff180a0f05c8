// Package postgres is the stock ledger and idempotency log on PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/jcmexdev/inventory-sagas/internal/inventory-service/domain"
)

type StockRepository struct {
	pools PoolSource
}

func NewStockRepository(pools PoolSource) *StockRepository {
	return &StockRepository{pools: pools}
}

func (r *StockRepository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	pool, err := r.pools.Get()
	if err != nil {
		return err
	}
	return withTx(ctx, pool, fn)
}

func (r *StockRepository) FindIdempotencyRecord(ctx context.Context, key string) (*domain.IdempotencyRecord, error) {
	const query = `SELECT idempotency_key, response_payload, created_at FROM idempotency_log WHERE idempotency_key = $1`

	var rec domain.IdempotencyRecord
	err := r.queryRow(ctx, query, key).Scan(&rec.Key, &rec.ResponsePayload, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, r.wrap("find idempotency record", err)
	}
	return &rec, nil
}

func (r *StockRepository) GetStockForUpdate(ctx context.Context, productID string) (domain.StockItem, error) {
	const query = `SELECT product_id, quantity, updated_at FROM inventory WHERE product_id = $1 FOR UPDATE`

	var item domain.StockItem
	err := r.queryRow(ctx, query, productID).Scan(&item.ProductID, &item.Quantity, &item.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.StockItem{}, domain.ErrProductNotFound
		}
		return domain.StockItem{}, r.wrap("get stock for update", err)
	}
	return item, nil
}

func (r *StockRepository) UpdateStockQuantity(ctx context.Context, productID string, quantity int) error {
	const stmt = `UPDATE inventory SET quantity = $2, updated_at = NOW() WHERE product_id = $1`

	tag, err := r.exec(ctx, stmt, productID, quantity)
	if err != nil {
		if isCheckViolation(err) {
			return domain.ErrInsufficientStock
		}
		return r.wrap("update stock", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrProductNotFound
	}
	return nil
}

func (r *StockRepository) CreateIdempotencyRecord(ctx context.Context, rec domain.IdempotencyRecord) error {
	const stmt = `
INSERT INTO idempotency_log (idempotency_key, response_payload, created_at)
VALUES ($1, $2, $3)`

	if _, err := r.exec(ctx, stmt, rec.Key, rec.ResponsePayload, rec.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return domain.ErrIdempotencyConflict
		}
		return r.wrap("create idempotency record", err)
	}
	return nil
}

func (r *StockRepository) CreateProduct(ctx context.Context, item domain.StockItem) error {
	const stmt = `INSERT INTO inventory (product_id, quantity, updated_at) VALUES ($1, $2, $3)`

	if _, err := r.exec(ctx, stmt, item.ProductID, item.Quantity, item.UpdatedAt); err != nil {
		if isUniqueViolation(err) {
			return domain.ErrProductExists
		}
		if isCheckViolation(err) {
			return fmt.Errorf("%w: quantity must not be negative", domain.ErrInvalidRequest)
		}
		return r.wrap("create product", err)
	}
	return nil
}

func (r *StockRepository) ListStock(ctx context.Context) ([]domain.StockItem, error) {
	pool, err := r.pools.Get()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, `SELECT product_id, quantity, updated_at FROM inventory ORDER BY product_id`)
	if err != nil {
		return nil, r.wrap("list stock", err)
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.StockItem, error) {
		var item domain.StockItem
		err := row.Scan(&item.ProductID, &item.Quantity, &item.UpdatedAt)
		return item, err
	})
	if err != nil {
		return nil, r.wrap("list stock", err)
	}
	return items, nil
}

func (r *StockRepository) wrap(op string, err error) error {
	return mapError(op, err)
}

func (r *StockRepository) exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if tx := txFromContext(ctx); tx != nil {
		return tx.Exec(ctx, sql, args...)
	}
	pool, err := r.pools.Get()
	if err != nil {
		return pgconn.CommandTag{}, err
	}
	return pool.Exec(ctx, sql, args...)
}

func (r *StockRepository) queryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if tx := txFromContext(ctx); tx != nil {
		return tx.QueryRow(ctx, sql, args...)
	}
	pool, err := r.pools.Get()
	if err != nil {
		return errRow{err: err}
	}
	return pool.QueryRow(ctx, sql, args...)
}

// errRow defers a pool lookup failure to Scan.
type errRow struct{ err error }

func (r errRow) Scan(...any) error { return r.err }
