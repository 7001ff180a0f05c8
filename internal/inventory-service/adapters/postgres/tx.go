package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jcmexdev/inventory-sagas/internal/inventory-service/domain"
)

// PoolSource hands out the connection pool once it is connected and
// migrated. Before that Get returns domain.ErrNotReady.
type PoolSource interface {
	Get() (*pgxpool.Pool, error)
}

type txKey struct{}

// withTx runs fn inside a READ COMMITTED transaction. Row locks taken with
// SELECT ... FOR UPDATE serialize writers of the same row; nested calls reuse
// the outer transaction.
func withTx(ctx context.Context, pool *pgxpool.Pool, fn func(ctx context.Context) error) error {
	if txFromContext(ctx) != nil {
		return fn(ctx)
	}

	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return mapError("begin tx", err)
	}

	txCtx := context.WithValue(ctx, txKey{}, tx)
	if err := fn(txCtx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return mapError("commit", err)
	}
	return nil
}

func txFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(txKey{}).(pgx.Tx)
	return tx
}

func isUniqueViolation(err error) bool {
	return hasCode(err, "23505")
}

func isCheckViolation(err error) bool {
	return hasCode(err, "23514")
}

// isLockConflict matches serialization failures and detected deadlocks.
func isLockConflict(err error) bool {
	return hasCode(err, "40001") || hasCode(err, "40P01")
}

func hasCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}

func mapError(op string, err error) error {
	if isLockConflict(err) {
		return fmt.Errorf("%s: %w: %w", op, domain.ErrLockConflict, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
