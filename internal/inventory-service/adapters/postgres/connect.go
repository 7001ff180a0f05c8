package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jcmexdev/inventory-sagas/internal/inventory-service/adapters/postgres/migrations"
	"github.com/jcmexdev/inventory-sagas/internal/pkg/readiness"
)

const DefaultConnectRetry = 5 * time.Second

// Connect opens a pool for dsn, pings it and applies the migrations.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := migrations.Apply(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	return pool, nil
}

// ConnectWithRetry keeps calling Connect every interval until it succeeds or
// ctx ends, then publishes the pool to res. The service answers with
// ErrNotReady until then.
func ConnectWithRetry(ctx context.Context, dsn string, interval time.Duration, res *readiness.Resource[*pgxpool.Pool], logger *slog.Logger) error {
	if interval <= 0 {
		interval = DefaultConnectRetry
	}
	for attempt := 1; ; attempt++ {
		pool, err := Connect(ctx, dsn)
		if err == nil {
			res.Set(pool)
			logger.InfoContext(ctx, "database ready", "attempts", attempt)
			return nil
		}
		logger.WarnContext(ctx, "database not reachable, retrying", "attempt", attempt, "retry_in", interval, "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}
