// Package sqlite is the order ledger: orders plus the reservation attempt
// log, stored in a single SQLite file.
//
// Open enables WAL mode: the orchestrator and the reconciler write while HTTP
// handlers list orders.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jcmexdev/inventory-sagas/internal/order-service/domain"

	// Pure-Go driver, registered as "sqlite".
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS orders (
    id               TEXT PRIMARY KEY,
    product_id       TEXT    NOT NULL,
    quantity         INTEGER NOT NULL CHECK (quantity > 0),
    status           TEXT    NOT NULL,
    -- Key minted at intake; the reconciler reuses it so a replay cannot
    -- decrement stock twice.
    idempotency_key  TEXT    NOT NULL UNIQUE,
    created_at       TEXT    NOT NULL,
    updated_at       TEXT    NOT NULL
);

-- The reconciler's query: oldest pending orders first.
CREATE INDEX IF NOT EXISTS idx_orders_status_created ON orders(status, created_at);

-- Append-only: one row per retry-client attempt.
CREATE TABLE IF NOT EXISTS reservation_attempts (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    order_id         TEXT    NOT NULL,
    attempt          INTEGER NOT NULL,
    idempotency_key  TEXT    NOT NULL,
    outcome          TEXT    NOT NULL,
    error            TEXT,
    trace_id         TEXT    NOT NULL DEFAULT '',
    span_id          TEXT    NOT NULL DEFAULT '',
    created_at       TEXT    NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_attempts_order ON reservation_attempts(order_id, id);
CREATE INDEX IF NOT EXISTS idx_attempts_trace ON reservation_attempts(trace_id);
`

type Repository struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database at the given path and applies
// the schema.
//
//	repo, err := sqlite.Open("./data/orders.db")
func Open(path string) (*Repository, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: create dir for %q: %w", path, err)
		}
	}

	// WAL enables concurrent readers; busy_timeout waits for locks instead
	// of failing immediately.
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)", path)

	// Use "sqlite", not "sqlite3" for the modernc driver.
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", path, err)
	}

	// SQLite performs best with a single writer connection.
	db.SetMaxOpenConns(1)

	if err := applySchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Repository{db: db}, nil
}

// Close releases the database connection. Call it with defer in main().
func (r *Repository) Close() error {
	return r.db.Close()
}

func (r *Repository) Create(ctx context.Context, o domain.Order) error {
	const q = `
		INSERT INTO orders (id, product_id, quantity, status, idempotency_key, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, q,
		o.ID,
		o.ProductID,
		o.Quantity,
		string(o.Status),
		o.IdempotencyKey,
		formatTime(o.CreatedAt),
		formatTime(o.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: create order %q: %w", o.ID, err)
	}
	return nil
}

const orderColumns = `id, product_id, quantity, status, idempotency_key, created_at, updated_at`

func (r *Repository) Get(ctx context.Context, id string) (domain.Order, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	if err != nil {
		return domain.Order{}, fmt.Errorf("sqlite: get order %q: %w", id, err)
	}
	return o, nil
}

// List returns every order, newest first.
func (r *Repository) List(ctx context.Context) ([]domain.Order, error) {
	return r.query(ctx, `SELECT `+orderColumns+` FROM orders ORDER BY created_at DESC, rowid DESC`)
}

// ListPending returns up to limit PENDING orders created at or before
// olderThan, oldest first.
func (r *Repository) ListPending(ctx context.Context, olderThan time.Time, limit int) ([]domain.Order, error) {
	if limit <= 0 {
		limit = -1
	}
	return r.query(ctx, `
		SELECT `+orderColumns+`
		FROM   orders
		WHERE  status = ? AND created_at <= ?
		ORDER  BY created_at ASC, rowid ASC
		LIMIT  ?`,
		string(domain.StatusPending), formatTime(olderThan), limit)
}

// TransitionStatus moves the order from one status to another only if it is
// still in from. A miss is reported as ErrStatusConflict, or ErrOrderNotFound
// when the row is gone.
func (r *Repository) TransitionStatus(ctx context.Context, id string, from, to domain.OrderStatus, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE orders SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(to), formatTime(at), id, string(from))
	if err != nil {
		return fmt.Errorf("sqlite: transition order %q to %s: %w", id, to, err)
	}
	return r.guardResult(ctx, res, id)
}

// DeleteIfStatus removes the order only while it is still in status.
func (r *Repository) DeleteIfStatus(ctx context.Context, id string, status domain.OrderStatus) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM orders WHERE id = ? AND status = ?`, id, string(status))
	if err != nil {
		return fmt.Errorf("sqlite: delete order %q: %w", id, err)
	}
	return r.guardResult(ctx, res, id)
}

func (r *Repository) guardResult(ctx context.Context, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: rows affected for %q: %w", id, err)
	}
	if n == 1 {
		return nil
	}
	if _, err := r.Get(ctx, id); err != nil {
		return err
	}
	return domain.ErrStatusConflict
}

func (r *Repository) SaveAttempt(ctx context.Context, a domain.ReservationAttempt) error {
	const q = `
		INSERT INTO reservation_attempts
			(order_id, attempt, idempotency_key, outcome, error, trace_id, span_id, created_at)
		VALUES
			(?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, q,
		a.OrderID,
		a.Attempt,
		a.IdempotencyKey,
		a.Outcome,
		nullableString(a.Error),
		a.TraceID,
		a.SpanID,
		formatTime(a.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: save attempt for %q: %w", a.OrderID, err)
	}
	return nil
}

// ListAttempts returns the attempt log of one order in insertion order.
func (r *Repository) ListAttempts(ctx context.Context, orderID string) ([]domain.ReservationAttempt, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT order_id, attempt, idempotency_key, outcome, COALESCE(error, ''), trace_id, span_id, created_at
		FROM   reservation_attempts
		WHERE  order_id = ?
		ORDER  BY id ASC`, orderID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list attempts for %q: %w", orderID, err)
	}
	defer rows.Close()

	var out []domain.ReservationAttempt
	for rows.Next() {
		var a domain.ReservationAttempt
		var createdAt string
		if err := rows.Scan(&a.OrderID, &a.Attempt, &a.IdempotencyKey, &a.Outcome, &a.Error, &a.TraceID, &a.SpanID, &createdAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan attempt: %w", err)
		}
		if a.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *Repository) query(ctx context.Context, q string, args ...any) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query orders: %w", err)
	}
	defer rows.Close()

	var out []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan order: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(s scanner) (domain.Order, error) {
	var o domain.Order
	var status, createdAt, updatedAt string
	if err := s.Scan(&o.ID, &o.ProductID, &o.Quantity, &status, &o.IdempotencyKey, &createdAt, &updatedAt); err != nil {
		return domain.Order{}, err
	}
	o.Status = domain.OrderStatus(status)

	var err error
	if o.CreatedAt, err = parseTime(createdAt); err != nil {
		return domain.Order{}, err
	}
	if o.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return domain.Order{}, err
	}
	return o, nil
}

// applySchema runs the DDL statements once. Idempotent due to IF NOT EXISTS.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return nil
}

// nullableString returns nil for empty strings so SQLite stores NULL instead
// of an empty TEXT.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
