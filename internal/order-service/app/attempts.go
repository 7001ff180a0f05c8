package app

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jcmexdev/inventory-sagas/internal/order-service/domain"
	"github.com/jcmexdev/inventory-sagas/internal/pkg/clock"
	"github.com/jcmexdev/inventory-sagas/internal/pkg/reservation"
	"github.com/jcmexdev/inventory-sagas/internal/pkg/retry"
	"github.com/jcmexdev/inventory-sagas/internal/pkg/telemetry"
)

// AttemptLog writes one ReservationAttempt per retry-client attempt. It is
// registered as a retry.Observer; write failures are logged and swallowed.
type AttemptLog struct {
	repo   AttemptRepository
	clock  clock.Clock
	logger *slog.Logger
}

func NewAttemptLog(repo AttemptRepository, clk clock.Clock, logger *slog.Logger) *AttemptLog {
	if logger == nil {
		logger = slog.Default()
	}
	return &AttemptLog{repo: repo, clock: clk, logger: logger}
}

func (l *AttemptLog) ObserveAttempt(ctx context.Context, a retry.Attempt) {
	if a.Request.OrderID == "" {
		return
	}
	ti := telemetry.ExtractTraceInfo(ctx)
	entry := domain.ReservationAttempt{
		OrderID:        a.Request.OrderID,
		Attempt:        a.Number,
		IdempotencyKey: a.Request.IdempotencyKey,
		Outcome:        attemptOutcome(a.Err),
		TraceID:        ti.TraceID,
		SpanID:         ti.SpanID,
		CreatedAt:      l.clock.Now(),
	}
	if a.Err != nil {
		entry.Error = a.Err.Error()
	}
	if err := l.repo.SaveAttempt(ctx, entry); err != nil {
		l.logger.WarnContext(ctx, "failed to record reservation attempt",
			"order_id", entry.OrderID,
			"attempt", entry.Attempt,
			"error", err,
		)
	}
}

// Attempts returns the attempt log of one order.
func (l *AttemptLog) Attempts(ctx context.Context, orderID string) ([]domain.ReservationAttempt, error) {
	return l.repo.ListAttempts(ctx, orderID)
}

func attemptOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, reservation.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, reservation.ErrNotFound):
		return "not_found"
	case errors.Is(err, reservation.ErrInvalid):
		return "invalid"
	default:
		return "transient"
	}
}
