package app

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jcmexdev/inventory-sagas/internal/order-service/domain"
	"github.com/jcmexdev/inventory-sagas/internal/pkg/clock"
	"github.com/jcmexdev/inventory-sagas/internal/pkg/kafka"
	"github.com/jcmexdev/inventory-sagas/internal/pkg/metrics"
	"github.com/jcmexdev/inventory-sagas/internal/pkg/reservation"
)

// Outcome is what a reservation means for a PENDING order.
type Outcome string

const (
	OutcomeProcessed  Outcome = "processed"
	OutcomeOutOfStock Outcome = "out_of_stock"
	OutcomeFailed     Outcome = "failed"
	OutcomePending    Outcome = "pending"
)

func (o Outcome) targetStatus() (domain.OrderStatus, bool) {
	switch o {
	case OutcomeProcessed:
		return domain.StatusProcessed, true
	case OutcomeOutOfStock:
		return domain.StatusOutOfStock, true
	case OutcomeFailed:
		return domain.StatusFailed, true
	}
	return "", false
}

// classify maps the retry client's answer to an outcome. Anything that is
// not a definitive inventory answer leaves the order parked.
func classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeProcessed
	case errors.Is(err, reservation.ErrInsufficientStock):
		return OutcomeOutOfStock
	case errors.Is(err, reservation.ErrNotFound), errors.Is(err, reservation.ErrInvalid):
		return OutcomeFailed
	default:
		return OutcomePending
	}
}

// settler applies outcomes to the ledger with status-guarded writes. It is
// shared by the orchestrator and the reconciler.
type settler struct {
	repo              OrderRepository
	clock             clock.Clock
	publisher         EventPublisher
	metrics           *metrics.Metrics
	logger            *slog.Logger
	persistOutOfStock bool
}

// settle moves a PENDING order to the status matching outcome. A guard miss
// comes back as domain.ErrStatusConflict.
func (s *settler) settle(ctx context.Context, o domain.Order, outcome Outcome, source string) error {
	to, ok := outcome.targetStatus()
	if !ok {
		return nil
	}

	if to == domain.StatusOutOfStock && !s.persistOutOfStock {
		if err := s.repo.DeleteIfStatus(ctx, o.ID, domain.StatusPending); err != nil {
			return err
		}
		s.metrics.ObserveTransition(source, "DELETED")
		s.logger.InfoContext(ctx, "out-of-stock order removed", "order_id", o.ID, "source", source)
		return nil
	}

	if err := s.repo.TransitionStatus(ctx, o.ID, domain.StatusPending, to, s.clock.Now()); err != nil {
		return err
	}
	s.metrics.ObserveTransition(source, string(to))
	s.logger.InfoContext(ctx, "order status changed",
		"order_id", o.ID,
		"from", domain.StatusPending,
		"to", to,
		"source", source,
	)
	s.publish(ctx, o, domain.StatusPending, to, source)
	return nil
}

func (s *settler) publish(ctx context.Context, o domain.Order, from, to domain.OrderStatus, source string) {
	if s.publisher == nil {
		return
	}
	evt := domain.OrderStatusChanged{
		OrderID:        o.ID,
		ProductID:      o.ProductID,
		Quantity:       o.Quantity,
		From:           from,
		To:             to,
		IdempotencyKey: o.IdempotencyKey,
		Source:         source,
		OccurredAt:     s.clock.Now(),
	}
	if err := s.publisher.Publish(ctx, o.ID, evt); err != nil && !errors.Is(err, kafka.ErrDisabled) {
		s.logger.WarnContext(ctx, "failed to publish order event", "order_id", o.ID, "to", to, "error", err)
	}
}
