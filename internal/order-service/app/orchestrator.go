package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jcmexdev/inventory-sagas/internal/order-service/domain"
	"github.com/jcmexdev/inventory-sagas/internal/pkg/clock"
	"github.com/jcmexdev/inventory-sagas/internal/pkg/metrics"
	"github.com/jcmexdev/inventory-sagas/internal/pkg/reservation"
)

type PlaceOrderInput struct {
	ProductID string
	Quantity  int
}

// PlaceOrderResult describes what happened to a placed order. Reason carries
// the inventory error behind OutcomeOutOfStock, OutcomeFailed and
// OutcomePending.
type PlaceOrderResult struct {
	Order   domain.Order
	Outcome Outcome
	Reason  error
}

type Orchestrator struct {
	settler
	reserver Reserver
	newID    func() string
	tracer   trace.Tracer
}

type OrchestratorOption func(*Orchestrator)

func WithPublisher(p EventPublisher) OrchestratorOption {
	return func(o *Orchestrator) { o.publisher = p }
}

func WithOrchestratorLogger(l *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

func WithOrchestratorMetrics(m *metrics.Metrics) OrchestratorOption {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithPersistOutOfStock controls whether an out-of-stock order is kept as
// OUT_OF_STOCK (the default) or removed from the ledger.
func WithPersistOutOfStock(persist bool) OrchestratorOption {
	return func(o *Orchestrator) { o.persistOutOfStock = persist }
}

// WithIDGenerator replaces uuid.NewString for order ids and keys.
func WithIDGenerator(fn func() string) OrchestratorOption {
	return func(o *Orchestrator) {
		if fn != nil {
			o.newID = fn
		}
	}
}

func NewOrchestrator(repo OrderRepository, reserver Reserver, clk clock.Clock, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		settler: settler{
			repo:              repo,
			clock:             clk,
			logger:            slog.Default(),
			persistOutOfStock: true,
		},
		reserver: reserver,
		newID:    uuid.NewString,
		tracer:   otel.Tracer("order-service"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// PlaceOrder records the order as PENDING under a fresh idempotency key,
// reserves stock through the retry client and settles the order from the
// answer. Only validation and intake failures are returned as errors; every
// other result is described by the returned outcome.
func (o *Orchestrator) PlaceOrder(ctx context.Context, in PlaceOrderInput) (PlaceOrderResult, error) {
	if err := (domain.Order{ProductID: in.ProductID, Quantity: in.Quantity}).Validate(); err != nil {
		return PlaceOrderResult{}, err
	}

	now := o.clock.Now()
	order := domain.Order{
		ID:             o.newID(),
		ProductID:      in.ProductID,
		Quantity:       in.Quantity,
		Status:         domain.StatusPending,
		IdempotencyKey: o.newID(),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	// The reservation may commit on the inventory side at any point from
	// here on, so a client disconnect must not abandon the order halfway.
	ctx = context.WithoutCancel(ctx)
	ctx, span := o.tracer.Start(ctx, "orders.Place", trace.WithAttributes(
		attribute.String("order.id", order.ID),
		attribute.String("product.id", order.ProductID),
		attribute.Int("order.quantity", order.Quantity),
		attribute.String("reservation.idempotency_key", order.IdempotencyKey),
	))
	defer span.End()

	if err := o.repo.Create(ctx, order); err != nil {
		o.logger.ErrorContext(ctx, "failed to record order", "order_id", order.ID, "error", err)
		return PlaceOrderResult{}, fmt.Errorf("record order: %w", err)
	}
	o.metrics.ObserveTransition(domain.SourceOrchestrator, string(domain.StatusPending))
	o.publish(ctx, order, "", domain.StatusPending, domain.SourceOrchestrator)

	_, err := o.reserver.ReserveWithRetry(ctx, reservation.Request{
		ProductID:      order.ProductID,
		Quantity:       order.Quantity,
		IdempotencyKey: order.IdempotencyKey,
		OrderID:        order.ID,
	})
	outcome := classify(err)
	span.SetAttributes(attribute.String("order.outcome", string(outcome)))

	result := PlaceOrderResult{Order: order, Outcome: outcome, Reason: err}
	if outcome == OutcomePending {
		o.logger.WarnContext(ctx, "reservation deferred, order left pending",
			"order_id", order.ID,
			"idempotency_key", order.IdempotencyKey,
			"error", err,
		)
		return result, nil
	}

	if err := o.settle(ctx, order, outcome, domain.SourceOrchestrator); err != nil {
		// The inventory answer stands. The row stays PENDING and the
		// reconciler replays the same key later.
		o.logger.ErrorContext(ctx, "reservation settled but order ledger update failed; manual recovery may be needed",
			"order_id", order.ID,
			"idempotency_key", order.IdempotencyKey,
			"outcome", outcome,
			"error", err,
		)
		return result, nil
	}

	if status, ok := outcome.targetStatus(); ok {
		result.Order.Status = status
		result.Order.UpdatedAt = o.clock.Now()
	}
	return result, nil
}

func (o *Orchestrator) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	return o.repo.Get(ctx, id)
}

func (o *Orchestrator) ListOrders(ctx context.Context) ([]domain.Order, error) {
	return o.repo.List(ctx)
}

// ListPending returns every order still waiting for a definitive answer.
func (o *Orchestrator) ListPending(ctx context.Context) ([]domain.Order, error) {
	return o.repo.ListPending(ctx, o.clock.Now(), 0)
}
