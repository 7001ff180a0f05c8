// Package app holds the inventory service use cases: the idempotent stock
// reservation and the product catalogue around it.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jcmexdev/inventory-sagas/internal/inventory-service/domain"
	"github.com/jcmexdev/inventory-sagas/internal/pkg/clock"
	"github.com/jcmexdev/inventory-sagas/internal/pkg/metrics"
	"github.com/jcmexdev/inventory-sagas/internal/pkg/reservation"
)

// StockRepository is the stock ledger plus the idempotency log. All methods
// called from inside WithTx share one database transaction.
type StockRepository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	// FindIdempotencyRecord returns nil, nil when key has no record.
	FindIdempotencyRecord(ctx context.Context, key string) (*domain.IdempotencyRecord, error)
	// GetStockForUpdate locks the row until the transaction ends.
	GetStockForUpdate(ctx context.Context, productID string) (domain.StockItem, error)
	UpdateStockQuantity(ctx context.Context, productID string, quantity int) error
	// CreateIdempotencyRecord returns domain.ErrIdempotencyConflict when the
	// key already exists.
	CreateIdempotencyRecord(ctx context.Context, rec domain.IdempotencyRecord) error
	CreateProduct(ctx context.Context, item domain.StockItem) error
	ListStock(ctx context.Context) ([]domain.StockItem, error)
}

// IdempotencyCache is an optional read-through copy of the idempotency log.
// Errors are never fatal to a reservation.
type IdempotencyCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, payload []byte) error
}

type ReservationService struct {
	repo    StockRepository
	cache   IdempotencyCache
	clock   clock.Clock
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

type ReservationServiceOption func(*ReservationService)

func WithIdempotencyCache(c IdempotencyCache) ReservationServiceOption {
	return func(s *ReservationService) { s.cache = c }
}

func WithLogger(l *slog.Logger) ReservationServiceOption {
	return func(s *ReservationService) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) ReservationServiceOption {
	return func(s *ReservationService) { s.metrics = m }
}

func NewReservationService(repo StockRepository, clk clock.Clock, opts ...ReservationServiceOption) *ReservationService {
	s := &ReservationService{
		repo:   repo,
		clock:  clk,
		logger: slog.Default(),
		tracer: otel.Tracer("inventory-service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Reserve decrements stock for req.ProductID exactly once per idempotency
// key. A key that was already applied is answered with the stored payload
// bytes and Replayed set; nothing else happens.
func (s *ReservationService) Reserve(ctx context.Context, req reservation.Request) (reservation.Result, error) {
	ctx, span := s.tracer.Start(ctx, "inventory.Reserve", trace.WithAttributes(
		attribute.String("product.id", req.ProductID),
		attribute.Int("reservation.quantity", req.Quantity),
		attribute.String("reservation.idempotency_key", req.IdempotencyKey),
	))
	defer span.End()

	res, err := s.reserve(ctx, req)
	outcome := reservationOutcome(res, err)
	s.metrics.ObserveReservation(outcome)
	span.SetAttributes(attribute.String("reservation.outcome", outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return res, err
}

func (s *ReservationService) reserve(ctx context.Context, req reservation.Request) (reservation.Result, error) {
	if err := req.Validate(); err != nil {
		return reservation.Result{}, err
	}

	if res, ok := s.lookupCache(ctx, req.IdempotencyKey); ok {
		return res, nil
	}
	if res, ok, err := s.lookupLog(ctx, req.IdempotencyKey); err != nil || ok {
		return res, err
	}

	var result reservation.Result
	err := s.repo.WithTx(ctx, func(txCtx context.Context) error {
		item, err := s.repo.GetStockForUpdate(txCtx, req.ProductID)
		if err != nil {
			return err
		}

		// A concurrent request with the same key may have committed while we
		// waited for the row lock.
		existing, err := s.repo.FindIdempotencyRecord(txCtx, req.IdempotencyKey)
		if err != nil {
			return err
		}
		if existing != nil {
			result, err = replayed(existing.ResponsePayload)
			return err
		}

		if item.Quantity < req.Quantity {
			return domain.ErrInsufficientStock
		}
		remaining := item.Quantity - req.Quantity
		if err := s.repo.UpdateStockQuantity(txCtx, req.ProductID, remaining); err != nil {
			return err
		}

		payload := reservation.Payload{
			Success:          true,
			Message:          reservation.MessageReserved,
			ProductID:        req.ProductID,
			ReservedQuantity: req.Quantity,
			RemainingStock:   remaining,
		}
		raw, err := payload.Encode()
		if err != nil {
			return err
		}
		if err := s.repo.CreateIdempotencyRecord(txCtx, domain.IdempotencyRecord{
			Key:             req.IdempotencyKey,
			ResponsePayload: raw,
			CreatedAt:       s.clock.Now(),
		}); err != nil {
			return err
		}

		result = reservation.Result{Payload: payload, Raw: raw}
		return nil
	})

	switch {
	case errors.Is(err, domain.ErrIdempotencyConflict):
		// Lost the insert race: our decrement was rolled back with the
		// transaction, so converge on the winner's record.
		res, ok, lookupErr := s.lookupLog(ctx, req.IdempotencyKey)
		if lookupErr != nil {
			return reservation.Result{}, lookupErr
		}
		if !ok {
			return reservation.Result{}, fmt.Errorf("idempotency record %q vanished after conflict: %w", req.IdempotencyKey, err)
		}
		return res, nil
	case err != nil:
		return reservation.Result{}, err
	}

	if result.Applied() {
		s.logger.InfoContext(ctx, "stock reserved",
			"product_id", req.ProductID,
			"quantity", req.Quantity,
			"remaining", result.Payload.RemainingStock,
			"idempotency_key", req.IdempotencyKey,
			"order_id", req.OrderID,
		)
	}
	s.fillCache(ctx, req.IdempotencyKey, result.Raw)
	return result, nil
}

func (s *ReservationService) lookupCache(ctx context.Context, key string) (reservation.Result, bool) {
	if s.cache == nil {
		return reservation.Result{}, false
	}
	raw, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.logger.WarnContext(ctx, "idempotency cache read failed", "idempotency_key", key, "error", err)
		return reservation.Result{}, false
	}
	if !ok {
		return reservation.Result{}, false
	}
	res, err := replayed(raw)
	if err != nil {
		s.logger.WarnContext(ctx, "idempotency cache entry unreadable", "idempotency_key", key, "error", err)
		return reservation.Result{}, false
	}
	return res, true
}

func (s *ReservationService) lookupLog(ctx context.Context, key string) (reservation.Result, bool, error) {
	rec, err := s.repo.FindIdempotencyRecord(ctx, key)
	if err != nil {
		return reservation.Result{}, false, err
	}
	if rec == nil {
		return reservation.Result{}, false, nil
	}
	res, err := replayed(rec.ResponsePayload)
	if err != nil {
		return reservation.Result{}, false, err
	}
	s.fillCache(ctx, key, rec.ResponsePayload)
	return res, true, nil
}

func (s *ReservationService) fillCache(ctx context.Context, key string, raw []byte) {
	if s.cache == nil || len(raw) == 0 {
		return
	}
	if err := s.cache.Put(ctx, key, raw); err != nil {
		s.logger.WarnContext(ctx, "idempotency cache write failed", "idempotency_key", key, "error", err)
	}
}

func replayed(raw []byte) (reservation.Result, error) {
	p, err := reservation.DecodePayload(raw)
	if err != nil {
		return reservation.Result{}, err
	}
	return reservation.Result{Payload: p, Raw: raw, Replayed: true}, nil
}

func reservationOutcome(res reservation.Result, err error) string {
	switch {
	case err == nil && res.Replayed:
		return "replayed"
	case err == nil:
		return "reserved"
	case errors.Is(err, domain.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, domain.ErrProductNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrInvalidRequest):
		return "invalid"
	case errors.Is(err, domain.ErrNotReady):
		return "not_ready"
	case errors.Is(err, domain.ErrLockConflict):
		return "lock_conflict"
	default:
		return "error"
	}
}
