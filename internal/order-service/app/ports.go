// Package app holds the order lifecycle: the orchestrator that places orders
// and the reconciler that drains the ones left PENDING.
package app

import (
	"context"
	"time"

	"github.com/jcmexdev/inventory-sagas/internal/order-service/domain"
	"github.com/jcmexdev/inventory-sagas/internal/pkg/reservation"
)

type OrderRepository interface {
	Create(ctx context.Context, o domain.Order) error
	Get(ctx context.Context, id string) (domain.Order, error)
	List(ctx context.Context) ([]domain.Order, error)
	ListPending(ctx context.Context, olderThan time.Time, limit int) ([]domain.Order, error)
	// TransitionStatus returns domain.ErrStatusConflict when the order is no
	// longer in from.
	TransitionStatus(ctx context.Context, id string, from, to domain.OrderStatus, at time.Time) error
	DeleteIfStatus(ctx context.Context, id string, status domain.OrderStatus) error
}

type AttemptRepository interface {
	SaveAttempt(ctx context.Context, a domain.ReservationAttempt) error
	ListAttempts(ctx context.Context, orderID string) ([]domain.ReservationAttempt, error)
}

// Reserver is the retry client.
type Reserver interface {
	ReserveWithRetry(ctx context.Context, req reservation.Request) (reservation.Result, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, key string, payload any) error
}

// Lease guards a reconcile tick across replicas.
type Lease interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}
