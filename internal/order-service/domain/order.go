package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/jcmexdev/inventory-sagas/internal/pkg/reservation"
)

type Order struct {
	ID             string
	ProductID      string
	Quantity       int
	Status         OrderStatus
	IdempotencyKey string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Validate checks the fields a caller supplies when placing an order.
func (o Order) Validate() error {
	if o.ProductID == "" {
		return fmt.Errorf("%w: productId is required", ErrInvalidOrder)
	}
	if o.Quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive", ErrInvalidOrder)
	}
	return nil
}

type OrderStatus string

// PENDING is both the intake state and the parked state the reconciler
// drains. Every other status is final.
const (
	StatusPending    OrderStatus = "PENDING"
	StatusProcessed  OrderStatus = "PROCESSED"
	StatusOutOfStock OrderStatus = "OUT_OF_STOCK"
	StatusFailed     OrderStatus = "FAILED"
)

func (s OrderStatus) IsFinal() bool {
	switch s {
	case StatusProcessed, StatusOutOfStock, StatusFailed:
		return true
	}
	return false
}

// CanTransitionTo reports whether s -> next is a legal lifecycle move.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	return s == StatusPending && next.IsFinal()
}

var (
	// ErrInvalidOrder matches reservation.ErrInvalid so both layers classify
	// a bad request the same way.
	ErrInvalidOrder  = reservation.ErrInvalid
	ErrOrderNotFound = errors.New("order not found")
	// ErrStatusConflict means a guarded update found the order in another
	// status; someone else already moved it.
	ErrStatusConflict = errors.New("order status changed concurrently")
)
