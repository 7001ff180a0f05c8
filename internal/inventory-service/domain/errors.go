package domain

import (
	"errors"

	"github.com/jcmexdev/inventory-sagas/internal/pkg/readiness"
	"github.com/jcmexdev/inventory-sagas/internal/pkg/reservation"
)

var (
	ErrInvalidRequest    = reservation.ErrInvalid
	ErrProductNotFound   = reservation.ErrNotFound
	ErrInsufficientStock = reservation.ErrInsufficientStock
	ErrNotReady          = readiness.ErrNotReady

	ErrProductExists       = errors.New("product already exists")
	ErrIdempotencyConflict = errors.New("idempotency key already recorded")
	// ErrLockConflict is a serialization failure or deadlock reported by the
	// database. The transaction was rolled back and may be retried.
	ErrLockConflict = errors.New("stock row lock conflict")
)
