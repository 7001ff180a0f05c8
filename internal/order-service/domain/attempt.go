package domain

import "time"

// ReservationAttempt is one row of the append-only attempt log written for
// every call the retry client makes on behalf of an order.
type ReservationAttempt struct {
	OrderID        string
	Attempt        int
	IdempotencyKey string
	Outcome        string
	Error          string
	TraceID        string
	SpanID         string
	CreatedAt      time.Time
}
