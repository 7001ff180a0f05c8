package domain

import "time"

const (
	SourceOrchestrator = "orchestrator"
	SourceReconciler   = "reconciler"
)

// OrderStatusChanged is published after every committed status change.
// From is empty when the order was just created.
type OrderStatusChanged struct {
	OrderID        string      `json:"orderId"`
	ProductID      string      `json:"productId"`
	Quantity       int         `json:"quantity"`
	From           OrderStatus `json:"from,omitempty"`
	To             OrderStatus `json:"to"`
	IdempotencyKey string      `json:"idempotencyKey"`
	Source         string      `json:"source"`
	OccurredAt     time.Time   `json:"occurredAt"`
}
