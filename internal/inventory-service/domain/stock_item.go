package domain

import "time"

// StockItem is one row of the stock ledger. Quantity never goes below zero.
type StockItem struct {
	ProductID string
	Quantity  int
	UpdatedAt time.Time
}

// IdempotencyRecord stores the response of the first successful reservation
// made under Key. It is written once, in the same transaction as the stock
// decrement, and never changed.
type IdempotencyRecord struct {
	Key             string
	ResponsePayload []byte
	CreatedAt       time.Time
}
