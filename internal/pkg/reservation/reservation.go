// Package reservation is the wire contract between the order service and the
// inventory service's reservation endpoint. Both sides import it so that the
// stored response payload, the request shape and the error kinds agree.
package reservation

import (
	"encoding/json"
	"errors"
	"fmt"
)

const (
	HeaderIdempotentReplay = "Idempotent-Replay"
	HeaderOrderID          = "X-Order-Id"

	// QuerySimulateCrash asks the inventory service to drop the connection
	// after committing. Honoured only when the server allows it.
	QuerySimulateCrash = "simulate_crash"

	MessageReserved          = "Stock reserved"
	MessageInsufficientStock = "Insufficient stock"
)

// Error kinds shared by both services. Terminal kinds are never retried.
var (
	ErrInvalid           = errors.New("invalid reservation request")
	ErrNotFound          = errors.New("product not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrTransient         = errors.New("transient reservation failure")
	ErrRetriesExhausted  = errors.New("reservation retries exhausted")
)

// Request asks for Quantity units of ProductID under IdempotencyKey. OrderID
// only travels for log correlation; the inventory service ignores it.
type Request struct {
	ProductID      string `json:"productId"`
	Quantity       int    `json:"quantity"`
	IdempotencyKey string `json:"idempotencyKey"`
	OrderID        string `json:"-"`
}

func (r Request) Validate() error {
	switch {
	case r.ProductID == "":
		return fmt.Errorf("%w: productId is required", ErrInvalid)
	case r.Quantity <= 0:
		return fmt.Errorf("%w: quantity must be positive", ErrInvalid)
	case r.IdempotencyKey == "":
		return fmt.Errorf("%w: idempotencyKey is required", ErrInvalid)
	}
	return nil
}

// Payload is the response stored in the idempotency log on the first
// successful attempt and returned verbatim to every later caller.
type Payload struct {
	Success          bool   `json:"success"`
	Message          string `json:"message"`
	ProductID        string `json:"productId"`
	ReservedQuantity int    `json:"reservedQuantity"`
	RemainingStock   int    `json:"remainingStock"`
}

func (p Payload) Encode() ([]byte, error) {
	return json.Marshal(p)
}

func DecodePayload(raw []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Payload{}, fmt.Errorf("decode reservation payload: %w", err)
	}
	return p, nil
}

// Result is what a caller of the reservation endpoint observes. Raw holds the
// exact stored bytes; Replayed is true when the key had already been applied.
type Result struct {
	Payload  Payload
	Raw      []byte
	Replayed bool
}

// Applied reports whether this call performed the decrement.
func (r Result) Applied() bool {
	return !r.Replayed
}

// IsTerminal reports whether err is a definitive outcome that must not be retried.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrInvalid) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInsufficientStock)
}

// gRPC surface of the reservation endpoint. Messages are the JSON-tagged Go
// types above, carried with the grpcjson codec.
const (
	GRPCServiceName   = "inventory.v1.Inventory"
	GRPCReserveMethod = "/inventory.v1.Inventory/Reserve"
)

// ReserveReply carries the stored payload bytes untouched.
type ReserveReply struct {
	Payload  json.RawMessage `json:"payload"`
	Replayed bool            `json:"replayed"`
}
