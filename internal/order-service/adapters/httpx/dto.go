package httpx

type CreateOrderRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// CreateOrderResponse is the body of every POST /orders answer that is not an
// error. Which fields are set depends on the outcome.
type CreateOrderResponse struct {
	Success        bool   `json:"success"`
	Pending        bool   `json:"pending,omitempty"`
	Message        string `json:"message,omitempty"`
	OrderID        string `json:"orderId,omitempty"`
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
}

type OrderResponse struct {
	ID             string `json:"id"`
	ProductID      string `json:"productId"`
	Quantity       int    `json:"quantity"`
	Status         string `json:"status"`
	IdempotencyKey string `json:"idempotencyKey"`
	CreatedAt      string `json:"createdAt"`
	UpdatedAt      string `json:"updatedAt"`
}

type AttemptResponse struct {
	Attempt        int    `json:"attempt"`
	IdempotencyKey string `json:"idempotencyKey"`
	Outcome        string `json:"outcome"`
	Error          string `json:"error,omitempty"`
	TraceID        string `json:"traceId,omitempty"`
	SpanID         string `json:"spanId,omitempty"`
	CreatedAt      string `json:"createdAt"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
