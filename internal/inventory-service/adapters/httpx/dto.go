package httpx

type ReserveRequest struct {
	ProductID      string `json:"productId"`
	Quantity       int    `json:"quantity"`
	IdempotencyKey string `json:"idempotencyKey"`
}

type CreateProductRequest struct {
	ProductID string `json:"productId"`
	Quantity  *int   `json:"quantity"`
}

type CreateProductResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type StockItemResponse struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
	UpdatedAt string `json:"updatedAt"`
}

// ReserveFailure is the body of a 409 reservation response.
type ReserveFailure struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
