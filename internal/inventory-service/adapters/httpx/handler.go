package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/jcmexdev/inventory-sagas/internal/inventory-service/domain"
	"github.com/jcmexdev/inventory-sagas/internal/pkg/reservation"
)

// Service is the inventory use-case surface the HTTP edge needs.
type Service interface {
	Reserve(ctx context.Context, req reservation.Request) (reservation.Result, error)
	CreateProduct(ctx context.Context, productID string, quantity int) (domain.StockItem, error)
	ListStock(ctx context.Context) ([]domain.StockItem, error)
}

type Handler struct {
	service    Service
	allowCrash bool
	logger     *slog.Logger
}

type HandlerOption func(*Handler)

// WithCrashSimulation lets callers pass simulate_crash=true to have the
// connection dropped after a reservation commits.
func WithCrashSimulation(allow bool) HandlerOption {
	return func(h *Handler) { h.allowCrash = allow }
}

func WithLogger(l *slog.Logger) HandlerOption {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

func NewHandler(svc Service, opts ...HandlerOption) *Handler {
	h := &Handler{service: svc, logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Reserve answers with the stored payload bytes, so a replay is byte-for-byte
// the response of the first successful attempt.
func (h *Handler) Reserve(w http.ResponseWriter, r *http.Request) {
	var body ReserveRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	req := reservation.Request{
		ProductID:      body.ProductID,
		Quantity:       body.Quantity,
		IdempotencyKey: body.IdempotencyKey,
		OrderID:        r.Header.Get(reservation.HeaderOrderID),
	}
	res, err := h.service.Reserve(r.Context(), req)
	if err != nil {
		h.writeReserveError(w, r, req, err)
		return
	}

	if h.allowCrash && res.Applied() && crashRequested(r) {
		h.logger.WarnContext(r.Context(), "simulating crash after commit",
			"idempotency_key", req.IdempotencyKey,
			"request_id", middleware.GetReqID(r.Context()),
		)
		panic(http.ErrAbortHandler)
	}

	w.Header().Set("Content-Type", "application/json")
	if res.Replayed {
		w.Header().Set(reservation.HeaderIdempotentReplay, "true")
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res.Raw)
}

func (h *Handler) writeReserveError(w http.ResponseWriter, r *http.Request, req reservation.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, domain.ErrProductNotFound):
		writeError(w, http.StatusNotFound, "product_not_found", "Product not found")
	case errors.Is(err, domain.ErrInsufficientStock):
		writeJSON(w, http.StatusConflict, ReserveFailure{Success: false, Message: reservation.MessageInsufficientStock})
	case errors.Is(err, domain.ErrNotReady):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "not_ready", "inventory storage is not ready")
	case errors.Is(err, domain.ErrLockConflict):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "lock_conflict", "stock row is busy, retry")
	default:
		h.logger.ErrorContext(r.Context(), "reservation failed",
			"product_id", req.ProductID,
			"idempotency_key", req.IdempotencyKey,
			"error", err,
		)
		writeError(w, http.StatusInternalServerError, "internal_error", "Internal server error")
	}
}

func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var body CreateProductRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if body.ProductID == "" || body.Quantity == nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "productId and quantity are required")
		return
	}

	item, err := h.service.CreateProduct(r.Context(), body.ProductID, *body.Quantity)
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, CreateProductResponse{
			Success:   true,
			Message:   "Product added",
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
		})
	case errors.Is(err, domain.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, domain.ErrProductExists):
		writeError(w, http.StatusConflict, "product_exists", "Product already exists. Use /inventory/reserve to update stock.")
	case errors.Is(err, domain.ErrNotReady):
		writeError(w, http.StatusServiceUnavailable, "not_ready", "inventory storage is not ready")
	default:
		h.logger.ErrorContext(r.Context(), "create product failed", "product_id", body.ProductID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Internal server error")
	}
}

func (h *Handler) ListStock(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.ListStock(r.Context())
	if err != nil {
		if errors.Is(err, domain.ErrNotReady) {
			writeError(w, http.StatusServiceUnavailable, "not_ready", "inventory storage is not ready")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	out := make([]StockItemResponse, len(items))
	for i, it := range items {
		out[i] = StockItemResponse{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			UpdatedAt: it.UpdatedAt.UTC().Format(time.RFC3339),
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func crashRequested(r *http.Request) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get(reservation.QuerySimulateCrash))
	return err == nil && v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, ErrorResponse{
		Error:   code,
		Message: msg,
	})
}
