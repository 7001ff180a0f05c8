package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jcmexdev/inventory-sagas/internal/order-service/app"
	"github.com/jcmexdev/inventory-sagas/internal/order-service/domain"
	"github.com/jcmexdev/inventory-sagas/internal/pkg/interceptors"
	"github.com/jcmexdev/inventory-sagas/internal/pkg/reservation"
)

// OrderService is the orchestrator surface the HTTP edge needs.
type OrderService interface {
	PlaceOrder(ctx context.Context, in app.PlaceOrderInput) (app.PlaceOrderResult, error)
	GetOrder(ctx context.Context, id string) (domain.Order, error)
	ListOrders(ctx context.Context) ([]domain.Order, error)
	ListPending(ctx context.Context) ([]domain.Order, error)
}

type AttemptReader interface {
	Attempts(ctx context.Context, orderID string) ([]domain.ReservationAttempt, error)
}

type Reconciler interface {
	TickOnce(ctx context.Context) (app.TickReport, error)
}

type Handler struct {
	orders     OrderService
	attempts   AttemptReader
	reconciler Reconciler
	logger     *slog.Logger
}

// NewHandler wires the order endpoints. attempts and reconciler may be nil,
// in which case their routes answer 404 and 503 respectively.
func NewHandler(orders OrderService, attempts AttemptReader, reconciler Reconciler, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{orders: orders, attempts: attempts, reconciler: reconciler, logger: logger}
}

// CreateOrder places the order and answers once its outcome is known. An
// order the inventory could not be reached for is accepted as pending.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	h.logger.InfoContext(r.Context(), "creating order",
		"request_id", interceptors.RequestIDFromContext(r.Context()),
		"product_id", req.ProductID,
		"quantity", req.Quantity,
	)

	res, err := h.orders.PlaceOrder(r.Context(), app.PlaceOrderInput{ProductID: req.ProductID, Quantity: req.Quantity})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidOrder) {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to record order")
		return
	}

	switch res.Outcome {
	case app.OutcomeProcessed:
		writeJSON(w, http.StatusOK, CreateOrderResponse{
			Success:        true,
			OrderID:        res.Order.ID,
			IdempotencyKey: res.Order.IdempotencyKey,
		})
	case app.OutcomeOutOfStock:
		writeJSON(w, http.StatusConflict, CreateOrderResponse{Success: false, Message: "Out of Stock"})
	case app.OutcomePending:
		writeJSON(w, http.StatusAccepted, CreateOrderResponse{
			Success: false,
			Pending: true,
			OrderID: res.Order.ID,
			Message: "Inventory unavailable, order will be reconciled",
		})
	case app.OutcomeFailed:
		switch {
		case errors.Is(res.Reason, reservation.ErrNotFound):
			writeError(w, http.StatusNotFound, "product_not_found", "Product not found")
		case errors.Is(res.Reason, reservation.ErrInvalid):
			writeError(w, http.StatusBadRequest, "invalid_request", res.Reason.Error())
		default:
			writeError(w, http.StatusInternalServerError, "internal_error", "Order failed")
		}
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "Order failed")
	}
}

func (h *Handler) GetOrderByID(w http.ResponseWriter, r *http.Request) {
	order, ok := h.loadOrder(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, mapOrderToResponse(order))
}

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	h.writeOrders(w, r, h.orders.ListOrders)
}

func (h *Handler) ListPending(w http.ResponseWriter, r *http.Request) {
	h.writeOrders(w, r, h.orders.ListPending)
}

func (h *Handler) ListAttempts(w http.ResponseWriter, r *http.Request) {
	if h.attempts == nil {
		writeError(w, http.StatusNotFound, "attempts_disabled", "")
		return
	}
	order, ok := h.loadOrder(w, r)
	if !ok {
		return
	}
	attempts, err := h.attempts.Attempts(r.Context(), order.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	out := make([]AttemptResponse, len(attempts))
	for i, a := range attempts {
		out[i] = AttemptResponse{
			Attempt:        a.Attempt,
			IdempotencyKey: a.IdempotencyKey,
			Outcome:        a.Outcome,
			Error:          a.Error,
			TraceID:        a.TraceID,
			SpanID:         a.SpanID,
			CreatedAt:      formatTime(a.CreatedAt),
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// Reconcile runs one reconcile pass now and reports what it did.
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	if h.reconciler == nil {
		writeError(w, http.StatusServiceUnavailable, "reconciler_disabled", "")
		return
	}
	report, err := h.reconciler.TickOnce(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, report)
	case errors.Is(err, app.ErrTickInProgress):
		writeError(w, http.StatusConflict, "tick_in_progress", err.Error())
	default:
		h.logger.ErrorContext(r.Context(), "manual reconcile failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func (h *Handler) loadOrder(w http.ResponseWriter, r *http.Request) (domain.Order, bool) {
	orderID := chi.URLParam(r, "id")
	if orderID == "" {
		writeError(w, http.StatusBadRequest, "order_id_required", "")
		return domain.Order{}, false
	}
	order, err := h.orders.GetOrder(r.Context(), orderID)
	switch {
	case err == nil:
		return order, true
	case errors.Is(err, domain.ErrOrderNotFound):
		writeError(w, http.StatusNotFound, "order_not_found", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
	return domain.Order{}, false
}

func (h *Handler) writeOrders(w http.ResponseWriter, r *http.Request, list func(context.Context) ([]domain.Order, error)) {
	orders, err := list(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	out := make([]OrderResponse, len(orders))
	for i, o := range orders {
		out[i] = mapOrderToResponse(o)
	}
	writeJSON(w, http.StatusOK, out)
}

func mapOrderToResponse(o domain.Order) OrderResponse {
	return OrderResponse{
		ID:             o.ID,
		ProductID:      o.ProductID,
		Quantity:       o.Quantity,
		Status:         string(o.Status),
		IdempotencyKey: o.IdempotencyKey,
		CreatedAt:      formatTime(o.CreatedAt),
		UpdatedAt:      formatTime(o.UpdatedAt),
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
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
