package httpx

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/jcmexdev/inventory-sagas/internal/order-service/adapters/httpx/middlewares"
	"github.com/jcmexdev/inventory-sagas/internal/pkg/metrics"
)

func NewRouter(handler *Handler, m *metrics.Metrics) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middlewares.AttachTracingMetadata)
	r.Use(middleware.Logger)
	r.Use(m.Middleware(routePattern))
	r.Use(middleware.Recoverer)

	r.Post("/orders", handler.CreateOrder)
	r.Get("/orders", handler.ListOrders)
	r.Get("/orders/pending", handler.ListPending)
	r.Post("/orders/reconcile", handler.Reconcile)
	r.Get("/orders/{id}", handler.GetOrderByID)
	r.Get("/orders/{id}/attempts", handler.ListAttempts)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", metrics.Handler())
	return r
}

func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		return rc.RoutePattern()
	}
	return ""
}
