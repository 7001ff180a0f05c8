package httpx

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/jcmexdev/inventory-sagas/internal/pkg/metrics"
)

// ReadinessFunc reports whether storage is usable.
type ReadinessFunc func() bool

func NewRouter(handler *Handler, m *metrics.Metrics, ready ReadinessFunc) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(m.Middleware(routePattern))
	r.Use(middleware.Recoverer)

	r.Post("/inventory/reserve", handler.Reserve)
	r.Post("/inventory", handler.CreateProduct)
	r.Get("/inventory", handler.ListStock)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if ready != nil && !ready() {
			writeError(w, http.StatusServiceUnavailable, "not_ready", "inventory storage is not ready")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
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
