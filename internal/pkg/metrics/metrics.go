package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "invsaga"

// Metrics groups the counters both services record. A nil *Metrics is valid
// and records nothing, which keeps unit tests free of registry plumbing.
type Metrics struct {
	Requests          *prometheus.CounterVec
	LatencyMS         *prometheus.HistogramVec
	Reservations      *prometheus.CounterVec
	ReserveAttempts   *prometheus.CounterVec
	OrderTransitions  *prometheus.CounterVec
	ReconcileTicks    *prometheus.CounterVec
	ReconcileDuration prometheus.Histogram
}

// New registers the service's collectors on reg. Pass prometheus.DefaultRegisterer
// in main and a fresh prometheus.NewRegistry() in tests.
func New(service string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: service,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"route", "status"}),
		LatencyMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: service,
			Name:      "http_request_duration_ms",
			Help:      "HTTP request latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		}, []string{"route"}),
		Reservations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: service,
			Name:      "reservations_total",
			Help:      "Reservation outcomes (reserved, replayed, insufficient_stock, not_found, invalid, not_ready, lock_conflict, error).",
		}, []string{"outcome"}),
		ReserveAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: service,
			Name:      "reserve_attempts_total",
			Help:      "Outbound reservation attempts made by the retry client, by result.",
		}, []string{"result"}),
		OrderTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: service,
			Name:      "order_transitions_total",
			Help:      "Order status transitions by origin and target status.",
		}, []string{"source", "to"}),
		ReconcileTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: service,
			Name:      "reconcile_ticks_total",
			Help:      "Reconciliation ticks by result (ran, skipped, lease_held, error).",
		}, []string{"result"}),
		ReconcileDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: service,
			Name:      "reconcile_tick_duration_seconds",
			Help:      "Duration of reconciliation ticks.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
	}
	reg.MustRegister(
		m.Requests,
		m.LatencyMS,
		m.Reservations,
		m.ReserveAttempts,
		m.OrderTransitions,
		m.ReconcileTicks,
		m.ReconcileDuration,
	)
	return m
}

func (m *Metrics) ObserveReservation(outcome string) {
	if m == nil {
		return
	}
	m.Reservations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveAttempt(result string) {
	if m == nil {
		return
	}
	m.ReserveAttempts.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveTransition(source, to string) {
	if m == nil {
		return
	}
	m.OrderTransitions.WithLabelValues(source, to).Inc()
}

func (m *Metrics) ObserveTick(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.ReconcileTicks.WithLabelValues(result).Inc()
	if result == "ran" {
		m.ReconcileDuration.Observe(d.Seconds())
	}
}

// Middleware counts requests per route pattern. routeOf extracts the pattern
// (chi's RouteContext in practice) after the request has been served.
func (m *Metrics) Middleware(routeOf func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if m == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			route := routeOf(r)
			if route == "" {
				route = "unmatched"
			}
			m.Requests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
			m.LatencyMS.WithLabelValues(route).Observe(float64(time.Since(start).Milliseconds()))
		})
	}
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
