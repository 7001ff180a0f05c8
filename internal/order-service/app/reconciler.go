package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jcmexdev/inventory-sagas/internal/order-service/domain"
	"github.com/jcmexdev/inventory-sagas/internal/pkg/clock"
	"github.com/jcmexdev/inventory-sagas/internal/pkg/metrics"
	"github.com/jcmexdev/inventory-sagas/internal/pkg/reservation"
)

// KeyPolicy decides which idempotency key a reconcile pass presents.
type KeyPolicy string

const (
	// KeyPolicyStable replays the key persisted at intake, so an attempt
	// that committed on the inventory side is answered from its log.
	KeyPolicyStable KeyPolicy = "stable"
	// KeyPolicyFresh mints a new key per pass. A reservation that committed
	// without an acknowledgement will be applied a second time.
	KeyPolicyFresh KeyPolicy = "fresh"
)

func ParseKeyPolicy(s string) (KeyPolicy, error) {
	switch KeyPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", KeyPolicyStable:
		return KeyPolicyStable, nil
	case KeyPolicyFresh:
		return KeyPolicyFresh, nil
	}
	return "", fmt.Errorf("unknown reconcile key policy %q", s)
}

const (
	DefaultReconcileInterval = 30 * time.Second
	DefaultReconcileBatch    = 100
)

var ErrTickInProgress = errors.New("reconcile tick already running")

type ReconcilerConfig struct {
	Interval time.Duration
	// MinAge keeps the reconciler away from orders the orchestrator may
	// still be retrying. Set it to at least the retry policy's worst case.
	MinAge            time.Duration
	BatchSize         int
	KeyPolicy         KeyPolicy
	PersistOutOfStock bool
}

// TickReport summarises one reconcile pass.
type TickReport struct {
	Examined     int `json:"examined"`
	Processed    int `json:"processed"`
	OutOfStock   int `json:"outOfStock"`
	Failed       int `json:"failed"`
	StillPending int `json:"stillPending"`
	Conflicts    int `json:"conflicts"`
}

type Reconciler struct {
	settler
	reserver Reserver
	cfg      ReconcilerConfig
	lease    Lease
	newKey   func() string
	tracer   trace.Tracer

	running atomic.Bool
	skipped atomic.Int64
	wg      sync.WaitGroup
}

type ReconcilerOption func(*Reconciler)

func WithLease(l Lease) ReconcilerOption {
	return func(r *Reconciler) { r.lease = l }
}

func WithReconcilerPublisher(p EventPublisher) ReconcilerOption {
	return func(r *Reconciler) { r.publisher = p }
}

func WithReconcilerLogger(l *slog.Logger) ReconcilerOption {
	return func(r *Reconciler) {
		if l != nil {
			r.logger = l
		}
	}
}

func WithReconcilerMetrics(m *metrics.Metrics) ReconcilerOption {
	return func(r *Reconciler) { r.metrics = m }
}

func WithKeyGenerator(fn func() string) ReconcilerOption {
	return func(r *Reconciler) {
		if fn != nil {
			r.newKey = fn
		}
	}
}

func NewReconciler(repo OrderRepository, reserver Reserver, clk clock.Clock, cfg ReconcilerConfig, opts ...ReconcilerOption) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultReconcileInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultReconcileBatch
	}
	if cfg.MinAge < 0 {
		cfg.MinAge = 0
	}
	if cfg.KeyPolicy == "" {
		cfg.KeyPolicy = KeyPolicyStable
	}
	r := &Reconciler{
		settler: settler{
			repo:              repo,
			clock:             clk,
			logger:            slog.Default(),
			persistOutOfStock: cfg.PersistOutOfStock,
		},
		reserver: reserver,
		cfg:      cfg,
		newKey:   uuid.NewString,
		tracer:   otel.Tracer("order-service"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Reconciler) Config() ReconcilerConfig {
	return r.cfg
}

// Skipped reports how many ticks were dropped because one was already running.
func (r *Reconciler) Skipped() int64 {
	return r.skipped.Load()
}

// Run fires a tick every interval until ctx ends, then waits for the
// in-flight tick. A tick that comes due while the previous one is still
// running is skipped, not queued.
func (r *Reconciler) Run(ctx context.Context) error {
	if r.cfg.KeyPolicy == KeyPolicyFresh {
		r.logger.WarnContext(ctx, "reconciler mints a fresh idempotency key per pass; an unacknowledged reservation can be applied twice")
	}
	r.logger.InfoContext(ctx, "reconciler started",
		"interval", r.cfg.Interval,
		"min_age", r.cfg.MinAge,
		"batch_size", r.cfg.BatchSize,
		"key_policy", r.cfg.KeyPolicy,
	)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	defer r.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if !r.running.CompareAndSwap(false, true) {
				r.skip(ctx)
				continue
			}
			r.wg.Add(1)
			go func() {
				defer r.wg.Done()
				defer r.running.Store(false)
				if _, err := r.tick(ctx); err != nil && !errors.Is(err, context.Canceled) {
					r.logger.ErrorContext(ctx, "reconcile tick failed", "error", err)
				}
			}()
		}
	}
}

// TickOnce runs a single pass now. It returns ErrTickInProgress instead of
// waiting when another pass is running.
func (r *Reconciler) TickOnce(ctx context.Context) (TickReport, error) {
	if !r.running.CompareAndSwap(false, true) {
		r.skip(ctx)
		return TickReport{}, ErrTickInProgress
	}
	defer r.running.Store(false)
	return r.tick(ctx)
}

func (r *Reconciler) skip(ctx context.Context) {
	r.skipped.Add(1)
	r.metrics.ObserveTick("skipped", 0)
	r.logger.DebugContext(ctx, "reconcile tick skipped, previous tick still running")
}

func (r *Reconciler) tick(ctx context.Context) (TickReport, error) {
	if r.lease != nil {
		ok, err := r.lease.Acquire(ctx)
		if err != nil {
			r.metrics.ObserveTick("error", 0)
			return TickReport{}, err
		}
		if !ok {
			r.metrics.ObserveTick("lease_held", 0)
			return TickReport{}, nil
		}
		defer func() {
			if err := r.lease.Release(context.WithoutCancel(ctx)); err != nil {
				r.logger.WarnContext(ctx, "failed to release reconcile lease", "error", err)
			}
		}()
	}

	start := time.Now()
	ctx, span := r.tracer.Start(ctx, "reconcile.tick")
	defer span.End()

	orders, err := r.repo.ListPending(ctx, r.clock.Now().Add(-r.cfg.MinAge), r.cfg.BatchSize)
	if err != nil {
		r.metrics.ObserveTick("error", time.Since(start))
		return TickReport{}, fmt.Errorf("list pending orders: %w", err)
	}

	var report TickReport
	for _, o := range orders {
		if ctx.Err() != nil {
			break
		}
		report.Examined++
		r.reconcile(ctx, o, &report)
	}

	span.SetAttributes(
		attribute.Int("reconcile.examined", report.Examined),
		attribute.Int("reconcile.processed", report.Processed),
		attribute.Int("reconcile.still_pending", report.StillPending),
	)
	r.metrics.ObserveTick("ran", time.Since(start))
	if report.Examined > 0 {
		r.logger.InfoContext(ctx, "reconcile tick finished",
			"examined", report.Examined,
			"processed", report.Processed,
			"out_of_stock", report.OutOfStock,
			"failed", report.Failed,
			"still_pending", report.StillPending,
			"conflicts", report.Conflicts,
		)
	}
	return report, ctx.Err()
}

func (r *Reconciler) reconcile(ctx context.Context, o domain.Order, report *TickReport) {
	key := o.IdempotencyKey
	if r.cfg.KeyPolicy == KeyPolicyFresh {
		key = r.newKey()
	}

	_, err := r.reserver.ReserveWithRetry(ctx, reservation.Request{
		ProductID:      o.ProductID,
		Quantity:       o.Quantity,
		IdempotencyKey: key,
		OrderID:        o.ID,
	})
	outcome := classify(err)
	if outcome == OutcomePending {
		report.StillPending++
		r.logger.WarnContext(ctx, "order still pending after reconcile",
			"order_id", o.ID,
			"idempotency_key", key,
			"error", err,
		)
		return
	}

	if err := r.settle(ctx, o, outcome, domain.SourceReconciler); err != nil {
		if errors.Is(err, domain.ErrStatusConflict) || errors.Is(err, domain.ErrOrderNotFound) {
			report.Conflicts++
			r.logger.InfoContext(ctx, "order moved by someone else, skipping", "order_id", o.ID)
			return
		}
		report.StillPending++
		r.logger.ErrorContext(ctx, "failed to settle reconciled order", "order_id", o.ID, "outcome", outcome, "error", err)
		return
	}

	switch outcome {
	case OutcomeProcessed:
		report.Processed++
	case OutcomeOutOfStock:
		report.OutOfStock++
	case OutcomeFailed:
		report.Failed++
	}
}
