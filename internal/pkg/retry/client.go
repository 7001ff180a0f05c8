// Package retry wraps calls to the inventory reservation endpoint with a
// bounded, deterministic retry policy. The same Client is used by the order
// orchestrator and by the reconciliation worker so the policy has a single
// implementation.
//
// The loop is explicit: every attempt ends in exactly one of success,
// terminal error, caller cancellation or a transient failure that is retried
// after a fixed backoff. Nothing is persisted here.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jcmexdev/inventory-sagas/internal/pkg/clock"
	"github.com/jcmexdev/inventory-sagas/internal/pkg/metrics"
	"github.com/jcmexdev/inventory-sagas/internal/pkg/reservation"
)

const (
	DefaultMaxAttempts = 10
	DefaultCallTimeout = 3 * time.Second
	DefaultBackoff     = time.Second
)

// Reserver performs a single reservation call against the inventory service.
// Implementations return reservation.ErrNotFound, ErrInsufficientStock or
// ErrInvalid (possibly wrapped) for terminal outcomes; anything else is
// treated as transient.
type Reserver interface {
	Reserve(ctx context.Context, req reservation.Request) (reservation.Result, error)
}

// Policy bounds the retry loop. Worst-case latency is
// MaxAttempts × (CallTimeout + Backoff).
type Policy struct {
	MaxAttempts int
	CallTimeout time.Duration
	Backoff     time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		CallTimeout: DefaultCallTimeout,
		Backoff:     DefaultBackoff,
	}
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.CallTimeout <= 0 {
		p.CallTimeout = DefaultCallTimeout
	}
	if p.Backoff < 0 {
		p.Backoff = 0
	}
	return p
}

// WorstCase is the longest a single ReserveWithRetry call can take before it
// reports exhaustion.
func (p Policy) WorstCase() time.Duration {
	p = p.normalized()
	return time.Duration(p.MaxAttempts) * (p.CallTimeout + p.Backoff)
}

// Attempt describes one finished call made by the loop.
type Attempt struct {
	Number   int
	Request  reservation.Request
	Err      error
	Duration time.Duration
}

// Observer is notified after every attempt, successful or not.
type Observer interface {
	ObserveAttempt(ctx context.Context, a Attempt)
}

type ObserverFunc func(ctx context.Context, a Attempt)

func (f ObserverFunc) ObserveAttempt(ctx context.Context, a Attempt) { f(ctx, a) }

// ExhaustedError is returned once the attempt cap is reached. It matches
// reservation.ErrRetriesExhausted and the last transient error with errors.Is.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s after %d attempts: %v", reservation.ErrRetriesExhausted, e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() []error {
	return []error{reservation.ErrRetriesExhausted, e.Last}
}

type attemptKey struct{}

// ContextWithAttempt records the attempt number for transports that need it
// (fault injection keys off it).
func ContextWithAttempt(ctx context.Context, attempt int) context.Context {
	return context.WithValue(ctx, attemptKey{}, attempt)
}

// AttemptFrom returns the 1-based attempt number the retry loop stored in
// ctx, or 1 when the call was made outside the loop.
func AttemptFrom(ctx context.Context) int {
	if n, ok := ctx.Value(attemptKey{}).(int); ok && n > 0 {
		return n
	}
	return 1
}

type Client struct {
	transport Reserver
	policy    Policy
	sleeper   clock.Sleeper
	observers []Observer
	logger    *slog.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
}

type Option func(*Client)

// WithSleeper replaces the real-time sleeper, letting tests run the loop
// without waiting.
func WithSleeper(s clock.Sleeper) Option {
	return func(c *Client) {
		if s != nil {
			c.sleeper = s
		}
	}
}

func WithObserver(o Observer) Option {
	return func(c *Client) {
		if o != nil {
			c.observers = append(c.observers, o)
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

func NewClient(transport Reserver, policy Policy, opts ...Option) *Client {
	c := &Client{
		transport: transport,
		policy:    policy.normalized(),
		sleeper:   clock.NewSystem(),
		logger:    slog.Default(),
		tracer:    otel.Tracer("retry"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Policy() Policy {
	return c.policy
}

// ReserveWithRetry reserves stock under req.IdempotencyKey, retrying
// transient failures up to the policy cap with a fixed backoff. The key is
// never changed between attempts, so a retry after an unacknowledged success
// is answered from the inventory service's idempotency log.
func (c *Client) ReserveWithRetry(ctx context.Context, req reservation.Request) (reservation.Result, error) {
	if err := req.Validate(); err != nil {
		return reservation.Result{}, err
	}

	var lastErr error
	for attempt := 1; attempt <= c.policy.MaxAttempts; attempt++ {
		res, err := c.call(ctx, req, attempt)
		switch {
		case err == nil:
			return res, nil
		case reservation.IsTerminal(err):
			return reservation.Result{}, err
		case ctx.Err() != nil:
			return reservation.Result{}, ctx.Err()
		}
		lastErr = err

		if attempt == c.policy.MaxAttempts {
			break
		}
		c.logger.WarnContext(ctx, "reservation attempt failed, retrying",
			"order_id", req.OrderID,
			"idempotency_key", req.IdempotencyKey,
			"attempt", attempt,
			"max_attempts", c.policy.MaxAttempts,
			"backoff", c.policy.Backoff,
			"error", err,
		)
		if err := c.sleeper.Sleep(ctx, c.policy.Backoff); err != nil {
			return reservation.Result{}, err
		}
	}

	c.logger.ErrorContext(ctx, "reservation retries exhausted",
		"order_id", req.OrderID,
		"idempotency_key", req.IdempotencyKey,
		"attempts", c.policy.MaxAttempts,
		"error", lastErr,
	)
	return reservation.Result{}, &ExhaustedError{Attempts: c.policy.MaxAttempts, Last: lastErr}
}

func (c *Client) call(ctx context.Context, req reservation.Request, attempt int) (reservation.Result, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.policy.CallTimeout)
	defer cancel()
	callCtx = ContextWithAttempt(callCtx, attempt)

	callCtx, span := c.tracer.Start(callCtx, "retry.attempt", trace.WithAttributes(
		attribute.String("order.id", req.OrderID),
		attribute.String("reservation.idempotency_key", req.IdempotencyKey),
		attribute.Int("reservation.attempt", attempt),
	))
	defer span.End()

	start := time.Now()
	res, err := c.transport.Reserve(callCtx, req)
	if err != nil {
		err = classify(ctx, err, attempt, c.policy.CallTimeout)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	switch {
	case err == nil:
		c.metrics.ObserveAttempt("ok")
	case reservation.IsTerminal(err):
		c.metrics.ObserveAttempt("terminal")
	default:
		c.metrics.ObserveAttempt("transient")
	}

	a := Attempt{Number: attempt, Request: req, Err: err, Duration: time.Since(start)}
	for _, o := range c.observers {
		o.ObserveAttempt(ctx, a)
	}
	return res, err
}

// classify tags every non-terminal failure as transient so callers can rely on
// errors.Is(err, reservation.ErrTransient). Per-call deadlines are reported as
// timeouts; the caller's own cancellation is left untouched.
func classify(parent context.Context, err error, attempt int, timeout time.Duration) error {
	if reservation.IsTerminal(err) || errors.Is(err, reservation.ErrTransient) {
		return err
	}
	if parent.Err() != nil {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: attempt %d timed out after %s: %w", reservation.ErrTransient, attempt, timeout, err)
	}
	return fmt.Errorf("%w: %w", reservation.ErrTransient, err)
}
