package inventory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/jcmexdev/inventory-sagas/internal/pkg/clock"
	"github.com/jcmexdev/inventory-sagas/internal/pkg/faults"
	"github.com/jcmexdev/inventory-sagas/internal/pkg/reservation"
)

const reservePath = "/inventory/reserve"

// HTTPClient performs single reservation calls against POST /inventory/reserve.
// It sets no timeout of its own; every call is bounded by the context the
// retry client hands in.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	injector   faults.Injector
	tracer     trace.Tracer
}

type HTTPOption func(*HTTPClient)

func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTPClient) {
		if c != nil {
			h.httpClient = c
		}
	}
}

func WithHTTPFaults(inj faults.Injector) HTTPOption {
	return func(h *HTTPClient) { h.injector = inj }
}

func NewHTTPClient(baseURL string, opts ...HTTPOption) *HTTPClient {
	h := &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 100,
			},
		},
		tracer: otel.Tracer("inventory-http-client"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (c *HTTPClient) Reserve(ctx context.Context, req reservation.Request) (reservation.Result, error) {
	fault, err := applyFault(ctx, c.injector, req)
	if err != nil {
		return reservation.Result{}, err
	}

	target, err := url.Parse(c.baseURL + reservePath)
	if err != nil {
		return reservation.Result{}, fmt.Errorf("inventory url: %w", err)
	}
	if fault.CrashAfterCommit {
		q := target.Query()
		q.Set(reservation.QuerySimulateCrash, "true")
		target.RawQuery = q.Encode()
	}

	ctx, span := c.tracer.Start(ctx, "call-inventory", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("http.url", target.String()),
		attribute.String("http.method", http.MethodPost),
	)

	body, err := json.Marshal(req)
	if err != nil {
		return reservation.Result{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), bytes.NewReader(body))
	if err != nil {
		return reservation.Result{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.OrderID != "" {
		httpReq.Header.Set(reservation.HeaderOrderID, req.OrderID)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(httpReq.Header))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return reservation.Result{}, fmt.Errorf("%w: %w", reservation.ErrTransient, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		span.RecordError(err)
		return reservation.Result{}, fmt.Errorf("%w: read response: %w", reservation.ErrTransient, err)
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode == http.StatusOK {
		payload, err := reservation.DecodePayload(raw)
		if err != nil {
			return reservation.Result{}, fmt.Errorf("%w: %w", reservation.ErrTransient, err)
		}
		return reservation.Result{
			Payload:  payload,
			Raw:      raw,
			Replayed: resp.Header.Get(reservation.HeaderIdempotentReplay) == "true",
		}, nil
	}

	err = statusError(resp.StatusCode, raw)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return reservation.Result{}, err
}

// statusError maps a non-200 answer to a reservation error kind. Anything
// that is not a definitive inventory answer is transient.
func statusError(code int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	switch code {
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", reservation.ErrInvalid, msg)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", reservation.ErrNotFound, msg)
	case http.StatusConflict:
		return fmt.Errorf("%w: %s", reservation.ErrInsufficientStock, msg)
	}
	return fmt.Errorf("%w: inventory returned %d: %s", reservation.ErrTransient, code, msg)
}

func sleep(ctx context.Context, d time.Duration) error {
	return clock.NewSystem().Sleep(ctx, d)
}
