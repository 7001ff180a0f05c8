package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestContextHandler_AddsTraceIDs(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "order-service", slog.LevelInfo)

	tp := sdktrace.NewTracerProvider()
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	logger.With("order_id", "o-1").InfoContext(ctx, "order placed")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "order placed", rec["msg"])
	assert.Equal(t, "order-service", rec["service"])
	assert.Equal(t, "o-1", rec["order_id"])
	assert.Equal(t, span.SpanContext().TraceID().String(), rec["trace_id"])
	assert.Equal(t, span.SpanContext().SpanID().String(), rec["span_id"])

	info := ExtractTraceInfo(ctx)
	assert.Equal(t, rec["trace_id"], info.TraceID)
	assert.Equal(t, rec["span_id"], info.SpanID)
}

func TestContextHandler_WithoutSpan(t *testing.T) {
	var buf bytes.Buffer
	NewLogger(&buf, "inventory-service", slog.LevelInfo).Info("ready")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.NotContains(t, rec, "trace_id")
	assert.Equal(t, TraceInfo{}, ExtractTraceInfo(context.Background()))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warning"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel(""))
}

func TestStripScheme(t *testing.T) {
	assert.Equal(t, "otel-collector:4317", stripScheme("http://otel-collector:4317"))
	assert.Equal(t, "otel-collector:4317", stripScheme("https://otel-collector:4317"))
	assert.Equal(t, "localhost:4317", stripScheme("localhost:4317"))
}
