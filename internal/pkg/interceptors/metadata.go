package interceptors

import (
	"context"

	"google.golang.org/grpc/metadata"

	"github.com/jcmexdev/inventory-sagas/internal/pkg/interceptors/constants"
)

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, constants.ContextKeyRequestID, id)
}

func WithIdempotencyKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, constants.ContextKeyIdempotencyKey, key)
}

func RequestIDFromContext(ctx context.Context) string {
	return valueFromContext(ctx, constants.ContextKeyRequestID, constants.HeaderXRequestId)
}

func IdempotencyKeyFromContext(ctx context.Context) string {
	return valueFromContext(ctx, constants.ContextKeyIdempotencyKey, constants.HeaderXIdempotencyKey)
}

// valueFromContext checks the typed context value first, then incoming and
// outgoing gRPC metadata.
func valueFromContext(ctx context.Context, key any, header string) string {
	if v, ok := ctx.Value(key).(string); ok && v != "" {
		return v
	}
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if ids := md.Get(header); len(ids) > 0 {
			return ids[0]
		}
	}
	if md, ok := metadata.FromOutgoingContext(ctx); ok {
		if ids := md.Get(header); len(ids) > 0 {
			return ids[0]
		}
	}
	return ""
}
