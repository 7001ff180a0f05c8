package interceptors

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/jcmexdev/inventory-sagas/internal/pkg/interceptors/constants"
)

// TraceServerInterceptor copies the request id and idempotency key from the
// incoming metadata into the context and logs every call with its outcome.
func TraceServerInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	if logger == nil {
		logger = slog.Default()
	}
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		requestID := ""
		idempotencyKey := ""
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if ids := md.Get(constants.HeaderXRequestId); len(ids) > 0 {
				requestID = ids[0]
			}
			if ids := md.Get(constants.HeaderXIdempotencyKey); len(ids) > 0 {
				idempotencyKey = ids[0]
			}
		}
		ctx = WithRequestID(ctx, requestID)
		ctx = WithIdempotencyKey(ctx, idempotencyKey)

		start := time.Now()
		resp, err := handler(ctx, req)

		logger.InfoContext(ctx, "grpc call",
			"method", info.FullMethod,
			"request_id", requestID,
			"idempotency_key", idempotencyKey,
			"code", status.Code(err).String(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return resp, err
	}
}

// PropagateClientInterceptor forwards the request id and idempotency key held
// in the context as outgoing metadata.
func PropagateClientInterceptor() grpc.UnaryClientInterceptor {
	return func(
		ctx context.Context,
		method string,
		req, reply interface{},
		cc *grpc.ClientConn,
		invoker grpc.UnaryInvoker,
		opts ...grpc.CallOption,
	) error {
		if id := RequestIDFromContext(ctx); id != "" {
			ctx = metadata.AppendToOutgoingContext(ctx, constants.HeaderXRequestId, id)
		}
		if key, ok := ctx.Value(constants.ContextKeyIdempotencyKey).(string); ok && key != "" {
			ctx = metadata.AppendToOutgoingContext(ctx, constants.HeaderXIdempotencyKey, key)
		}
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}
