package inventory

import (
	"context"
	"fmt"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/jcmexdev/inventory-sagas/internal/pkg/faults"
	"github.com/jcmexdev/inventory-sagas/internal/pkg/grpcjson"
	"github.com/jcmexdev/inventory-sagas/internal/pkg/interceptors"
	"github.com/jcmexdev/inventory-sagas/internal/pkg/interceptors/constants"
	"github.com/jcmexdev/inventory-sagas/internal/pkg/reservation"
)

// NewGRPCConn dials the inventory gRPC edge with tracing and the JSON codec
// wired in.
func NewGRPCConn(addr string, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
		grpc.WithUnaryInterceptor(interceptors.PropagateClientInterceptor()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(grpcjson.Name)),
	}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("could not connect to %s: %w", addr, err)
	}
	return conn, nil
}

// GRPCClient performs single reservation calls over inventory.v1.Inventory/Reserve.
type GRPCClient struct {
	conn     grpc.ClientConnInterface
	injector faults.Injector
}

func NewGRPCClient(conn grpc.ClientConnInterface, inj faults.Injector) *GRPCClient {
	return &GRPCClient{conn: conn, injector: inj}
}

func (c *GRPCClient) Reserve(ctx context.Context, req reservation.Request) (reservation.Result, error) {
	fault, err := applyFault(ctx, c.injector, req)
	if err != nil {
		return reservation.Result{}, err
	}

	ctx = interceptors.WithIdempotencyKey(ctx, req.IdempotencyKey)
	if req.OrderID != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, reservation.HeaderOrderID, req.OrderID)
	}
	if fault.CrashAfterCommit {
		ctx = metadata.AppendToOutgoingContext(ctx, constants.HeaderXSimulateCrash, "true")
	}

	var (
		reply  reservation.ReserveReply
		header metadata.MD
	)
	err = c.conn.Invoke(ctx, reservation.GRPCReserveMethod, &req, &reply,
		grpc.CallContentSubtype(grpcjson.Name),
		grpc.Header(&header),
	)
	if err != nil {
		return reservation.Result{}, fromStatus(err)
	}

	payload, err := reservation.DecodePayload(reply.Payload)
	if err != nil {
		return reservation.Result{}, fmt.Errorf("%w: %w", reservation.ErrTransient, err)
	}
	return reservation.Result{
		Payload:  payload,
		Raw:      []byte(reply.Payload),
		Replayed: reply.Replayed || len(header.Get(reservation.HeaderIdempotentReplay)) > 0,
	}, nil
}

func fromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("%w: %w", reservation.ErrTransient, err)
	}
	switch st.Code() {
	case codes.InvalidArgument:
		return fmt.Errorf("%w: %s", reservation.ErrInvalid, st.Message())
	case codes.NotFound:
		return fmt.Errorf("%w: %s", reservation.ErrNotFound, st.Message())
	case codes.FailedPrecondition:
		return fmt.Errorf("%w: %s", reservation.ErrInsufficientStock, st.Message())
	case codes.DeadlineExceeded:
		return fmt.Errorf("%w: %w", reservation.ErrTransient, context.DeadlineExceeded)
	case codes.Canceled:
		return context.Canceled
	}
	return fmt.Errorf("%w: %s: %s", reservation.ErrTransient, st.Code(), st.Message())
}
