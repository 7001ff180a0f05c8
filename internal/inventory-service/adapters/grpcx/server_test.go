package grpcx

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/jcmexdev/inventory-sagas/internal/inventory-service/domain"
	"github.com/jcmexdev/inventory-sagas/internal/pkg/grpcjson"
	"github.com/jcmexdev/inventory-sagas/internal/pkg/interceptors"
	"github.com/jcmexdev/inventory-sagas/internal/pkg/interceptors/constants"
	"github.com/jcmexdev/inventory-sagas/internal/pkg/reservation"
)

type stubReserver struct {
	res     reservation.Result
	err     error
	lastReq reservation.Request
}

func (s *stubReserver) Reserve(_ context.Context, req reservation.Request) (reservation.Result, error) {
	s.lastReq = req
	return s.res, s.err
}

func dial(t *testing.T, svc Reserver, allowCrash bool) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(grpc.UnaryInterceptor(interceptors.TraceServerInterceptor(nil)))
	RegisterInventoryServer(srv, NewServer(svc, allowCrash, nil))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(grpcjson.Name)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

const stored = `{"success":true,"message":"Stock reserved","productId":"apple","reservedQuantity":5,"remainingStock":95}`

func TestReserveOverGRPC(t *testing.T) {
	svc := &stubReserver{res: reservation.Result{Raw: []byte(stored), Replayed: true}}
	conn := dial(t, svc, false)

	ctx := metadata.AppendToOutgoingContext(context.Background(), reservation.HeaderOrderID, "order-7")
	var header metadata.MD
	reply := new(reservation.ReserveReply)
	err := conn.Invoke(ctx, reservation.GRPCReserveMethod,
		&reservation.Request{ProductID: "apple", Quantity: 5, IdempotencyKey: "k1"}, reply, grpc.Header(&header))
	require.NoError(t, err)

	assert.Equal(t, stored, string(reply.Payload))
	assert.True(t, reply.Replayed)
	assert.Equal(t, []string{"true"}, header.Get(reservation.HeaderIdempotentReplay))
	assert.Equal(t, reservation.Request{ProductID: "apple", Quantity: 5, IdempotencyKey: "k1", OrderID: "order-7"}, svc.lastReq)
}

func TestReserveOverGRPC_StatusCodes(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code codes.Code
	}{
		{name: "invalid", err: domain.ErrInvalidRequest, code: codes.InvalidArgument},
		{name: "not found", err: domain.ErrProductNotFound, code: codes.NotFound},
		{name: "insufficient", err: domain.ErrInsufficientStock, code: codes.FailedPrecondition},
		{name: "not ready", err: domain.ErrNotReady, code: codes.Unavailable},
		{name: "lock conflict", err: domain.ErrLockConflict, code: codes.Unavailable},
		{name: "internal", err: assert.AnError, code: codes.Internal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := dial(t, &stubReserver{err: tt.err}, false)
			err := conn.Invoke(context.Background(), reservation.GRPCReserveMethod,
				&reservation.Request{ProductID: "apple", Quantity: 1, IdempotencyKey: "k"}, new(reservation.ReserveReply))
			assert.Equal(t, tt.code, status.Code(err))
		})
	}
}

func TestReserveOverGRPC_CrashAfterCommit(t *testing.T) {
	svc := &stubReserver{res: reservation.Result{Raw: []byte(stored)}}
	conn := dial(t, svc, true)

	ctx := metadata.AppendToOutgoingContext(context.Background(), constants.HeaderXSimulateCrash, "true")
	err := conn.Invoke(ctx, reservation.GRPCReserveMethod,
		&reservation.Request{ProductID: "apple", Quantity: 5, IdempotencyKey: "k1"}, new(reservation.ReserveReply))
	assert.Equal(t, codes.Unavailable, status.Code(err))
	assert.Equal(t, "k1", svc.lastReq.IdempotencyKey, "reservation ran before the failure")
}
