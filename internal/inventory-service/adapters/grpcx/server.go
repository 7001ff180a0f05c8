// Package grpcx exposes the reservation endpoint over gRPC. There is no
// generated code: the service descriptor is written by hand and messages use
// the grpcjson codec.
package grpcx

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/jcmexdev/inventory-sagas/internal/inventory-service/domain"
	_ "github.com/jcmexdev/inventory-sagas/internal/pkg/grpcjson"
	"github.com/jcmexdev/inventory-sagas/internal/pkg/interceptors"
	"github.com/jcmexdev/inventory-sagas/internal/pkg/interceptors/constants"
	"github.com/jcmexdev/inventory-sagas/internal/pkg/reservation"
)

type Reserver interface {
	Reserve(ctx context.Context, req reservation.Request) (reservation.Result, error)
}

// InventoryServer is the server API for the inventory.v1.Inventory service.
type InventoryServer interface {
	Reserve(ctx context.Context, req *reservation.Request) (*reservation.ReserveReply, error)
}

type Server struct {
	service    Reserver
	allowCrash bool
	logger     *slog.Logger
}

func NewServer(svc Reserver, allowCrash bool, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{service: svc, allowCrash: allowCrash, logger: logger}
}

func (s *Server) Reserve(ctx context.Context, req *reservation.Request) (*reservation.ReserveReply, error) {
	r := *req
	r.OrderID = metadataValue(ctx, reservation.HeaderOrderID)
	if r.IdempotencyKey == "" {
		r.IdempotencyKey = interceptors.IdempotencyKeyFromContext(ctx)
	}

	res, err := s.service.Reserve(ctx, r)
	if err != nil {
		return nil, toStatus(err)
	}

	if s.allowCrash && res.Applied() && crashRequested(ctx) {
		s.logger.WarnContext(ctx, "simulating crash after commit", "idempotency_key", r.IdempotencyKey)
		return nil, status.Error(codes.Unavailable, "connection dropped after commit")
	}

	if res.Replayed {
		_ = grpc.SetHeader(ctx, metadata.Pairs(reservation.HeaderIdempotentReplay, "true"))
	}
	return &reservation.ReserveReply{Payload: res.Raw, Replayed: res.Replayed}, nil
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, domain.ErrProductNotFound):
		return status.Error(codes.NotFound, "Product not found")
	case errors.Is(err, domain.ErrInsufficientStock):
		return status.Error(codes.FailedPrecondition, reservation.MessageInsufficientStock)
	case errors.Is(err, domain.ErrNotReady), errors.Is(err, domain.ErrLockConflict):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	default:
		return status.Error(codes.Internal, "Internal server error")
	}
}

func crashRequested(ctx context.Context) bool {
	v, err := strconv.ParseBool(metadataValue(ctx, constants.HeaderXSimulateCrash))
	return err == nil && v
}

func metadataValue(ctx context.Context, key string) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if v := md.Get(key); len(v) > 0 {
		return v[0]
	}
	return ""
}

func RegisterInventoryServer(s grpc.ServiceRegistrar, srv InventoryServer) {
	s.RegisterService(&inventoryServiceDesc, srv)
}

func reserveHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(reservation.Request)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(InventoryServer).Reserve(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: reservation.GRPCReserveMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(InventoryServer).Reserve(ctx, req.(*reservation.Request))
	}
	return interceptor(ctx, in, info, handler)
}

var inventoryServiceDesc = grpc.ServiceDesc{
	ServiceName: reservation.GRPCServiceName,
	HandlerType: (*InventoryServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Reserve",
			Handler:    reserveHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "inventory/v1/inventory.json",
}
