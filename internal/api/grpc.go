package api

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"meridian/pkg/meridian"
)

// backtestServer is the handler type of the backtest service.
type backtestServer interface {
	Run(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

var backtestServiceDesc = grpc.ServiceDesc{
	ServiceName: meridian.BacktestServiceName,
	HandlerType: (*backtestServer)(nil),
	Methods: []grpc.MethodDesc{{
		MethodName: "Run",
		Handler:    runHandler,
	}},
	Metadata: "meridian/backtest",
}

func runHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := &structpb.Struct{}
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(backtestServer).Run(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: meridian.BacktestRunMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(backtestServer).Run(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// BacktestService exposes batch backtests over gRPC.
type BacktestService struct {
	srv *Server
}

// Run decodes a meridian.BacktestRequest, runs it and returns a
// meridian.BacktestResponse.
func (b *BacktestService) Run(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req meridian.BacktestRequest
	if err := meridian.DecodeStruct(in, &req); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "decoding request: %v", err)
	}
	resp, err := b.srv.runBacktest(ctx, req)
	if err != nil {
		var bad *badRequestError
		if errors.As(err, &bad) {
			return nil, status.Error(codes.InvalidArgument, bad.Error())
		}
		if errors.Is(err, errUnavailable) {
			return nil, status.Error(codes.Unavailable, err.Error())
		}
		return nil, status.Error(codes.Internal, err.Error())
	}
	out, err := meridian.EncodeStruct(resp)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encoding response: %v", err)
	}
	return out, nil
}
