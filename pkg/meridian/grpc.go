package meridian

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// gRPC service and method names. Requests and responses are
// google.protobuf.Struct messages carrying the JSON wire types.
const (
	BacktestServiceName = "meridian.BacktestService"
	StatusServiceName   = "meridian.StatusService"

	BacktestRunMethod  = "/" + BacktestServiceName + "/Run"
	StatusStreamMethod = "/" + StatusServiceName + "/Stream"
)

// EncodeStruct converts a JSON-serialisable value into a Struct message.
func EncodeStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding %T: %w", v, err)
	}
	s := &structpb.Struct{}
	if err := protojson.Unmarshal(b, s); err != nil {
		return nil, fmt.Errorf("converting %T to struct: %w", v, err)
	}
	return s, nil
}

// DecodeStruct fills v from a Struct message.
func DecodeStruct(s *structpb.Struct, v any) error {
	b, err := protojson.Marshal(s)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

// DialGRPC opens a plaintext connection to a meridian gRPC listener.
func DialGRPC(addr string) (*grpc.ClientConn, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", addr, err)
	}
	return conn, nil
}

var statusStreamDesc = grpc.StreamDesc{StreamName: "Stream", ServerStreams: true}

// GRPCClient calls the meridian gRPC services.
type GRPCClient struct {
	conn grpc.ClientConnInterface
}

// NewGRPCClient wraps an established connection.
func NewGRPCClient(conn grpc.ClientConnInterface) *GRPCClient {
	return &GRPCClient{conn: conn}
}

// RunBacktest runs a batch backtest over gRPC.
func (c *GRPCClient) RunBacktest(ctx context.Context, req BacktestRequest) ([]BacktestResult, error) {
	in, err := EncodeStruct(req)
	if err != nil {
		return nil, err
	}
	out := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, BacktestRunMethod, in, out); err != nil {
		return nil, err
	}
	var resp BacktestResponse
	if err := DecodeStruct(out, &resp); err != nil {
		return nil, fmt.Errorf("decoding backtest response: %w", err)
	}
	return resp.Results, nil
}

// ErrStopWatching can be returned by a WatchStatus callback to end the
// stream without error.
var ErrStopWatching = errors.New("stop watching")

// WatchStatus streams status events into fn, starting with a snapshot. It
// blocks until ctx is cancelled, the server ends the stream or fn returns an
// error.
func (c *GRPCClient) WatchStatus(ctx context.Context, fn func(StatusEvent) error) error {
	stream, err := c.conn.NewStream(ctx, &statusStreamDesc, StatusStreamMethod)
	if err != nil {
		return fmt.Errorf("starting status stream: %w", err)
	}
	if err := stream.SendMsg(&structpb.Struct{}); err != nil {
		return fmt.Errorf("sending stream request: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}

	for {
		msg := &structpb.Struct{}
		err := stream.RecvMsg(msg)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("receiving status: %w", err)
		}
		var ev StatusEvent
		if err := DecodeStruct(msg, &ev); err != nil {
			return fmt.Errorf("decoding status: %w", err)
		}
		if err := fn(ev); err != nil {
			if errors.Is(err, ErrStopWatching) {
				return nil
			}
			return err
		}
	}
}
