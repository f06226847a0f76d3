package live

import (
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"meridian/pkg/meridian"
)

// statusServer is the handler type of the status service.
type statusServer interface {
	Stream(req *structpb.Struct, stream grpc.ServerStream) error
}

var statusServiceDesc = grpc.ServiceDesc{
	ServiceName: meridian.StatusServiceName,
	HandlerType: (*statusServer)(nil),
	Streams: []grpc.StreamDesc{{
		StreamName:    "Stream",
		Handler:       streamHandler,
		ServerStreams: true,
	}},
	Metadata: "meridian/status",
}

func streamHandler(srv any, stream grpc.ServerStream) error {
	req := &structpb.Struct{}
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(statusServer).Stream(req, stream)
}

// Server implements the status Stream gRPC endpoint.
type Server struct {
	model *StatusModel
	log   *slog.Logger
}

// NewServer creates a gRPC server backed by the given StatusModel.
func NewServer(model *StatusModel, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{model: model, log: log}
}

// RegisterGRPC registers the server on the given gRPC server instance.
func (s *Server) RegisterGRPC(gs *grpc.Server) {
	gs.RegisterService(&statusServiceDesc, s)
}

// Stream sends a snapshot of the current state, then every change as it
// happens. The stream ends when the client disconnects.
func (s *Server) Stream(_ *structpb.Struct, stream grpc.ServerStream) error {
	// Subscribe before the snapshot so no change falls in between.
	subID, ch := s.model.Subscribe(256)
	defer s.model.Unsubscribe(subID)

	if err := s.send(stream, s.model.Snapshot()); err != nil {
		return err
	}
	s.log.Info("grpc status client subscribed", "subID", subID)

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("grpc status client disconnected", "subID", subID)
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			if err := s.send(stream, ev); err != nil {
				return err
			}
		}
	}
}

func (s *Server) send(stream grpc.ServerStream, ev meridian.StatusEvent) error {
	msg, err := meridian.EncodeStruct(ev)
	if err != nil {
		return err
	}
	return stream.SendMsg(msg)
}
