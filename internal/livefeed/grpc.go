package livefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/speedwatch/internal/vision/pipeline"
)

// WatchMethod is the full gRPC method name of the feed stream.
const WatchMethod = "/speedwatch.v1.LiveFeed/Watch"

// LiveFeedServer is the server side of speedwatch.v1.LiveFeed. Requests
// and updates travel as google.protobuf.Struct so clients need no
// generated code beyond the well-known types.
type LiveFeedServer interface {
	Watch(req *structpb.Struct, stream grpc.ServerStreamingServer[structpb.Struct]) error
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: "speedwatch.v1.LiveFeed",
	HandlerType: (*LiveFeedServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Watch",
			Handler:       watchHandler,
			ServerStreams: true,
		},
	},
	Metadata: "speedwatch/v1/livefeed.proto",
}

func watchHandler(srv any, stream grpc.ServerStream) error {
	req := new(structpb.Struct)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(LiveFeedServer).Watch(req, &grpc.GenericServerStream[structpb.Struct, structpb.Struct]{ServerStream: stream})
}

// RegisterService attaches srv to a gRPC server.
func RegisterService(s grpc.ServiceRegistrar, srv LiveFeedServer) {
	s.RegisterService(&serviceDesc, srv)
}

// Server streams hub updates to gRPC watchers.
type Server struct {
	hub      *Hub
	stop     chan struct{}
	stopOnce sync.Once
}

// NewServer serves updates from hub.
func NewServer(hub *Hub) *Server {
	return &Server{hub: hub, stop: make(chan struct{})}
}

// Shutdown ends every open Watch stream.
func (s *Server) Shutdown() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Watch streams every feed update until the client goes away. A request
// field "include_latest": true sends the current state first.
func (s *Server) Watch(req *structpb.Struct, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	ctx := stream.Context()
	id, updates := s.hub.Subscribe(0)
	defer s.hub.Unsubscribe(id)

	if v, ok := req.GetFields()["include_latest"]; ok && v.GetBoolValue() {
		if latest, ok := s.hub.Latest(); ok {
			if err := sendUpdate(stream, latest); err != nil {
				return err
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stop:
			return nil
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			if err := sendUpdate(stream, u); err != nil {
				return err
			}
		}
	}
}

func sendUpdate(stream grpc.ServerStreamingServer[structpb.Struct], u pipeline.FeedUpdate) error {
	msg, err := ToStruct(u)
	if err != nil {
		return status.Errorf(codes.Internal, "failed to encode update: %v", err)
	}
	return stream.Send(msg)
}

// ToStruct converts u to its JSON-shaped protobuf form.
func ToStruct(u pipeline.FeedUpdate) (*structpb.Struct, error) {
	b, err := json.Marshal(u)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

// FromStruct is the inverse of ToStruct.
func FromStruct(s *structpb.Struct) (pipeline.FeedUpdate, error) {
	var u pipeline.FeedUpdate
	b, err := json.Marshal(s.AsMap())
	if err != nil {
		return u, err
	}
	err = json.Unmarshal(b, &u)
	return u, err
}

// Serve runs a gRPC server on lis until ctx is cancelled, then stops it
// gracefully.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	gs := grpc.NewServer()
	RegisterService(gs, s)

	go func() {
		<-ctx.Done()
		s.Shutdown()
		gs.GracefulStop()
	}()

	log.Printf("[livefeed] gRPC server listening on %s", lis.Addr())
	if err := gs.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("gRPC server failed: %w", err)
	}
	return nil
}

// WatchFeed streams updates from a LiveFeed server into fn until the
// stream ends, fn returns an error or ctx is cancelled.
func WatchFeed(ctx context.Context, cc grpc.ClientConnInterface, includeLatest bool, fn func(pipeline.FeedUpdate) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := cc.NewStream(ctx, &serviceDesc.Streams[0], WatchMethod)
	if err != nil {
		return fmt.Errorf("failed to open watch stream: %w", err)
	}
	req, err := structpb.NewStruct(map[string]any{"include_latest": includeLatest})
	if err != nil {
		return err
	}
	if err := stream.SendMsg(req); err != nil {
		return fmt.Errorf("failed to send watch request: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}
	for {
		msg := new(structpb.Struct)
		if err := stream.RecvMsg(msg); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		u, err := FromStruct(msg)
		if err != nil {
			return fmt.Errorf("failed to decode update: %w", err)
		}
		if err := fn(u); err != nil {
			return err
		}
	}
}
