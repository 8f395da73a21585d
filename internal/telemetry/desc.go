package telemetry

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	streamSnapshotsMethod = "/" + ServiceName + "/StreamSnapshots"
	sendCommandsMethod    = "/" + ServiceName + "/SendCommands"
)

// ServiceDesc describes the telemetry service for grpc.Server registration.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*TelemetryServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamSnapshots",
			Handler:       streamSnapshotsHandler,
			ServerStreams: true,
		},
		{
			StreamName:    "SendCommands",
			Handler:       sendCommandsHandler,
			ClientStreams: true,
		},
	},
	Metadata: "tunnelflight/telemetry/v1/telemetry.proto",
}

// Register attaches server to registrar.
func Register(registrar grpc.ServiceRegistrar, server TelemetryServer) {
	registrar.RegisterService(&ServiceDesc, server)
}

func streamSnapshotsHandler(srv any, stream grpc.ServerStream) error {
	request := new(structpb.Struct)
	if err := stream.RecvMsg(request); err != nil {
		return err
	}
	return srv.(TelemetryServer).StreamSnapshots(request, &grpc.GenericServerStream[structpb.Struct, structpb.Struct]{ServerStream: stream})
}

func sendCommandsHandler(srv any, stream grpc.ServerStream) error {
	return srv.(TelemetryServer).SendCommands(&grpc.GenericServerStream[structpb.Struct, structpb.Struct]{ServerStream: stream})
}

// Client calls the telemetry service over an existing connection.
type Client struct {
	conn grpc.ClientConnInterface
}

// NewClient wraps conn.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// StreamSnapshots opens a snapshot stream. request may set "max_hz" and "encoding".
func (c *Client) StreamSnapshots(ctx context.Context, request *structpb.Struct, opts ...grpc.CallOption) (grpc.ServerStreamingClient[structpb.Struct], error) {
	stream, err := c.conn.NewStream(ctx, &ServiceDesc.Streams[0], streamSnapshotsMethod, opts...)
	if err != nil {
		return nil, err
	}
	if request == nil {
		request = &structpb.Struct{}
	}
	client := &grpc.GenericClientStream[structpb.Struct, structpb.Struct]{ClientStream: stream}
	if err := client.ClientStream.SendMsg(request); err != nil {
		return nil, err
	}
	if err := client.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return client, nil
}

// SendCommands opens a command stream. Close it with CloseAndRecv to read the ack.
func (c *Client) SendCommands(ctx context.Context, opts ...grpc.CallOption) (grpc.ClientStreamingClient[structpb.Struct, structpb.Struct], error) {
	stream, err := c.conn.NewStream(ctx, &ServiceDesc.Streams[1], sendCommandsMethod, opts...)
	if err != nil {
		return nil, err
	}
	return &grpc.GenericClientStream[structpb.Struct, structpb.Struct]{ClientStream: stream}, nil
}
