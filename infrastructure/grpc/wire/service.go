package wire

import (
	"context"

	"google.golang.org/grpc"
)

const (
	ServiceName                    = "chat.v1.Gateway"
	Gateway_Connect_FullMethodName = "/chat.v1.Gateway/Connect"
	Gateway_History_FullMethodName = "/chat.v1.Gateway/History"
)

// GatewayServer is the server API of the chat gateway.
type GatewayServer interface {
	// Connect is the long-lived bidirectional stream of one connection.
	Connect(grpc.BidiStreamingServer[ClientFrame, ServerFrame]) error
	// History returns one page of a conversation for reconnect catch-up.
	History(context.Context, *HistoryRequest) (*HistoryResponse, error)
}

func RegisterGatewayServer(s grpc.ServiceRegistrar, srv GatewayServer) {
	s.RegisterService(&Gateway_ServiceDesc, srv)
}

func _Gateway_Connect_Handler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(GatewayServer).Connect(&grpc.GenericServerStream[ClientFrame, ServerFrame]{ServerStream: stream})
}

func _Gateway_History_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(HistoryRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(GatewayServer).History(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: Gateway_History_FullMethodName,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(GatewayServer).History(ctx, req.(*HistoryRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// Gateway_ServiceDesc describes the gateway service for grpc.Server.RegisterService.
var Gateway_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*GatewayServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "History",
			Handler:    _Gateway_History_Handler,
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Connect",
			Handler:       _Gateway_Connect_Handler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "chat/v1/gateway",
}

// GatewayClient is the client API of the chat gateway.
// Every call is sent with the JSON content-subtype.
type GatewayClient interface {
	Connect(ctx context.Context, opts ...grpc.CallOption) (grpc.BidiStreamingClient[ClientFrame, ServerFrame], error)
	History(ctx context.Context, in *HistoryRequest, opts ...grpc.CallOption) (*HistoryResponse, error)
}

type gatewayClient struct {
	cc grpc.ClientConnInterface
}

func NewGatewayClient(cc grpc.ClientConnInterface) GatewayClient {
	return &gatewayClient{cc}
}

func (c *gatewayClient) Connect(ctx context.Context, opts ...grpc.CallOption) (grpc.BidiStreamingClient[ClientFrame, ServerFrame], error) {
	cOpts := append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	stream, err := c.cc.NewStream(ctx, &Gateway_ServiceDesc.Streams[0], Gateway_Connect_FullMethodName, cOpts...)
	if err != nil {
		return nil, err
	}
	return &grpc.GenericClientStream[ClientFrame, ServerFrame]{ClientStream: stream}, nil
}

func (c *gatewayClient) History(ctx context.Context, in *HistoryRequest, opts ...grpc.CallOption) (*HistoryResponse, error) {
	cOpts := append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	out := new(HistoryResponse)
	if err := c.cc.Invoke(ctx, Gateway_History_FullMethodName, in, out, cOpts...); err != nil {
		return nil, err
	}
	return out, nil
}
