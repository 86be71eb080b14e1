package server

import (
	"chat-core/auth"
	"chat-core/contract"
	"chat-core/infrastructure/grpc/wire"
	"log/slog"
	"time"

	grpc3 "github.com/mama165/sdk-go/grpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"
)

// NewGRPCServer builds the gateway gRPC server: logging then authentication on unary calls,
// transport keepalive so dead peers are detected even between heartbeats.
func NewGRPCServer(log *slog.Logger, verifier contract.IdentityVerifier, gateway *GatewayServer, opts ...grpc.ServerOption) *grpc.Server {
	options := append([]grpc.ServerOption{
		grpc.ChainUnaryInterceptor(
			grpc3.UnaryLoggingInterceptor(log),
			auth.UnaryInterceptor(verifier),
		),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    30 * time.Second,
			Timeout: 10 * time.Second,
		}),
	}, opts...)
	s := grpc.NewServer(options...)
	wire.RegisterGatewayServer(s, gateway)
	return s
}
