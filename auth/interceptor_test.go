package auth

import (
	"chat-core/domain"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

func TestUnaryInterceptor(t *testing.T) {
	// The handler returns the context it received so the injected identity can be inspected
	dummyHandler := func(ctx context.Context, req any) (any, error) {
		return ctx, nil
	}
	info := &grpc.UnaryServerInfo{FullMethod: "/chat.v1.Gateway/History"}
	interceptor := UnaryInterceptor(NewJWTVerifier(testSecret, "chat-core"))

	t.Run("should fail when metadata is missing", func(t *testing.T) {
		req := require.New(t)

		_, err := interceptor(context.Background(), nil, info, dummyHandler)

		st, ok := status.FromError(err)
		req.True(ok)
		req.Equal(codes.Unauthenticated, st.Code())
	})

	t.Run("should fail with invalid token", func(t *testing.T) {
		req := require.New(t)
		ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer invalid"))

		_, err := interceptor(ctx, nil, info, dummyHandler)

		req.Error(err)
		req.Contains(err.Error(), "invalid or expired token")
	})

	t.Run("should inject identity when token is valid", func(t *testing.T) {
		req := require.New(t)
		token, err := GenerateToken("user-123", time.Hour, testSecret, "chat-core")
		req.NoError(err)
		ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer "+token))

		resCtx, err := interceptor(ctx, nil, info, dummyHandler)

		req.NoError(err)
		identity, ok := IdentityFromContext(resCtx.(context.Context))
		req.True(ok)
		req.Equal(domain.Identity("user-123"), identity)
	})
}
