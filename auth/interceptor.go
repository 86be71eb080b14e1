package auth

import (
	"chat-core/contract"
	"chat-core/domain"
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

type contextKey string

const IdentityKey contextKey = "identity"

// CredentialFromContext extracts the raw "authorization" header of an incoming call.
func CredentialFromContext(ctx context.Context) (string, bool) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", false
	}
	values := md.Get("authorization")
	if len(values) == 0 || strings.TrimSpace(values[0]) == "" {
		return "", false
	}
	return strings.TrimPrefix(values[0], "Bearer "), true
}

// IdentityFromContext returns the identity injected by UnaryInterceptor.
func IdentityFromContext(ctx context.Context) (domain.Identity, bool) {
	identity, ok := ctx.Value(IdentityKey).(domain.Identity)
	return identity, ok
}

// UnaryInterceptor authenticates unary calls and injects the caller identity in the context.
// Streams authenticate themselves: the gateway must be able to answer AUTH_REJECTED on the stream.
func UnaryInterceptor(verifier contract.IdentityVerifier) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		credential, ok := CredentialFromContext(ctx)
		if !ok {
			return nil, status.Error(codes.Unauthenticated, "authorization token is missing")
		}
		identity, err := verifier.VerifyIdentity(ctx, credential)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, "invalid or expired token")
		}
		return handler(context.WithValue(ctx, IdentityKey, identity), req)
	}
}
