package auth

import (
	"chat-core/contract"
	"chat-core/domain"
	"chat-core/errors"
	"context"
	"fmt"
	"strings"
)

// Ensure both verifiers implement the contract.IdentityVerifier interface at compile time.
var (
	_ contract.IdentityVerifier = (*JWTVerifier)(nil)
	_ contract.IdentityVerifier = (*ServiceAccountVerifier)(nil)
	_ contract.IdentityVerifier = Verifiers(nil)
)

// JWTVerifier accepts access tokens signed with the shared secret.
type JWTVerifier struct {
	secret []byte
	issuer string
}

func NewJWTVerifier(secret []byte, issuer string) *JWTVerifier {
	return &JWTVerifier{secret: secret, issuer: issuer}
}

func (v *JWTVerifier) VerifyIdentity(_ context.Context, credential string) (domain.Identity, error) {
	token := strings.TrimSpace(strings.TrimPrefix(credential, "Bearer "))
	if token == "" {
		return "", fmt.Errorf("%w: empty credential", errors.ErrAuthRejected)
	}
	claims, err := ValidateToken(token, v.secret, v.issuer)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errors.ErrAuthRejected, err)
	}
	return domain.Identity(claims.Identity), nil
}

// Verifiers tries each verifier in turn; the first identity wins.
type Verifiers []contract.IdentityVerifier

func (vs Verifiers) VerifyIdentity(ctx context.Context, credential string) (domain.Identity, error) {
	lastErr := fmt.Errorf("%w: no verifier configured", errors.ErrAuthRejected)
	for _, v := range vs {
		identity, err := v.VerifyIdentity(ctx, credential)
		if err == nil {
			return identity, nil
		}
		lastErr = err
	}
	return "", lastErr
}
