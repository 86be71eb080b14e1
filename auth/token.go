package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the content of a chat access token.
type Claims struct {
	Identity string `json:"identity" validate:"required,max=128"`
	jwt.RegisteredClaims
}

// GenerateToken signs an HS256 token for identity, valid for ttl.
func GenerateToken(identity string, ttl time.Duration, secret []byte, issuer string) (string, error) {
	now := time.Now()
	claims := &Claims{
		Identity: identity,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// ValidateToken checks signature, algorithm, expiry and issuer, then the claims themselves.
func ValidateToken(tokenString string, secret []byte, issuer string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, jwt.ErrSignatureInvalid
	}
	if err := ValidateClaims(claims); err != nil {
		return nil, fmt.Errorf("invalid claims: %w", err)
	}
	return claims, nil
}
