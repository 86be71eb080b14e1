package auth

import (
	"chat-core/domain"
	"chat-core/errors"
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters for service account secrets.
const (
	Memory      = 64 * 1024
	Iterations  = 3
	Parallelism = 2
	SaltLength  = 16
	KeyLength   = 32
)

const serviceAccountPrefix = "sa:"

// HashSecret returns the encoded Argon2id hash of a service account secret.
func HashSecret(secret string) (string, error) {
	salt := make([]byte, SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	hash := argon2.IDKey([]byte(secret), salt, Iterations, Memory, Parallelism, KeyLength)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s", argon2.Version, Memory, Iterations, Parallelism,
		base64.RawStdEncoding.EncodeToString(salt), base64.RawStdEncoding.EncodeToString(hash)), nil
}

// CompareSecret checks a plain secret against an encoded hash in constant time.
func CompareSecret(secret, encodedHash string) (bool, error) {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 {
		return false, fmt.Errorf("invalid hash format")
	}

	var version, memory, iterations, parallelism int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return false, fmt.Errorf("invalid hash version: %w", err)
	}
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &parallelism); err != nil {
		return false, fmt.Errorf("invalid hash parameters: %w", err)
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, err
	}
	decodedHash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, err
	}

	comparisonHash := argon2.IDKey([]byte(secret), salt, uint32(iterations), uint32(memory), uint8(parallelism), uint32(len(decodedHash)))
	return subtle.ConstantTimeCompare(decodedHash, comparisonHash) == 1, nil
}

// ServiceAccountVerifier accepts "sa:<identity>:<secret>" credentials for bots and integrations.
// Only Argon2id hashes of the secrets are kept in memory.
type ServiceAccountVerifier struct {
	hashes map[domain.Identity]string
}

// ParseServiceAccounts reads "identity=hash" pairs separated by ';'.
func ParseServiceAccounts(raw string) (map[domain.Identity]string, error) {
	accounts := make(map[domain.Identity]string)
	for _, pair := range strings.Split(raw, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		identity, hash, ok := strings.Cut(pair, "=")
		if !ok || identity == "" || !strings.HasPrefix(hash, "$argon2id$") {
			return nil, fmt.Errorf("invalid service account entry %q", identity)
		}
		accounts[domain.Identity(identity)] = hash
	}
	return accounts, nil
}

func NewServiceAccountVerifier(hashes map[domain.Identity]string) *ServiceAccountVerifier {
	return &ServiceAccountVerifier{hashes: hashes}
}

func (v *ServiceAccountVerifier) VerifyIdentity(_ context.Context, credential string) (domain.Identity, error) {
	rest, ok := strings.CutPrefix(credential, serviceAccountPrefix)
	if !ok {
		return "", fmt.Errorf("%w: not a service account credential", errors.ErrAuthRejected)
	}
	identity, secret, ok := strings.Cut(rest, ":")
	if !ok {
		return "", fmt.Errorf("%w: malformed service account credential", errors.ErrAuthRejected)
	}
	hash, known := v.hashes[domain.Identity(identity)]
	if !known {
		return "", fmt.Errorf("%w: unknown service account", errors.ErrAuthRejected)
	}
	match, err := CompareSecret(secret, hash)
	if err != nil || !match {
		return "", fmt.Errorf("%w: bad service account secret", errors.ErrAuthRejected)
	}
	return domain.Identity(identity), nil
}
