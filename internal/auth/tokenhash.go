package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// TokenHasher mints and validates the opaque refresh-token secrets:
// high-entropy random bytes on one side, a bcrypt hash for storage on the
// other. bcrypt's deliberate slowness is affordable here because these
// tokens are validated far less often than, say, a JWT signature check.
type TokenHasher struct {
	bcryptCost int
}

func NewTokenHasher() *TokenHasher {
	return &TokenHasher{bcryptCost: bcrypt.DefaultCost}
}

// HashToken bcrypt-hashes token for storage.
func (t *TokenHasher) HashToken(token string) (string, error) {
	hashedBytes, err := bcrypt.GenerateFromPassword([]byte(token), t.bcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash token: %w", err)
	}
	return string(hashedBytes), nil
}

// VerifyToken checks plainToken against a hash produced by HashToken.
func (t *TokenHasher) VerifyToken(plainToken, hashedToken string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hashedToken), []byte(plainToken)) == nil
}

// GenerateAPIToken mints a new long-lived opaque secret (384 bits of
// entropy, base64url-encoded) along with its bcrypt hash for storage.
// Used for refresh tokens; API keys are minted by CreateApiKey and
// stored as a SHA-256 hash instead.
func (t *TokenHasher) GenerateAPIToken() (plainToken string, hashedToken string, err error) {
	bytes := make([]byte, 48)
	if _, err := rand.Read(bytes); err != nil {
		return "", "", fmt.Errorf("failed to generate API token: %w", err)
	}

	plainToken = base64.URLEncoding.EncodeToString(bytes)
	hashedToken, err = t.HashToken(plainToken)
	if err != nil {
		return "", "", err
	}

	return plainToken, hashedToken, nil
}
