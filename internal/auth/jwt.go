// Package auth implements the authentication surface: password login,
// JWT issue/validate with dual-key grace, API-key hash+store, and token
// blacklisting.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sentineld/runtime/internal/crypto"
)

// Claims is the JwtToken payload: {sub, role, iat, exp, jti}, plus a
// generation stamp used to invalidate every outstanding token on
// password reset without tracking each one individually.
type Claims struct {
	Role       string `json:"role"`
	Generation int    `json:"gen"`
	jwt.RegisteredClaims
}

// TokenManager mints and validates HS256 tokens, supporting a grace
// period after secret rotation: a token signed with the secret that was
// current at mint time keeps validating against previousSecret for the
// duration of the grace window.
type TokenManager struct {
	issuer         string
	currentSecret  []byte
	previousSecret []byte
}

func NewTokenManager(issuer string, secret []byte) *TokenManager {
	return &TokenManager{issuer: issuer, currentSecret: secret}
}

// IssueToken mints a JWT for sub/role valid for ttl, returning the token
// string and the jti assigned to it (for blacklist bookkeeping on logout).
func (m *TokenManager) IssueToken(sub, role string, generation int, ttl time.Duration) (string, string, error) {
	jti, err := crypto.UUIDv7()
	if err != nil {
		return "", "", fmt.Errorf("auth: failed to generate jti: %w", err)
	}

	now := time.Now()
	claims := &Claims{
		Role:       role,
		Generation: generation,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ID:        jti,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.currentSecret)
	if err != nil {
		return "", "", fmt.Errorf("auth: failed to sign token: %w", err)
	}
	return signed, jti, nil
}

// ValidateToken verifies signature and expiration against the current
// secret, falling back to previousSecret during the post-rotation grace
// window. It does not consult the blacklist or the session generation
// counter; callers combine those checks with ValidateToken's result.
func (m *TokenManager) ValidateToken(tokenString string) (*Claims, error) {
	claims, err := m.parseWithKey(tokenString, m.currentSecret)
	if err == nil {
		return claims, nil
	}
	if m.previousSecret != nil {
		if claims, err2 := m.parseWithKey(tokenString, m.previousSecret); err2 == nil {
			return claims, nil
		}
	}
	return nil, fmt.Errorf("auth: token validation failed: %w", err)
}

func (m *TokenManager) parseWithKey(tokenString string, key []byte) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return key, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

// UpdateSecret moves the current secret to previousSecret (grace window)
// and installs newSecret as current.
func (m *TokenManager) UpdateSecret(newSecret []byte) {
	m.previousSecret = m.currentSecret
	m.currentSecret = newSecret
}

// ClearPreviousSecret ends the post-rotation grace window; tokens signed
// with the retired secret stop validating immediately.
func (m *TokenManager) ClearPreviousSecret() {
	m.previousSecret = nil
}
