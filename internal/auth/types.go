package auth

import "errors"

// AuthMethod identifies how a caller was authenticated.
type AuthMethod string

const (
	AuthMethodPassword    AuthMethod = "password"
	AuthMethodBearer      AuthMethod = "bearer"
	AuthMethodApiKey      AuthMethod = "api_key"
	AuthMethodCertificate AuthMethod = "certificate"
)

// AuthUser is the request-scoped identity the gateway attaches once the
// auth hook succeeds.
type AuthUser struct {
	UserID      string
	Role        string
	Permissions []string
	AuthMethod  AuthMethod
	JTI         string
	Exp         int64
}

var (
	ErrApiKeyInvalid = errors.New("invalid API key")
	ErrApiKeyRevoked = errors.New("API key has been revoked")
)
