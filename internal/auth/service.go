package auth

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/sentineld/runtime/internal/audit"
	"github.com/sentineld/runtime/internal/crypto"
	"github.com/sentineld/runtime/internal/errors"
	"github.com/sentineld/runtime/internal/ratelimit"
)

const (
	adminUserID = "admin"

	// adminRole matches rbac.RoleAdmin's id. Duplicated as a literal
	// rather than importing internal/rbac here, since the auth package
	// has no other reason to depend on the role registry.
	adminRole = "role_admin"

	accessTokenTTL         = time.Hour
	refreshTokenTTL        = 30 * 24 * time.Hour
	refreshTokenRememberMe = 90 * 24 * time.Hour
)

// Service ties together token issuance/validation, the blacklist, API
// keys, refresh tokens, the rate limiter and the audit chain into the
// single entry point the gateway's auth hook calls.
type Service struct {
	tokens        *TokenManager
	blacklist     BlacklistStore
	apiKeys       ApiKeyStore
	refreshTokens RefreshTokenStore
	hasher        *TokenHasher
	limiter       ratelimit.Limiter
	chain         *audit.Chain
	logger        *zerolog.Logger

	adminPasswordHash string // sha256 hex, constant-time compared
	generation        atomic.Int32
}

func NewService(
	tokens *TokenManager,
	blacklist BlacklistStore,
	apiKeys ApiKeyStore,
	refreshTokens RefreshTokenStore,
	limiter ratelimit.Limiter,
	chain *audit.Chain,
	adminPasswordHash string,
	logger *zerolog.Logger,
) *Service {
	return &Service{
		tokens:            tokens,
		blacklist:         blacklist,
		apiKeys:           apiKeys,
		refreshTokens:     refreshTokens,
		hasher:            NewTokenHasher(),
		limiter:           limiter,
		chain:             chain,
		adminPasswordHash: adminPasswordHash,
		logger:            logger,
	}
}

// LoginResult carries the minted access and refresh tokens.
type LoginResult struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Login consults the auth_attempts rate limit keyed by ip, verifies the
// password, and on success mints a JWT plus an opaque refresh token.
func (s *Service) Login(ctx context.Context, password, ip string, rememberMe bool) (*LoginResult, error) {
	result, err := s.limiter.Check(ctx, "auth_attempts", ratelimit.KeyTypeIP, ip)
	if err != nil {
		return nil, errors.InternalServer(err.Error())
	}
	if !result.Allowed {
		return nil, errors.RateLimited(result.RetryAfter)
	}

	candidate := crypto.SHA256Hex([]byte(password))
	if !crypto.SecureCompareString(candidate, s.adminPasswordHash) {
		s.recordAudit(ctx, audit.EventLoginFailed, audit.LevelWarn, "login failed", nil)
		return nil, errors.InvalidCredentials()
	}

	accessToken, _, err := s.tokens.IssueToken(adminUserID, adminRole, int(s.generation.Load()), accessTokenTTL)
	if err != nil {
		return nil, errors.InternalServer(err.Error())
	}

	ttl := refreshTokenTTL
	if rememberMe {
		ttl = refreshTokenRememberMe
	}
	refreshPlain, refreshHash, err := s.hasher.GenerateAPIToken()
	if err != nil {
		return nil, errors.InternalServer(err.Error())
	}
	refreshID, err := crypto.UUIDv7()
	if err != nil {
		return nil, errors.InternalServer(err.Error())
	}
	now := time.Now()
	rt := RefreshToken{
		ID:        refreshID,
		Hash:      refreshHash,
		UserID:    adminUserID,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if err := s.refreshTokens.Save(ctx, rt); err != nil {
		return nil, errors.DatabaseError(err)
	}

	s.recordAudit(ctx, audit.EventLoginSucceeded, audit.LevelInfo, "login succeeded", userIDPtr(adminUserID))

	return &LoginResult{
		AccessToken:  accessToken,
		RefreshToken: refreshID + "." + refreshPlain,
		ExpiresAt:    now.Add(accessTokenTTL),
	}, nil
}

// Refresh redeems a refresh token string ("id.plain" as minted by Login)
// for a new access token, rotating the refresh token itself so a stolen
// token is only usable once: the old record is revoked in the same call
// that mints its replacement, preserving the remaining lifetime of the
// original grant (so a rememberMe session doesn't get extended, or
// shortened, by the act of refreshing it).
func (s *Service) Refresh(ctx context.Context, refreshTokenString string) (*LoginResult, error) {
	id, plain, ok := splitRefreshToken(refreshTokenString)
	if !ok {
		return nil, errors.TokenInvalid()
	}

	rt, err := s.refreshTokens.FindByID(ctx, id)
	if err != nil {
		return nil, errors.DatabaseError(err)
	}
	now := time.Now()
	if rt == nil || !rt.valid(now) || !s.hasher.VerifyToken(plain, rt.Hash) {
		return nil, errors.TokenInvalid()
	}

	revoked := *rt
	revoked.RevokedAt = &now
	if err := s.refreshTokens.Save(ctx, revoked); err != nil {
		return nil, errors.DatabaseError(err)
	}

	accessToken, _, err := s.tokens.IssueToken(rt.UserID, adminRole, int(s.generation.Load()), accessTokenTTL)
	if err != nil {
		return nil, errors.InternalServer(err.Error())
	}

	refreshPlain, refreshHash, err := s.hasher.GenerateAPIToken()
	if err != nil {
		return nil, errors.InternalServer(err.Error())
	}
	newID, err := crypto.UUIDv7()
	if err != nil {
		return nil, errors.InternalServer(err.Error())
	}
	ttl := rt.ExpiresAt.Sub(now)
	if ttl <= 0 {
		ttl = refreshTokenTTL
	}
	newRT := RefreshToken{
		ID:        newID,
		Hash:      refreshHash,
		UserID:    rt.UserID,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if err := s.refreshTokens.Save(ctx, newRT); err != nil {
		return nil, errors.DatabaseError(err)
	}

	return &LoginResult{
		AccessToken:  accessToken,
		RefreshToken: newID + "." + refreshPlain,
		ExpiresAt:    now.Add(accessTokenTTL),
	}, nil
}

func splitRefreshToken(s string) (id, plain string, ok bool) {
	dot := strings.IndexByte(s, '.')
	if dot < 0 {
		return "", "", false
	}
	return s[:dot], s[dot+1:], true
}

// ValidateBearer verifies tokenString, rejecting blacklisted jtis and
// tokens minted under a session generation the caller has since
// invalidated via ResetPassword.
func (s *Service) ValidateBearer(tokenString string) (*AuthUser, error) {
	claims, err := s.tokens.ValidateToken(tokenString)
	if err != nil {
		return nil, errors.TokenInvalid()
	}
	if claims.ExpiresAt != nil && claims.ExpiresAt.Before(time.Now()) {
		return nil, errors.TokenExpired()
	}
	if s.blacklist.Contains(claims.ID) {
		return nil, errors.TokenInvalid()
	}
	if claims.Generation != int(s.generation.Load()) {
		return nil, errors.TokenInvalid()
	}

	var exp int64
	if claims.ExpiresAt != nil {
		exp = claims.ExpiresAt.Unix()
	}
	return &AuthUser{
		UserID:     claims.Subject,
		Role:       claims.Role,
		AuthMethod: AuthMethodBearer,
		JTI:        claims.ID,
		Exp:        exp,
	}, nil
}

// Logout blacklists the token's jti until its natural expiration.
func (s *Service) Logout(jti, userID string, exp time.Time) {
	s.blacklist.Add(jti, userID, exp)
}

// ResetPassword updates the stored hash and bumps the session
// generation counter, which invalidates every previously issued JWT
// regardless of blacklist state and revokes all refresh tokens.
func (s *Service) ResetPassword(ctx context.Context, newPasswordHash string) error {
	s.adminPasswordHash = newPasswordHash
	s.generation.Add(1)
	return s.refreshTokens.RevokeAllForUser(ctx, adminUserID)
}

// UpdateTokenSecret rotates the signing secret, records the rotation,
// and opens a grace window during which tokens signed under the old
// secret still validate.
func (s *Service) UpdateTokenSecret(ctx context.Context, newSecret []byte) error {
	s.tokens.UpdateSecret(newSecret)
	s.recordAudit(ctx, audit.EventTokenRotated, audit.LevelSecurity, "token secret rotated", nil)
	return nil
}

// ClearPreviousSecret ends the grace window opened by UpdateTokenSecret.
func (s *Service) ClearPreviousSecret() {
	s.tokens.ClearPreviousSecret()
}

func (s *Service) recordAudit(ctx context.Context, event string, level audit.Level, message string, userID *string) {
	if s.chain == nil {
		return
	}
	if _, err := s.chain.Record(ctx, audit.PartialEntry{
		Event:   event,
		Level:   level,
		Message: message,
		UserID:  userID,
	}); err != nil && s.logger != nil {
		s.logger.Error().Err(err).Str("event", event).Msg("failed to record audit entry")
	}
}

func userIDPtr(id string) *string {
	return &id
}
