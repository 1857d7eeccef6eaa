package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/sentineld/runtime/internal/crypto"
)

// apiKeyPrefix marks every issued key so it's recognizable in logs and
// distinguishable from a bearer JWT at a glance.
const apiKeyPrefix = "sck_"

// ApiKey is the persisted record; Hash is sha256(rawKey) so validation
// stays a fast lookup under the high-frequency read path noted for C5.
type ApiKey struct {
	ID        string
	Hash      string
	Name      string
	Role      string
	UserID    string
	CreatedAt time.Time
	ExpiresAt *time.Time
	RevokedAt *time.Time
}

func (k ApiKey) expired(now time.Time) bool {
	return k.ExpiresAt != nil && k.ExpiresAt.Before(now)
}

func (k ApiKey) revoked() bool {
	return k.RevokedAt != nil
}

// ApiKeyStore persists ApiKeys and finds them by id or by sha256 hash.
type ApiKeyStore interface {
	Save(ctx context.Context, key ApiKey) error
	FindByHash(ctx context.Context, hash string) (*ApiKey, error)
	FindByID(ctx context.Context, id string) (*ApiKey, error)
	List(ctx context.Context, userID string) ([]ApiKey, error)
}

// CreateApiKeyRequest is the input to CreateApiKey.
type CreateApiKeyRequest struct {
	Name          string
	Role          string
	UserID        string
	ExpiresInDays int // 0 means never expires
}

// CreateApiKeyResult carries the raw key, returned exactly once.
type CreateApiKeyResult struct {
	ID  string
	Key string
}

// CreateApiKey mints key = "sck_" || random_hex(32) and persists only its
// sha256 hash; the raw key is never stored and is returned to the caller
// exactly once.
func CreateApiKey(ctx context.Context, store ApiKeyStore, req CreateApiKeyRequest) (*CreateApiKeyResult, error) {
	raw, err := crypto.RandomHex(32)
	if err != nil {
		return nil, fmt.Errorf("auth: failed to generate API key: %w", err)
	}
	rawKey := apiKeyPrefix + raw

	id, err := crypto.UUIDv7()
	if err != nil {
		return nil, fmt.Errorf("auth: failed to generate API key id: %w", err)
	}

	key := ApiKey{
		ID:        id,
		Hash:      crypto.SHA256Hex([]byte(rawKey)),
		Name:      req.Name,
		Role:      req.Role,
		UserID:    req.UserID,
		CreatedAt: time.Now(),
	}
	if req.ExpiresInDays > 0 {
		exp := key.CreatedAt.AddDate(0, 0, req.ExpiresInDays)
		key.ExpiresAt = &exp
	}

	if err := store.Save(ctx, key); err != nil {
		return nil, err
	}
	return &CreateApiKeyResult{ID: id, Key: rawKey}, nil
}

// ValidateApiKey looks up raw by its sha256 hash and reports the
// resulting AuthUser, or a specific ApiKeyInvalid/ApiKeyRevoked error.
func ValidateApiKey(ctx context.Context, store ApiKeyStore, raw string) (*AuthUser, error) {
	hash := crypto.SHA256Hex([]byte(raw))
	key, err := store.FindByHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	if key == nil {
		return nil, ErrApiKeyInvalid
	}
	if key.revoked() {
		return nil, ErrApiKeyRevoked
	}
	if key.expired(time.Now()) {
		return nil, ErrApiKeyInvalid
	}
	return &AuthUser{
		UserID:     key.UserID,
		Role:       key.Role,
		AuthMethod: AuthMethodApiKey,
	}, nil
}

// RevokeApiKey tombstones a key by its ID (the identifier handed back to
// callers from CreateApiKey and List; the raw key and its hash are never
// exposed again after creation). The key is never physically deleted.
func RevokeApiKey(ctx context.Context, store ApiKeyStore, id string) error {
	key, err := store.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if key == nil {
		return ErrApiKeyInvalid
	}
	now := time.Now()
	key.RevokedAt = &now
	return store.Save(ctx, *key)
}
