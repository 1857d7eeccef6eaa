package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisBlacklist is the Redis-backed BlacklistStore: a jti is set with a
// TTL matching its remaining token life, so an entry never outlives the
// token it denies and a process restart doesn't lose the denylist (the
// in-memory Blacklist forgets everything on restart; a multi-instance
// deployment needs the shared view this gives instead).
type RedisBlacklist struct {
	client *redis.Client
	logger *zerolog.Logger
}

func NewRedisBlacklist(client *redis.Client, logger *zerolog.Logger) *RedisBlacklist {
	return &RedisBlacklist{client: client, logger: logger}
}

func (b *RedisBlacklist) key(jti string) string {
	return fmt.Sprintf("auth:blacklist:%s", jti)
}

// Add sets jti in Redis until expiresAt; a past expiresAt is a no-op
// since the token would already be rejected on its own expiry check.
func (b *RedisBlacklist) Add(jti, userID string, expiresAt time.Time) {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return
	}
	if err := b.client.Set(context.Background(), b.key(jti), userID, ttl).Err(); err != nil && b.logger != nil {
		b.logger.Error().Err(err).Str("jti", jti).Msg("failed to blacklist token in redis")
	}
}

// Contains reports whether jti is currently blacklisted. A Redis error
// fails closed: treating an unreachable blacklist as "not blacklisted"
// would let a revoked token through, so an error here rejects the token
// (ValidateBearer's caller sees TokenInvalid).
func (b *RedisBlacklist) Contains(jti string) bool {
	n, err := b.client.Exists(context.Background(), b.key(jti)).Result()
	if err != nil {
		if b.logger != nil {
			b.logger.Error().Err(err).Str("jti", jti).Msg("failed to check redis blacklist, failing closed")
		}
		return true
	}
	return n > 0
}
