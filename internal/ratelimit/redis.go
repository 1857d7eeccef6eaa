package ratelimit

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// redisCheckScript atomically increments the bucket counter and sets its
// expiry on first increment, so a crashed process never leaves a bucket
// counting forever. Returns the post-increment count and the bucket's
// remaining TTL in milliseconds.
const redisCheckScript = `
local count = redis.call("INCR", KEYS[1])
if count == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
return {count, ttl}
`

// RedisLimiter is the Redis-backed alternative to Limiter, sharing the
// external Check/CheckMultiple/GetStats contract exactly. Per-process
// totalHits/totalChecks counters are process-local; a multi-instance
// deployment fronted by a shared Redis would need a Redis-backed counter
// to make those global, which is out of scope here.
type RedisLimiter struct {
	client *redis.Client
	rules  map[string]Rule
	script *redis.Script

	totalHits   atomic.Int64
	totalChecks atomic.Int64

	logger *zerolog.Logger
}

func NewRedisLimiter(client *redis.Client, rules []Rule, logger *zerolog.Logger) *RedisLimiter {
	l := &RedisLimiter{
		client: client,
		rules:  make(map[string]Rule, len(rules)),
		script: redis.NewScript(redisCheckScript),
		logger: logger,
	}
	for _, r := range rules {
		l.rules[r.Name] = r
	}
	return l
}

func (l *RedisLimiter) Check(ctx context.Context, ruleName string, keyType KeyType, key string) (Result, error) {
	l.totalChecks.Add(1)

	rule, ok := l.rules[ruleName]
	if !ok {
		return Result{}, fmt.Errorf("ratelimit: unknown rule %q", ruleName)
	}

	redisKey := "ratelimit:" + bucketKey(ruleName, keyType, key)
	raw, err := l.script.Run(ctx, l.client, []string{redisKey}, rule.WindowMs).Result()
	if err != nil {
		return Result{}, fmt.Errorf("ratelimit: redis script failed: %w", err)
	}

	vals, ok := raw.([]interface{})
	if !ok || len(vals) != 2 {
		return Result{}, fmt.Errorf("ratelimit: unexpected redis script result")
	}
	count, _ := vals[0].(int64)
	ttlMs, _ := vals[1].(int64)
	if ttlMs < 0 {
		ttlMs = rule.WindowMs
	}
	resetAt := time.Now().UnixMilli() + ttlMs

	if int(count) <= rule.MaxRequests {
		return Result{
			Allowed:   true,
			Remaining: rule.MaxRequests - int(count),
			ResetAt:   resetAt,
			Rule:      rule.Name,
		}, nil
	}

	l.totalHits.Add(1)
	if l.logger != nil {
		l.logger.Info().Str("rule", rule.Name).Str("keyType", string(keyType)).Str("key", key).Msg("rate limit exceeded")
	}

	if rule.OnExceed == OnExceedLogOnly {
		return Result{Allowed: true, Remaining: 0, ResetAt: resetAt, Rule: rule.Name}, nil
	}

	retryAfterSec := int((ttlMs + 999) / 1000)
	return Result{
		Allowed:    false,
		Remaining:  0,
		ResetAt:    resetAt,
		RetryAfter: retryAfterSec,
		Rule:       rule.Name,
	}, nil
}

// CheckMultiple evaluates every rule in order, mirroring Limiter's
// semantics: the first blocking result wins; otherwise the most
// restrictive allowing result is returned.
func (l *RedisLimiter) CheckMultiple(ctx context.Context, checks []MultiCheck) (Result, error) {
	var mostRestrictive *Result
	for _, c := range checks {
		result, err := l.Check(ctx, c.Rule, c.KeyType, c.Key)
		if err != nil {
			return Result{}, err
		}
		if !result.Allowed {
			return result, nil
		}
		if mostRestrictive == nil || result.Remaining < mostRestrictive.Remaining {
			r := result
			mostRestrictive = &r
		}
	}
	if mostRestrictive == nil {
		return Result{Allowed: true}, nil
	}
	return *mostRestrictive, nil
}

func (l *RedisLimiter) GetStats(ctx context.Context) (Stats, error) {
	n, err := l.client.Keys(ctx, "ratelimit:*").Result()
	if err != nil {
		return Stats{}, fmt.Errorf("ratelimit: failed to count active windows: %w", err)
	}
	return Stats{
		ActiveWindows: len(n),
		Rules:         len(l.rules),
		TotalHits:     l.totalHits.Load(),
		TotalChecks:   l.totalChecks.Load(),
	}, nil
}
