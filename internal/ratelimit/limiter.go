package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// bucketKey is "<ruleName>:<keyType>:<key>".
func bucketKey(rule string, keyType KeyType, key string) string {
	return fmt.Sprintf("%s:%s:%s", rule, keyType, key)
}

// Limiter is the in-memory sliding-window-by-bucket rate limiter. A
// single mutex guards the bucket map; per §4.4 both totalHits and
// totalChecks are updated with atomics so getStats never observes a
// torn or decreasing value even while the mutex is held by another
// goroutine mid-check.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*WindowEntry
	rules   map[string]Rule

	totalHits   atomic.Int64
	totalChecks atomic.Int64

	logger *zerolog.Logger
	now    func() time.Time

	sweepCron *cron.Cron
}

func New(rules []Rule, logger *zerolog.Logger) *Limiter {
	l := &Limiter{
		buckets: make(map[string]*WindowEntry),
		rules:   make(map[string]Rule, len(rules)),
		logger:  logger,
		now:     time.Now,
	}
	for _, r := range rules {
		l.rules[r.Name] = r
	}
	return l
}

// StartSweeper schedules the background sweeper on the given cron
// expression (default every 60s, per §4.4). Call Stop to halt it.
func (l *Limiter) StartSweeper(spec string) error {
	if spec == "" {
		spec = "@every 60s"
	}
	l.sweepCron = cron.New()
	_, err := l.sweepCron.AddFunc(spec, l.sweep)
	if err != nil {
		return fmt.Errorf("ratelimit: failed to schedule sweeper: %w", err)
	}
	l.sweepCron.Start()
	return nil
}

func (l *Limiter) Stop() {
	if l.sweepCron != nil {
		ctx := l.sweepCron.Stop()
		<-ctx.Done()
	}
}

// sweep removes windows that have fully expired. It holds the lock only
// long enough to build and delete the expired key list, never blocking
// a concurrent Check for more than that.
func (l *Limiter) sweep() {
	now := l.now().UnixMilli()
	l.mu.Lock()
	var expired []string
	for k, entry := range l.buckets {
		if rule, ok := l.ruleForKey(k); ok && now-entry.WindowStart >= rule.WindowMs {
			expired = append(expired, k)
		}
	}
	for _, k := range expired {
		delete(l.buckets, k)
	}
	l.mu.Unlock()

	if l.logger != nil && len(expired) > 0 {
		l.logger.Debug().Int("expired", len(expired)).Msg("rate limit sweep removed expired windows")
	}
}

func (l *Limiter) ruleForKey(bucket string) (Rule, bool) {
	// bucket is "<ruleName>:<keyType>:<key>"; ruleName never contains ':'.
	for i := 0; i < len(bucket); i++ {
		if bucket[i] == ':' {
			r, ok := l.rules[bucket[:i]]
			return r, ok
		}
	}
	return Rule{}, false
}

// Check evaluates rule against key, advancing or resetting its window as
// needed, and returns whether the call is allowed. ctx is accepted only
// to satisfy the shared Limiter interface; the in-memory implementation
// never performs I/O and so never observes cancellation.
func (l *Limiter) Check(_ context.Context, ruleName string, keyType KeyType, key string) (Result, error) {
	l.totalChecks.Add(1)

	rule, ok := l.rules[ruleName]
	if !ok {
		return Result{}, fmt.Errorf("ratelimit: unknown rule %q", ruleName)
	}

	now := l.now().UnixMilli()
	bk := bucketKey(ruleName, keyType, key)

	l.mu.Lock()
	defer l.mu.Unlock()

	entry, exists := l.buckets[bk]
	if !exists || now-entry.WindowStart >= rule.WindowMs {
		entry = &WindowEntry{Count: 0, WindowStart: now}
		l.buckets[bk] = entry
	}

	resetAt := entry.WindowStart + rule.WindowMs

	if entry.Count < rule.MaxRequests {
		entry.Count++
		return Result{
			Allowed:   true,
			Remaining: rule.MaxRequests - entry.Count,
			ResetAt:   resetAt,
			Rule:      rule.Name,
		}, nil
	}

	l.totalHits.Add(1)
	if l.logger != nil {
		l.logger.Info().Str("rule", rule.Name).Str("keyType", string(keyType)).Str("key", key).Msg("rate limit exceeded")
	}

	if rule.OnExceed == OnExceedLogOnly {
		entry.Count++
		return Result{
			Allowed:   true,
			Remaining: 0,
			ResetAt:   resetAt,
			Rule:      rule.Name,
		}, nil
	}

	retryAfterMs := resetAt - now
	retryAfterSec := int((retryAfterMs + 999) / 1000)
	if retryAfterSec < 0 {
		retryAfterSec = 0
	}
	return Result{
		Allowed:    false,
		Remaining:  0,
		ResetAt:    resetAt,
		RetryAfter: retryAfterSec,
		Rule:       rule.Name,
	}, nil
}

// CheckMultiple evaluates every rule in order, returning the first
// blocking result it finds. If none block, it returns the result with
// the smallest remaining count, i.e. the most restrictive allowing
// result.
func (l *Limiter) CheckMultiple(ctx context.Context, checks []MultiCheck) (Result, error) {
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

// GetStats returns the lifetime observability snapshot. The in-memory
// implementation never fails, but the return shape matches the shared
// Limiter interface so callers work against either implementation.
func (l *Limiter) GetStats(_ context.Context) (Stats, error) {
	l.mu.Lock()
	active := len(l.buckets)
	l.mu.Unlock()

	return Stats{
		ActiveWindows: active,
		Rules:         len(l.rules),
		TotalHits:     l.totalHits.Load(),
		TotalChecks:   l.totalChecks.Load(),
	}, nil
}
