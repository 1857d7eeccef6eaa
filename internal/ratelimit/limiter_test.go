package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T) *Limiter {
	t.Helper()
	return New(DefaultRules(), nil)
}

// TestLimiter_AuthAttemptsBoundary matches the window-boundary scenario:
// five allowed attempts, a sixth denied with retryAfter <= 900s, then
// after 901 simulated seconds another attempt is allowed and the
// lifetime counters read totalHits==1, totalChecks==7.
func TestLimiter_AuthAttemptsBoundary(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()
	start := time.Now()
	l.now = func() time.Time { return start }

	for i := 0; i < 5; i++ {
		result, err := l.Check(ctx, "auth_attempts", KeyTypeIP, "1.2.3.4")
		require.NoError(t, err)
		assert.True(t, result.Allowed, "attempt %d should be allowed", i+1)
	}

	sixth, err := l.Check(ctx, "auth_attempts", KeyTypeIP, "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, sixth.Allowed)
	assert.LessOrEqual(t, sixth.RetryAfter, 900)

	l.now = func() time.Time { return start.Add(901 * time.Second) }
	seventh, err := l.Check(ctx, "auth_attempts", KeyTypeIP, "1.2.3.4")
	require.NoError(t, err)
	assert.True(t, seventh.Allowed)

	stats, err := l.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalHits)
	assert.Equal(t, int64(7), stats.TotalChecks)
}

func TestLimiter_DifferentKeysHaveIndependentWindows(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()
	start := time.Now()
	l.now = func() time.Time { return start }

	for i := 0; i < 5; i++ {
		_, err := l.Check(ctx, "auth_attempts", KeyTypeIP, "1.1.1.1")
		require.NoError(t, err)
	}
	result, err := l.Check(ctx, "auth_attempts", KeyTypeIP, "2.2.2.2")
	require.NoError(t, err)
	assert.True(t, result.Allowed)
}

func TestLimiter_LogOnlyAlwaysAllows(t *testing.T) {
	l := New([]Rule{
		{Name: "noisy", WindowMs: 60_000, MaxRequests: 1, KeyType: KeyTypeGlobal, OnExceed: OnExceedLogOnly},
	}, nil)
	ctx := context.Background()
	start := time.Now()
	l.now = func() time.Time { return start }

	_, err := l.Check(ctx, "noisy", KeyTypeGlobal, "all")
	require.NoError(t, err)
	result, err := l.Check(ctx, "noisy", KeyTypeGlobal, "all")
	require.NoError(t, err)
	assert.True(t, result.Allowed)

	stats, err := l.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalHits)
}

func TestLimiter_CheckMultipleReturnsFirstBlock(t *testing.T) {
	l := New([]Rule{
		{Name: "tight", WindowMs: 60_000, MaxRequests: 1, KeyType: KeyTypeUser, OnExceed: OnExceedReject},
		{Name: "loose", WindowMs: 60_000, MaxRequests: 100, KeyType: KeyTypeUser, OnExceed: OnExceedReject},
	}, nil)
	ctx := context.Background()
	start := time.Now()
	l.now = func() time.Time { return start }

	_, err := l.Check(ctx, "tight", KeyTypeUser, "u1")
	require.NoError(t, err)

	result, err := l.CheckMultiple(ctx, []MultiCheck{
		{Rule: "tight", KeyType: KeyTypeUser, Key: "u1"},
		{Rule: "loose", KeyType: KeyTypeUser, Key: "u1"},
	})
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Equal(t, "tight", result.Rule)
}

func TestLimiter_UnknownRuleErrors(t *testing.T) {
	l := newTestLimiter(t)
	_, err := l.Check(context.Background(), "does_not_exist", KeyTypeUser, "u1")
	assert.Error(t, err)
}

func TestLimiter_StatsNeverDecrease(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()
	start := time.Now()
	l.now = func() time.Time { return start }

	before, err := l.GetStats(ctx)
	require.NoError(t, err)
	_, _ = l.Check(ctx, "api_requests", KeyTypeUser, "u1")
	after, err := l.GetStats(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, after.TotalChecks, before.TotalChecks)
}
