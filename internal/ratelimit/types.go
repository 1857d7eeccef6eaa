package ratelimit

import "context"

// MultiCheck is one entry of a CheckMultiple call.
type MultiCheck struct {
	Rule    string
	KeyType KeyType
	Key     string
}

// Limiter is the external contract both the in-memory Limiter and the
// Redis-backed RedisLimiter satisfy, so callers can be built against
// whichever one bootstrap selects (ratelimit.New or
// ratelimit.NewRedisLimiter, picked via REDIS_URL) without caring which.
type Limiter interface {
	Check(ctx context.Context, ruleName string, keyType KeyType, key string) (Result, error)
	CheckMultiple(ctx context.Context, checks []MultiCheck) (Result, error)
	GetStats(ctx context.Context) (Stats, error)
}

// KeyType selects which part of the request a rule's key is drawn from.
type KeyType string

const (
	KeyTypeIP     KeyType = "ip"
	KeyTypeUser   KeyType = "user"
	KeyTypeAPIKey KeyType = "api_key"
	KeyTypeGlobal KeyType = "global"
)

// OnExceed selects the behavior once a window's count reaches maxRequests.
type OnExceed string

const (
	OnExceedReject  OnExceed = "reject"
	OnExceedDelay   OnExceed = "delay"
	OnExceedLogOnly OnExceed = "log_only"
)

// Rule describes one sliding-window limit.
type Rule struct {
	Name        string   `yaml:"name" json:"name"`
	WindowMs    int64    `yaml:"windowMs" json:"windowMs"`
	MaxRequests int      `yaml:"maxRequests" json:"maxRequests"`
	KeyType     KeyType  `yaml:"keyType" json:"keyType"`
	OnExceed    OnExceed `yaml:"onExceed" json:"onExceed"`
}

// WindowEntry is a single (rule, keyType, key) bucket.
type WindowEntry struct {
	Count       int
	WindowStart int64 // unix millis
}

// Result is the outcome of a Check.
type Result struct {
	Allowed    bool
	Remaining  int
	ResetAt    int64 // unix millis
	RetryAfter int   // seconds, only meaningful when Allowed is false
	Rule       string
}

// Stats is the limiter's lifetime observability snapshot.
type Stats struct {
	ActiveWindows int
	Rules         int
	TotalHits     int64
	TotalChecks   int64
}

// DefaultRules returns the four rules every implementation ships with
// per the common seeded-rules table.
func DefaultRules() []Rule {
	return []Rule{
		{Name: "api_requests", WindowMs: 60_000, MaxRequests: 100, KeyType: KeyTypeUser, OnExceed: OnExceedReject},
		{Name: "auth_attempts", WindowMs: 900_000, MaxRequests: 5, KeyType: KeyTypeIP, OnExceed: OnExceedReject},
		{Name: "task_creation", WindowMs: 60_000, MaxRequests: 20, KeyType: KeyTypeUser, OnExceed: OnExceedReject},
		{Name: "expensive_operations", WindowMs: 3_600_000, MaxRequests: 10, KeyType: KeyTypeUser, OnExceed: OnExceedReject},
	}
}
