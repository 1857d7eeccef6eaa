package auth

import (
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// BlacklistStore tracks logged-out jtis until their natural expiry.
// Blacklist (in-memory) is the default; RedisBlacklist backs the same
// contract with a shared store so a logout on one instance is honored
// by every other instance behind the same Redis, mirroring the
// teacher's SessionStore.
type BlacklistStore interface {
	Add(jti, userID string, expiresAt time.Time)
	Contains(jti string) bool
}

// BlacklistEntry records a logged-out token's jti until it would have
// expired on its own.
type BlacklistEntry struct {
	JTI       string
	UserID    string
	ExpiresAt time.Time
}

// Blacklist is an in-memory jti denylist with a periodic janitor that
// drops entries past their own expiry, since a blacklisted token that
// has already expired on its own no longer needs tracking.
type Blacklist struct {
	mu      sync.Mutex
	entries map[string]BlacklistEntry

	janitor *cron.Cron
	now     func() time.Time
}

func NewBlacklist() *Blacklist {
	return &Blacklist{
		entries: make(map[string]BlacklistEntry),
		now:     time.Now,
	}
}

func (b *Blacklist) Add(jti, userID string, expiresAt time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[jti] = BlacklistEntry{JTI: jti, UserID: userID, ExpiresAt: expiresAt}
}

func (b *Blacklist) Contains(jti string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.entries[jti]
	return ok
}

// StartJanitor schedules expired-entry cleanup on spec (default every
// 5 minutes).
func (b *Blacklist) StartJanitor(spec string) error {
	if spec == "" {
		spec = "@every 5m"
	}
	b.janitor = cron.New()
	if _, err := b.janitor.AddFunc(spec, b.sweep); err != nil {
		return err
	}
	b.janitor.Start()
	return nil
}

func (b *Blacklist) Stop() {
	if b.janitor != nil {
		ctx := b.janitor.Stop()
		<-ctx.Done()
	}
}

func (b *Blacklist) sweep() {
	now := b.now()
	b.mu.Lock()
	defer b.mu.Unlock()
	for jti, entry := range b.entries {
		if entry.ExpiresAt.Before(now) {
			delete(b.entries, jti)
		}
	}
}

// Size reports the current number of tracked entries; exposed for tests.
func (b *Blacklist) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}
