// Package audit implements the hash-linked, HMAC-signed, append-only
// audit chain: every decision of consequence elsewhere in the runtime
// writes through Chain.Record, and Chain.Verify can prove nothing in the
// log has been altered after the fact, across any number of signing-key
// rotations.
package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sentineld/runtime/internal/crypto"
)

// Chain is the append-only audit log. Record calls are serialized by mu
// so that the sequence of previousHash values always forms a single
// strand, matching §4.2's concurrency requirement.
type Chain struct {
	mu      sync.Mutex
	storage Storage
	logger  *zerolog.Logger

	keys         map[string]*SigningKey
	currentKeyID string
	nextKeyNum   int

	last *Entry
}

// New constructs a Chain with a single active signing key derived from
// initialSecret (must be at least 32 bytes, matching the environment
// contract in §6). Call Initialize before using it against a non-empty
// storage backend.
func New(storage Storage, initialSecret []byte, logger *zerolog.Logger) (*Chain, error) {
	if len(initialSecret) < 32 {
		return nil, fmt.Errorf("audit: signing key must be at least 32 bytes, got %d", len(initialSecret))
	}
	c := &Chain{
		storage:      storage,
		logger:       logger,
		keys:         map[string]*SigningKey{"1": {KeyID: "1", Secret: append([]byte(nil), initialSecret...)}},
		currentKeyID: "1",
		nextKeyNum:   2,
	}
	return c, nil
}

// Initialize loads any prior chain from storage, verifies it against the
// known key set, and caches the last-entry pointer. Call this once at
// bootstrap, after registering any retired keys the deployment still
// needs via RegisterRetiredKey.
func (c *Chain) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	result, err := c.verifyLocked(ctx)
	if err != nil {
		return err
	}
	if !result.Valid {
		first := "unknown error"
		if len(result.Errors) > 0 {
			first = result.Errors[0]
		}
		return chainBrokenError(first)
	}

	last, err := c.storage.Last(ctx)
	if err != nil {
		return fmt.Errorf("audit: failed to load last entry: %w", err)
	}
	c.last = last
	return nil
}

// RegisterRetiredKey adds a previously-used, now-retired signing key so
// entries signed before this process started still verify. Call before
// Initialize.
func (c *Chain) RegisterRetiredKey(keyID string, secret []byte, retiredAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keys[keyID] = &SigningKey{KeyID: keyID, Secret: append([]byte(nil), secret...), RetiredAt: &retiredAt}
}

// Record builds, signs, and appends the next entry using the current
// signing key, then atomically advances the in-memory "last entry"
// pointer. If storage refuses the append, the pointer is left unchanged.
func (c *Chain) Record(ctx context.Context, partial PartialEntry) (*Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recordLocked(ctx, partial)
}

func (c *Chain) recordLocked(ctx context.Context, partial PartialEntry) (*Entry, error) {
	id, err := crypto.UUIDv7()
	if err != nil {
		return nil, fmt.Errorf("audit: failed to allocate entry id: %w", err)
	}

	prevHash := GenesisHash
	if c.last != nil {
		prevHash = c.last.Hash
	}

	key := c.keys[c.currentKeyID]
	entry := Entry{
		ID:            id,
		Timestamp:     time.Now().UnixMilli(),
		Event:         partial.Event,
		Level:         partial.Level,
		Message:       partial.Message,
		UserID:        partial.UserID,
		TaskID:        partial.TaskID,
		CorrelationID: partial.CorrelationID,
		Metadata:      partial.Metadata,
		PreviousHash:  prevHash,
	}

	hashBytes, err := canonicalBytes(&entry)
	if err != nil {
		return nil, fmt.Errorf("audit: failed to canonicalize entry: %w", err)
	}
	entry.Hash = crypto.SHA256Hex(hashBytes)
	entry.SigningKeyID = key.KeyID
	entry.Signature = crypto.HMACSHA256Hex(key.Secret, []byte(entry.Hash+":"+entry.PreviousHash))

	if err := c.storage.Append(ctx, entry); err != nil {
		// Storage refused the write; the in-memory pointer (c.last) is
		// deliberately left untouched so a retry starts from the same
		// previousHash.
		return nil, fmt.Errorf("audit: failed to append entry: %w", err)
	}

	c.last = &entry
	if c.logger != nil {
		c.logger.Debug().Str("event", entry.Event).Str("id", entry.ID).Msg("audit entry recorded")
	}
	return &entry, nil
}

// Verify walks every entry in insertion order, re-derives its hash,
// checks the previousHash strand, and validates its signature against the
// key identified by signingKeyId. It reports up to maxReportedVerifyErrors
// errors found (at least one) and the total count of entries examined.
func (c *Chain) Verify(ctx context.Context) (*VerifyResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.verifyLocked(ctx)
}

const maxReportedVerifyErrors = 50

func (c *Chain) verifyLocked(ctx context.Context) (*VerifyResult, error) {
	entries, err := c.storage.LoadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("audit: failed to load entries for verification: %w", err)
	}

	result := &VerifyResult{Valid: true}
	expectedPrev := GenesisHash

	for i := range entries {
		e := &entries[i]
		result.EntriesChecked++

		hashBytes, err := canonicalBytes(e)
		if err != nil {
			result.Valid = false
			result.Errors = appendCapped(result.Errors, fmt.Sprintf("entry %d (%s): failed to canonicalize: %v", i, e.ID, err))
			expectedPrev = e.Hash
			continue
		}
		recomputed := crypto.SHA256Hex(hashBytes)
		if recomputed != e.Hash {
			result.Valid = false
			result.Errors = appendCapped(result.Errors, fmt.Sprintf("entry %d (%s): hash mismatch", i, e.ID))
		}
		if e.PreviousHash != expectedPrev {
			result.Valid = false
			result.Errors = appendCapped(result.Errors, fmt.Sprintf("entry %d (%s): previousHash mismatch, chain link broken", i, e.ID))
		}

		key, ok := c.keys[e.SigningKeyID]
		if !ok {
			result.Valid = false
			result.Errors = appendCapped(result.Errors, fmt.Sprintf("entry %d (%s): unknown signing key %q", i, e.ID, e.SigningKeyID))
		} else {
			expectedSig := crypto.HMACSHA256Hex(key.Secret, []byte(e.Hash+":"+e.PreviousHash))
			if !crypto.SecureCompareString(expectedSig, e.Signature) {
				result.Valid = false
				result.Errors = appendCapped(result.Errors, fmt.Sprintf("entry %d (%s): signature invalid", i, e.ID))
			}
		}

		expectedPrev = e.Hash
	}

	return result, nil
}

func appendCapped(errs []string, msg string) []string {
	if len(errs) >= maxReportedVerifyErrors {
		return errs
	}
	return append(errs, msg)
}

// UpdateSigningKey rotates the active signing key: it records an
// audit_key_rotated entry under the current key, registers newSecret
// under a fresh key id, and marks the old key retired-but-retained so
// entries it already signed keep verifying.
func (c *Chain) UpdateSigningKey(ctx context.Context, newSecret []byte) (*SigningKey, error) {
	if len(newSecret) < 32 {
		return nil, fmt.Errorf("audit: signing key must be at least 32 bytes, got %d", len(newSecret))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	oldKeyID := c.currentKeyID
	if _, err := c.recordLocked(ctx, PartialEntry{
		Event:   EventKeyRotated,
		Level:   LevelSecurity,
		Message: "audit signing key rotated",
		Metadata: map[string]interface{}{
			"previousKeyId": oldKeyID,
		},
	}); err != nil {
		return nil, err
	}

	now := time.Now()
	c.keys[oldKeyID].RetiredAt = &now

	newKeyID := fmt.Sprintf("%d", c.nextKeyNum)
	c.nextKeyNum++
	newKey := &SigningKey{KeyID: newKeyID, Secret: append([]byte(nil), newSecret...)}
	c.keys[newKeyID] = newKey
	c.currentKeyID = newKeyID

	return newKey, nil
}

// ClearPreviousKey discards every retired key, leaving only the currently
// active one. Entries signed under a discarded key will subsequently fail
// Verify; this is an explicit operator action, never automatic.
func (c *Chain) ClearPreviousKey() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, k := range c.keys {
		if !k.Active() {
			delete(c.keys, id)
		}
	}
}

// CurrentKeyID returns the id of the key currently used to sign new
// entries.
func (c *Chain) CurrentKeyID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentKeyID
}

func chainBrokenError(firstError string) error {
	return &ChainBrokenError{FirstError: firstError}
}

// ChainBrokenError signals that chain verification failed during
// Initialize; callers should surface errors.ChainBroken and keep the
// service serving read-only until an operator intervenes.
type ChainBrokenError struct {
	FirstError string
}

func (e *ChainBrokenError) Error() string {
	return fmt.Sprintf("audit: chain verification failed: %s", e.FirstError)
}
