// Package crypto provides the cryptographic primitives the rest of the
// runtime is built on: hashing, signing, constant-time comparison, secure
// randomness, and time-sortable identifiers. Every other component (audit
// chain, auth service) calls into this package rather than reaching for
// crypto/sha256 or crypto/hmac directly, so the primitives stay in one
// place and are easy to audit.
package crypto

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// SHA256 returns the SHA-256 digest of b.
func SHA256(b []byte) [32]byte {
	return sha256.Sum256(b)
}

// SHA256Hex returns the lowercase hex-encoded SHA-256 digest of b.
func SHA256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// HMACSHA256 returns the HMAC-SHA-256 of message under key.
func HMACSHA256(key, message []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(message)
	return mac.Sum(nil)
}

// HMACSHA256Hex returns the lowercase hex-encoded HMAC-SHA-256 of message under key.
func HMACSHA256Hex(key, message []byte) string {
	return hex.EncodeToString(HMACSHA256(key, message))
}

// SecureCompare reports whether a and b are equal using a constant-time
// comparison. Used anywhere a secret (API key hash, HMAC signature) is
// compared against an attacker-influenced value, to avoid timing side
// channels.
func SecureCompare(a, b []byte) bool {
	if len(a) != len(b) {
		// Still run a constant-time comparison against a dummy of matching
		// length so callers can't distinguish a length mismatch from a
		// content mismatch by timing.
		dummy := make([]byte, len(a))
		subtle.ConstantTimeCompare(a, dummy)
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}

// SecureCompareString is the string convenience form of SecureCompare.
func SecureCompareString(a, b string) bool {
	return SecureCompare([]byte(a), []byte(b))
}

// RandomHex returns a cryptographically secure random string of n hex
// characters' worth of entropy, i.e. n/2 random bytes hex-encoded. n must
// be even.
func RandomHex(n int) (string, error) {
	if n <= 0 || n%2 != 0 {
		return "", fmt.Errorf("crypto: RandomHex length must be a positive even number, got %d", n)
	}
	buf := make([]byte, n/2)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("crypto: failed to read random bytes: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// UUIDv7 returns a fresh, time-sortable UUID v7 string. Used for
// AuditEntry.id, Task.id, and JWT jti claims so that identifiers are both
// unique and roughly orderable by creation time.
func UUIDv7() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("crypto: failed to generate uuid v7: %w", err)
	}
	return id.String(), nil
}

// MustUUIDv7 is UUIDv7 for call sites that cannot reasonably fail (the
// underlying entropy source failing is treated as a programmer-visible
// invariant violation, not a recoverable error).
func MustUUIDv7() string {
	id, err := UUIDv7()
	if err != nil {
		panic(err)
	}
	return id
}

// CanonicalJSON serializes v the same way the audit chain canonicalizes
// entries: encoding/json already sorts map keys lexicographically, so a
// plain Marshal is a sufficient canonical form for anything built out of
// maps, slices and primitives.
func CanonicalJSON(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// CanonicalHash returns the hex SHA-256 digest of v's canonical JSON form.
// Used for Task.inputHash and Task.result.outputHash.
func CanonicalHash(v interface{}) (string, error) {
	b, err := CanonicalJSON(v)
	if err != nil {
		return "", fmt.Errorf("crypto: failed to canonicalize value: %w", err)
	}
	return SHA256Hex(b), nil
}
