package crypto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSHA256Hex_Deterministic(t *testing.T) {
	a := SHA256Hex([]byte("hello"))
	b := SHA256Hex([]byte("hello"))
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestHMACSHA256Hex_DifferentKeysDiffer(t *testing.T) {
	msg := []byte("hash||previousHash")
	sigA := HMACSHA256Hex([]byte("key-a-that-is-32-bytes-long!!!!"), msg)
	sigB := HMACSHA256Hex([]byte("key-b-that-is-32-bytes-long!!!!"), msg)
	assert.NotEqual(t, sigA, sigB)
}

func TestSecureCompare(t *testing.T) {
	assert.True(t, SecureCompareString("abc123", "abc123"))
	assert.False(t, SecureCompareString("abc123", "abc124"))
	assert.False(t, SecureCompareString("abc", "abcd"))
}

func TestRandomHex(t *testing.T) {
	hex1, err := RandomHex(64)
	require.NoError(t, err)
	assert.Len(t, hex1, 64)
	assert.True(t, strings.IndexFunc(hex1, func(r rune) bool {
		return !strings.ContainsRune("0123456789abcdef", r)
	}) == -1)

	hex2, err := RandomHex(64)
	require.NoError(t, err)
	assert.NotEqual(t, hex1, hex2)

	_, err = RandomHex(3)
	assert.Error(t, err)
}

func TestUUIDv7_SortableAndUnique(t *testing.T) {
	a, err := UUIDv7()
	require.NoError(t, err)
	b, err := UUIDv7()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 36)
}
