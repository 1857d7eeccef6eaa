package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenManager_IssueAndValidate(t *testing.T) {
	m := NewTokenManager("sentineld-runtime", []byte("current-secret-32-bytes-long!!!"))

	token, jti, err := m.IssueToken("admin", "admin", 0, time.Hour)
	require.NoError(t, err)
	assert.NotEmpty(t, jti)

	claims, err := m.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "admin", claims.Subject)
	assert.Equal(t, "admin", claims.Role)
	assert.Equal(t, jti, claims.ID)
}

func TestTokenManager_GraceAfterRotation(t *testing.T) {
	m := NewTokenManager("sentineld-runtime", []byte("old-secret-32-bytes-long-enough!"))
	token, _, err := m.IssueToken("admin", "admin", 0, time.Hour)
	require.NoError(t, err)

	m.UpdateSecret([]byte("new-secret-32-bytes-long-enough!"))

	claims, err := m.ValidateToken(token)
	require.NoError(t, err, "token signed with the old secret should still validate during the grace window")
	assert.Equal(t, "admin", claims.Subject)

	m.ClearPreviousSecret()
	_, err = m.ValidateToken(token)
	assert.Error(t, err, "old-secret token must be rejected once the grace window is cleared")
}

func TestTokenManager_RejectsWrongSecret(t *testing.T) {
	m := NewTokenManager("sentineld-runtime", []byte("secret-a-32-bytes-long-enough!!!"))
	token, _, err := m.IssueToken("admin", "admin", 0, time.Hour)
	require.NoError(t, err)

	other := NewTokenManager("sentineld-runtime", []byte("secret-b-32-bytes-long-enough!!!"))
	_, err = other.ValidateToken(token)
	assert.Error(t, err)
}
