package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashAndCheckPassword(t *testing.T) {
	hash, err := HashPassword("s3cret")
	require.NoError(t, err)
	assert.NotEqual(t, "s3cret", hash)

	assert.True(t, CheckPassword(hash, "s3cret"))
	assert.False(t, CheckPassword(hash, "wrong"))
	assert.False(t, CheckPassword("not-a-hash", "s3cret"))
}

func TestIssueAndVerify(t *testing.T) {
	m := NewManager("test-secret", time.Hour)

	token, err := m.Issue(42)
	require.NoError(t, err)

	claims, err := m.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), claims.UserID)
	assert.NotEmpty(t, claims.ID)
}

func TestVerifyRejectsGarbageAndWrongSecret(t *testing.T) {
	m := NewManager("test-secret", time.Hour)

	_, err := m.Verify("not.a.token")
	assert.ErrorIs(t, err, ErrInvalidToken)

	other := NewManager("other-secret", time.Hour)
	token, err := other.Issue(1)
	require.NoError(t, err)
	_, err = m.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsExpired(t *testing.T) {
	m := NewManager("test-secret", -time.Minute)
	token, err := m.Issue(1)
	require.NoError(t, err)

	_, err = m.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRevokeInvalidatesToken(t *testing.T) {
	m := NewManager("test-secret", time.Hour)
	token, err := m.Issue(7)
	require.NoError(t, err)

	claims, err := m.Verify(token)
	require.NoError(t, err)

	m.Revoke(claims)
	_, err = m.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	// Other tokens for the same user stay valid.
	fresh, err := m.Issue(7)
	require.NoError(t, err)
	_, err = m.Verify(fresh)
	assert.NoError(t, err)
}
