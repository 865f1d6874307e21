// internal/auth/session_test.go
package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndVerifyToken(t *testing.T) {
	a, err := New()
	require.NoError(t, err)

	token, err := a.CreateToken("user-123")
	require.NoError(t, err)

	sub, err := a.VerifyToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-123", sub)
}

func TestVerifyRejectsForeignKey(t *testing.T) {
	a, err := New()
	require.NoError(t, err)
	b, err := New()
	require.NoError(t, err)

	token, err := a.CreateToken("user-123")
	require.NoError(t, err)

	_, err = b.VerifyToken(token)
	assert.Error(t, err)
}

func TestVerifyRejectsGarbage(t *testing.T) {
	a, err := New()
	require.NoError(t, err)

	_, err = a.VerifyToken("not-a-token")
	assert.Error(t, err)
}
