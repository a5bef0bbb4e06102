package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWT_VerifyRoundTrip(t *testing.T) {
	j := NewJWT("test-secret")

	token, err := j.Sign("user-123", time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	userID, err := j.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user-123", userID)
}

func TestJWT_VerifyRejections(t *testing.T) {
	j := NewJWT("test-secret")

	valid, err := j.Sign("user-123", time.Hour)
	require.NoError(t, err)

	expired, err := j.Sign("user-123", -time.Minute)
	require.NoError(t, err)

	foreign, err := NewJWT("other-secret").Sign("user-123", time.Hour)
	require.NoError(t, err)

	noUserID, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{name: "empty token", token: ""},
		{name: "garbage token", token: "not.a.jwt"},
		{name: "expired token", token: expired},
		{name: "wrong secret", token: foreign},
		{name: "missing userId claim", token: noUserID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			userID, err := j.Verify(tt.token)
			assert.ErrorIs(t, err, ErrInvalidToken)
			assert.Empty(t, userID)
		})
	}

	// Sanity check that the fixture secret still verifies.
	userID, err := j.Verify(valid)
	require.NoError(t, err)
	assert.Equal(t, "user-123", userID)
}

func TestJWT_SignEmptyUserID(t *testing.T) {
	j := NewJWT("test-secret")

	token, err := j.Sign("", time.Hour)
	assert.Error(t, err)
	assert.Empty(t, token)
}
