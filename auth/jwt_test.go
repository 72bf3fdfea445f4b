package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	a := NewJWTAuth(JWTConfig{Secret: "s3cret"}, nil)

	u := &User{
		Username:   "ana",
		IsInternal: true,
		Attributes: map[string]any{"department": "engineering"},
	}
	token, err := a.IssueToken(u)
	require.NoError(t, err)

	got, err := a.UserFromToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "ana", got.Username)
	assert.True(t, got.IsInternal)
	assert.Equal(t, "engineering", got.Attributes["department"])
}

func TestTokenRejectsTampering(t *testing.T) {
	a := NewJWTAuth(JWTConfig{Secret: "s3cret"}, nil)
	other := NewJWTAuth(JWTConfig{Secret: "different"}, nil)

	token, err := other.IssueToken(&User{Username: "mallory"})
	require.NoError(t, err)

	_, err = a.UserFromToken(context.Background(), token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = a.UserFromToken(context.Background(), "not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAPIKeys(t *testing.T) {
	svc := &User{Username: "svc", IsInternal: true}
	a := NewJWTAuth(JWTConfig{Secret: "s"}, map[string]*User{"key-123": svc})

	got, err := a.UserFromAPIKey(context.Background(), "key-123")
	require.NoError(t, err)
	assert.Equal(t, svc, got)

	_, err = a.UserFromAPIKey(context.Background(), "wrong")
	assert.ErrorIs(t, err, ErrInvalidAPIKey)
}

func TestScopeAccess(t *testing.T) {
	a := NewJWTAuth(JWTConfig{Secret: "s"}, nil)

	guest := (*User)(nil)
	member := &User{Username: "m"}
	admin := &User{Username: "a", IsInternal: true}

	assert.True(t, a.CanAccessScope(guest, ScopePublic))
	assert.False(t, a.CanAccessScope(guest, ScopeProtected))
	assert.False(t, a.CanAccessScope(guest, ScopePrivate))

	assert.True(t, a.CanAccessScope(member, ScopeProtected))
	assert.False(t, a.CanAccessScope(member, ScopePrivate))

	assert.True(t, a.CanAccessScope(admin, ScopePrivate))
}

func TestParseScopeDefaultsToPublic(t *testing.T) {
	assert.Equal(t, ScopePublic, ParseScope(""))
	assert.Equal(t, ScopePublic, ParseScope("anything"))
	assert.Equal(t, ScopePrivate, ParseScope("private"))
}
