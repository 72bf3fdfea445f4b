// Package auth provides the authentication capability consumed by the
// squirrels core: token validation, API keys, and authorization scopes.
package auth

import (
	"context"
)

// Scope is the authorization level a dataset or dashboard declares.
type Scope string

const (
	ScopePublic    Scope = "public"
	ScopeProtected Scope = "protected"
	ScopePrivate   Scope = "private"
)

// ParseScope maps a manifest string to a Scope, defaulting to public.
func ParseScope(s string) Scope {
	switch s {
	case string(ScopeProtected):
		return ScopeProtected
	case string(ScopePrivate):
		return ScopePrivate
	default:
		return ScopePublic
	}
}

// User is the resolved identity of a request. A nil *User is a guest.
type User struct {
	Username   string         `json:"username"`
	IsInternal bool           `json:"is_internal"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// Identity returns a stable string used in cache keys.
func (u *User) Identity() string {
	if u == nil {
		return ""
	}
	return u.Username
}

// Admin reports whether the user holds internal access. Guests never do.
func (u *User) Admin() bool {
	return u != nil && u.IsInternal
}

// Attribute looks up a custom user attribute by name.
func (u *User) Attribute(name string) (any, bool) {
	if u == nil || u.Attributes == nil {
		return nil, false
	}
	v, ok := u.Attributes[name]
	return v, ok
}

// Authenticator validates credentials and answers scope checks. The backing
// store (user accounts, OAuth providers, token issuance) is external to the
// core.
type Authenticator interface {
	// UserFromToken resolves a bearer token to a user.
	UserFromToken(ctx context.Context, token string) (*User, error)

	// UserFromAPIKey resolves an x-api-key credential to a user.
	UserFromAPIKey(ctx context.Context, key string) (*User, error)

	// CanAccessScope reports whether the user may access the given scope.
	// Guests reach only public, authenticated users reach protected, and
	// internal users reach private.
	CanAccessScope(u *User, s Scope) bool
}
