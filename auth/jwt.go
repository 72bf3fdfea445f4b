package auth

import (
	"context"
	"errors"
	"time"

	jwt "github.com/golang-jwt/jwt"
)

var (
	ErrInvalidToken  = errors.New("invalid or expired token")
	ErrInvalidAPIKey = errors.New("invalid api key")
)

// JWTConfig configures the built-in JWT authenticator.
type JWTConfig struct {
	// Secret signs and verifies HS256 tokens
	Secret string `mapstructure:"secret" yaml:"secret"`

	// TokenExpiry bounds tokens issued by IssueToken
	TokenExpiry time.Duration `mapstructure:"token_expiry" yaml:"token_expiry"`
}

// JWTAuth validates HS256 bearer tokens and static API keys.
type JWTAuth struct {
	secret  []byte
	expiry  time.Duration
	apiKeys map[string]*User
}

// NewJWTAuth creates an authenticator from the config and an optional set of
// pre-issued API keys.
func NewJWTAuth(conf JWTConfig, apiKeys map[string]*User) *JWTAuth {
	expiry := conf.TokenExpiry
	if expiry <= 0 {
		expiry = time.Hour
	}
	return &JWTAuth{
		secret:  []byte(conf.Secret),
		expiry:  expiry,
		apiKeys: apiKeys,
	}
}

type userClaims struct {
	Username   string         `json:"username"`
	IsInternal bool           `json:"is_internal"`
	Attributes map[string]any `json:"attributes,omitempty"`
	jwt.StandardClaims
}

// IssueToken creates a signed bearer token for the user.
func (a *JWTAuth) IssueToken(u *User) (string, error) {
	now := time.Now()
	claims := userClaims{
		Username:   u.Username,
		IsInternal: u.IsInternal,
		Attributes: u.Attributes,
		StandardClaims: jwt.StandardClaims{
			Subject:   u.Username,
			IssuedAt:  now.Unix(),
			ExpiresAt: now.Add(a.expiry).Unix(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// UserFromToken implements Authenticator.
func (a *JWTAuth) UserFromToken(_ context.Context, token string) (*User, error) {
	var claims userClaims

	t, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return a.secret, nil
	})
	if err != nil || !t.Valid {
		return nil, ErrInvalidToken
	}

	return &User{
		Username:   claims.Username,
		IsInternal: claims.IsInternal,
		Attributes: claims.Attributes,
	}, nil
}

// UserFromAPIKey implements Authenticator.
func (a *JWTAuth) UserFromAPIKey(_ context.Context, key string) (*User, error) {
	if u, ok := a.apiKeys[key]; ok {
		return u, nil
	}
	return nil, ErrInvalidAPIKey
}

// CanAccessScope implements Authenticator.
func (a *JWTAuth) CanAccessScope(u *User, s Scope) bool {
	switch s {
	case ScopePrivate:
		return u != nil && u.IsInternal
	case ScopeProtected:
		return u != nil
	default:
		return true
	}
}
