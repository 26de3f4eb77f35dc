// Package session persists the bearer token pair of a signed-in account. It
// has no logic beyond get/set/remove: tokens are not validated, and absence
// is reported to the caller rather than raised as an error.
package session

import "context"

// Keys under which the two tokens are persisted.
const (
	KeyAccessToken  = "access_token"
	KeyRefreshToken = "refresh_token"
)

// Tokens is the credential pair issued on login.
type Tokens struct {
	AccessToken  string `redis:"access_token" json:"access_token"`
	RefreshToken string `redis:"refresh_token" json:"refresh_token"`
}

// TokenStore reads and writes the tokens of one profile.
type TokenStore interface {
	// Get returns the stored tokens. ok is false when no access token is stored.
	Get(ctx context.Context) (tokens Tokens, ok bool, err error)
	// Set replaces the stored tokens.
	Set(ctx context.Context, tokens Tokens) error
	// Remove deletes both tokens. Removing absent tokens is not an error.
	Remove(ctx context.Context) error
	// Close releases the backend.
	Close() error
}
