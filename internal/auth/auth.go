// Package auth resolves opaque session tokens into stable user identities.
// The messaging core treats authentication as an external capability: it only
// needs a Resolver, not the login/signup machinery that issues tokens.
package auth

import (
	"context"
	"errors"
)

// ErrInvalidToken is returned when a token cannot be resolved to an identity.
// The connection must be closed with no further side effects.
var ErrInvalidToken = errors.New("auth: invalid token")

// Resolver validates an opaque token into a stable user identifier.
type Resolver interface {
	Resolve(ctx context.Context, token string) (string, error)
}
