// Package auth provides request identity context helpers.
//
// This package is designed to be imported by both middleware and handler
// packages without causing import cycles.
package auth

import (
	"context"
	"net/http"

	"github.com/DukeRupert/chatquota/internal/domain"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	// identityContextKey is the key used to store the request identity.
	identityContextKey contextKey = "identity"
)

// GetIdentity retrieves the identity resolved for the request.
//
// Returns false if no identity middleware ran.
//
// Usage:
//
//	identity, ok := auth.GetIdentity(r.Context())
//	if !ok {
//	    // Handle missing identity
//	}
func GetIdentity(ctx context.Context) (domain.Identity, bool) {
	identity, ok := ctx.Value(identityContextKey).(domain.Identity)
	return identity, ok
}

// GetIdentityFromRequest is a convenience wrapper around GetIdentity.
func GetIdentityFromRequest(r *http.Request) (domain.Identity, bool) {
	return GetIdentity(r.Context())
}

// SetIdentity stores an identity in the context.
func SetIdentity(ctx context.Context, identity domain.Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}
