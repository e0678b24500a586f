// Package domain contains core business types and interfaces.
//
// This file defines the identity being rate limited: an anonymous guest
// session or an authenticated user.
package domain

import (
	"github.com/google/uuid"
)

// IdentityKind distinguishes guests from authenticated users.
type IdentityKind string

const (
	IdentityGuest IdentityKind = "guest"
	IdentityUser  IdentityKind = "user"
)

// Identity is the subject of a quota check.
//
// A guest is identified by the correlation hash of its session token, never
// by the raw token. A guest becomes a user only through guest migration.
type Identity struct {
	Kind        IdentityKind
	SessionHash string    // set for guests, and for users that still carry a guest cookie
	UserID      uuid.UUID // set for users
}

// GuestIdentity returns the identity for a guest session hash.
func GuestIdentity(sessionHash string) Identity {
	return Identity{Kind: IdentityGuest, SessionHash: sessionHash}
}

// UserIdentity returns the identity for an authenticated user.
func UserIdentity(userID uuid.UUID, sessionHash string) Identity {
	return Identity{Kind: IdentityUser, UserID: userID, SessionHash: sessionHash}
}

// IsGuest returns true for anonymous identities.
func (i Identity) IsGuest() bool {
	return i.Kind != IdentityUser
}

// Key returns the ledger key for the identity.
func (i Identity) Key() string {
	if i.IsGuest() {
		return GuestKey(i.SessionHash)
	}
	return UserKey(i.UserID)
}

// GuestKey returns the ledger key for a guest session hash.
func GuestKey(sessionHash string) string {
	return "guest:" + sessionHash
}

// UserKey returns the ledger key for a user.
func UserKey(userID uuid.UUID) string {
	return "user:" + userID.String()
}
