package session

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// Resolver derives guest sessions from inbound cookies.
//
// It holds no per-request state; writing a freshly minted token back to the
// client is the caller's job.
type Resolver struct {
	secret []byte
}

// NewResolver creates a Resolver keyed with the server-side correlation
// secret. A missing or short secret is a configuration error and must stop
// the process at boot.
func NewResolver(secret []byte) (*Resolver, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("session secret is required")
	}
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("session secret must be at least %d bytes, got %d", MinSecretLength, len(secret))
	}

	key := make([]byte, len(secret))
	copy(key, secret)
	return &Resolver{secret: key}, nil
}

// GetOrCreateSessionID returns the session token carried in cookieHeader if
// it is a well-formed v4 UUID, otherwise a freshly minted one. minted is
// true when the caller must set the cookie on the response.
func (r *Resolver) GetOrCreateSessionID(cookieHeader string) (id string, minted bool) {
	if existing, ok := parseSessionCookie(cookieHeader); ok {
		return existing, false
	}
	return uuid.New().String(), true
}

// FromRequest is GetOrCreateSessionID for an inbound request.
func (r *Resolver) FromRequest(req *http.Request) (id string, minted bool) {
	return r.GetOrCreateSessionID(strings.Join(req.Header.Values("Cookie"), "; "))
}

// CorrelationHash returns HMAC-SHA256(secret, sessionID) as lowercase hex.
//
// The hash is the only form of the session stored server side, so a leaked
// ledger row cannot be replayed as a cookie.
func (r *Resolver) CorrelationHash(sessionID string) string {
	mac := hmac.New(sha256.New, r.secret)
	mac.Write([]byte(sessionID))
	return hex.EncodeToString(mac.Sum(nil))
}

// parseSessionCookie extracts a valid session token from a Cookie header.
// Anything that does not parse is treated as absent.
func parseSessionCookie(header string) (string, bool) {
	if header == "" {
		return "", false
	}

	cookies, err := http.ParseCookie(header)
	if err != nil {
		// A single broken pair fails the whole header; fall back to a
		// lenient scan so unrelated cookies do not discard the session.
		req := http.Request{Header: http.Header{"Cookie": {header}}}
		cookies = req.Cookies()
	}

	for _, c := range cookies {
		if c.Name != CookieName {
			continue
		}
		if IsValidSessionID(c.Value) {
			return c.Value, true
		}
	}
	return "", false
}

// IsValidSessionID reports whether v is a canonical lowercase v4 UUID.
func IsValidSessionID(v string) bool {
	if len(v) != 36 {
		return false
	}
	id, err := uuid.Parse(v)
	if err != nil {
		return false
	}
	if id.Version() != 4 || id.Variant() != uuid.RFC4122 {
		return false
	}
	return id.String() == v
}
