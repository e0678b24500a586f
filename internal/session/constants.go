// Package session resolves the anonymous guest session carried in the
// session cookie and derives the correlation hash used as its storage key.
package session

import (
	"net/http"
	"time"
)

const (
	// CookieName is the name of the cookie that stores the guest session token.
	CookieName = "session_id"

	// CookiePath ensures the cookie is sent with all requests.
	CookiePath = "/"

	// CookieMaxAge sets the cookie expiration (30 days = 2592000 seconds).
	CookieMaxAge = 30 * 24 * 60 * 60

	// MinSecretLength is the minimum length of the correlation secret in bytes.
	MinSecretLength = 32
)

// NewCookie returns the outbound cookie carrying a session token.
func NewCookie(sessionID string, secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    sessionID,
		Path:     CookiePath,
		MaxAge:   CookieMaxAge,
		Expires:  time.Now().Add(CookieMaxAge * time.Second),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// ClearCookie returns a cookie that removes the session token from the client.
func ClearCookie(secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     CookiePath,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
}
