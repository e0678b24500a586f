// Package middleware contains HTTP middleware for the quota gateway.
//
// Middleware functions follow the standard Go pattern of wrapping http.Handler.
// They are designed to be composed using a middleware stack approach.
package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/DukeRupert/chatquota/internal/auth"
	"github.com/DukeRupert/chatquota/internal/domain"
	"github.com/DukeRupert/chatquota/internal/handler"
	"github.com/DukeRupert/chatquota/internal/session"
	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// =============================================================================
// Identity Middleware
// =============================================================================

// IdentityMiddleware resolves the identity of every request.
//
// Every request carries a guest session: an existing valid session_id
// cookie is reused, anything else gets a freshly minted one written back to
// the client. A valid bearer token upgrades the identity to its user, and
// the session hash is kept so the login hook can migrate guest data.
type IdentityMiddleware struct {
	resolver *session.Resolver
	jwtKey   []byte
	logger   *slog.Logger
	isSecure bool // Whether to set Secure flag on cookies (true in production)
}

// NewIdentityMiddleware creates a new IdentityMiddleware.
//
// Parameters:
// - resolver: Session resolver keyed with the correlation secret
// - jwtKey: HMAC key that signs user access tokens
// - logger: Structured logger for auth events
// - isSecure: Set to true in production to enable Secure cookie flag
func NewIdentityMiddleware(resolver *session.Resolver, jwtKey []byte, logger *slog.Logger, isSecure bool) *IdentityMiddleware {
	return &IdentityMiddleware{
		resolver: resolver,
		jwtKey:   jwtKey,
		logger:   logger,
		isSecure: isSecure,
	}
}

// WithIdentity stores the resolved identity in the request context and
// always continues to the next handler, except for a bearer token that
// fails validation, which is rejected with 401.
//
// Flow:
//
//	Request -> WithIdentity -> Handler
//	           |
//	           +-> Read or mint session_id (set cookie if minted)
//	           +-> Hash session token
//	           +-> Validate bearer token (if present)
//	           +-> Set identity in context
func (m *IdentityMiddleware) WithIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessionID, minted := m.resolver.FromRequest(r)
		if minted {
			http.SetCookie(w, session.NewCookie(sessionID, m.isSecure))
		}
		sessionHash := m.resolver.CorrelationHash(sessionID)

		identity := domain.GuestIdentity(sessionHash)

		if token, ok := bearerToken(r); ok {
			userID, err := m.parseToken(token)
			if err != nil {
				m.logger.Info("rejected bearer token",
					"path", r.URL.Path,
					"error", err,
				)
				handler.UnauthorizedResponse(w, r, m.logger)
				return
			}
			identity = domain.UserIdentity(userID, sessionHash)
		}

		reportIdentity(r.Context(), identity)
		ctx := auth.SetIdentity(r.Context(), identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireUser rejects requests whose identity is not an authenticated user.
//
// IMPORTANT: This middleware must be used AFTER WithIdentity in the chain.
func (m *IdentityMiddleware) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := auth.GetIdentityFromRequest(r)
		if !ok || identity.IsGuest() {
			handler.UnauthorizedResponse(w, r, m.logger)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// parseToken validates an HS256 access token and returns its subject.
func (m *IdentityMiddleware) parseToken(raw string) (uuid.UUID, error) {
	const op = "middleware.parse_token"

	token, err := jwt.Parse([]byte(raw),
		jwt.WithKey(jwa.HS256, m.jwtKey),
		jwt.WithValidate(true),
	)
	if err != nil {
		return uuid.Nil, domain.Wrap(err, domain.EUNAUTHORIZED, op, "invalid access token")
	}

	userID, err := uuid.Parse(token.Subject())
	if err != nil {
		return uuid.Nil, domain.Wrap(err, domain.EUNAUTHORIZED, op, "access token subject is not a user ID")
	}

	return userID, nil
}

// bearerToken extracts the token from an "Authorization: Bearer" header.
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// =============================================================================
// Middleware Stack Helpers
// =============================================================================

// Stack composes multiple middleware functions into a single middleware.
//
// Middleware is applied in the order provided, meaning the first middleware
// in the slice is the outermost (runs first on request, last on response).
//
// Example:
//
//	stack := Stack(identityMw.WithIdentity, quotaMw.Enforce)
//	chatHandler.RegisterRoutes(mux, stack)
func Stack(middlewares ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(final http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			final = middlewares[i](final)
		}
		return final
	}
}

// Ensure middleware functions have correct signature
var (
	_ func(http.Handler) http.Handler = (&IdentityMiddleware{}).WithIdentity
	_ func(http.Handler) http.Handler = (&IdentityMiddleware{}).RequireUser
)
