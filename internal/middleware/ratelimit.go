package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/DukeRupert/chatquota/internal/auth"
	"github.com/DukeRupert/chatquota/internal/domain"
	"github.com/DukeRupert/chatquota/internal/handler"
	"github.com/DukeRupert/chatquota/internal/service"
	"golang.org/x/time/rate"
)

// =============================================================================
// Quota Middleware
// =============================================================================

// QuotaMiddleware charges one chat message before the wrapped handler runs.
type QuotaMiddleware struct {
	rateLimits service.RateLimitService
	logger     *slog.Logger
}

// NewQuotaMiddleware creates a new QuotaMiddleware.
func NewQuotaMiddleware(rateLimits service.RateLimitService, logger *slog.Logger) *QuotaMiddleware {
	return &QuotaMiddleware{
		rateLimits: rateLimits,
		logger:     logger,
	}
}

// Enforce sets the rate limit headers on every response and answers 429
// once the quota is exhausted.
//
// IMPORTANT: This middleware must be used AFTER WithIdentity in the chain.
func (m *QuotaMiddleware) Enforce(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := auth.GetIdentityFromRequest(r)
		if !ok {
			m.logger.Error("Enforce called without identity in context")
			handler.UnauthorizedResponse(w, r, m.logger)
			return
		}

		result := m.rateLimits.Enforce(r.Context(), identity)
		handler.WriteRateLimitHeaders(w, result)

		if !result.Allowed {
			handler.QuotaExceededResponse(w, result)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// =============================================================================
// Throttle
// =============================================================================

// Throttle limits request rate per client IP with a token bucket. It guards
// the status endpoint against aggressive polling and never touches the
// quota ledger.
type Throttle struct {
	rps    rate.Limit
	burst  int
	idle   time.Duration
	logger *slog.Logger

	mu      sync.Mutex
	clients map[string]*throttleEntry
	done    chan struct{}
	once    sync.Once
}

type throttleEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewThrottle creates a Throttle allowing rps requests per second with the
// given burst for each client IP. Call Close to stop its cleanup goroutine.
func NewThrottle(rps float64, burst int, logger *slog.Logger) *Throttle {
	if burst < 1 {
		burst = 1
	}
	t := &Throttle{
		rps:     rate.Limit(rps),
		burst:   burst,
		idle:    10 * time.Minute,
		logger:  logger,
		clients: make(map[string]*throttleEntry),
		done:    make(chan struct{}),
	}

	go t.cleanup()

	return t
}

// Allow reports whether a request from key may proceed now.
func (t *Throttle) Allow(key string) bool {
	t.mu.Lock()
	entry, ok := t.clients[key]
	if !ok {
		entry = &throttleEntry{limiter: rate.NewLimiter(t.rps, t.burst)}
		t.clients[key] = entry
	}
	entry.lastSeen = time.Now()
	t.mu.Unlock()

	return entry.limiter.Allow()
}

// Limit returns middleware that throttles requests per client IP.
func (t *Throttle) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientIP := getClientIP(r)

		if !t.Allow(clientIP) {
			t.logger.Warn("request throttled",
				"ip", clientIP,
				"path", r.URL.Path,
				"method", r.Method,
			)
			w.Header().Set("Retry-After", "1")
			handler.ErrorResponse(w, r, t.logger, domain.Errorf(domain.ERATELIMIT, "middleware.throttle", "Too many requests. Please try again later."))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Close stops the cleanup goroutine.
func (t *Throttle) Close() {
	t.once.Do(func() { close(t.done) })
}

// cleanup periodically removes idle clients to prevent memory leaks.
func (t *Throttle) cleanup() {
	ticker := time.NewTicker(t.idle)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			t.mu.Lock()
			now := time.Now()
			for key, entry := range t.clients {
				if now.Sub(entry.lastSeen) > t.idle {
					delete(t.clients, key)
				}
			}
			t.mu.Unlock()
		}
	}
}

// =============================================================================
// Helpers
// =============================================================================

// getClientIP extracts the client IP from the request, considering proxy headers.
func getClientIP(r *http.Request) string {
	// Check X-Forwarded-For first (most common proxy header)
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// X-Forwarded-For can contain multiple IPs: client, proxy1, proxy2
		// The first one is the original client
		ips := strings.Split(xff, ",")
		if len(ips) > 0 {
			clientIP := strings.TrimSpace(ips[0])
			if clientIP != "" {
				return clientIP
			}
		}
	}

	// Check X-Real-IP (nginx)
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	// Fall back to RemoteAddr
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// RemoteAddr might not have a port
		return r.RemoteAddr
	}

	return ip
}
