package middleware

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DukeRupert/chatquota/internal/auth"
	"github.com/DukeRupert/chatquota/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

// =============================================================================
// Quota Middleware Tests
// =============================================================================

// countingRateLimits allows the first limit calls to Enforce.
type countingRateLimits struct {
	limit int
	count int
	reset time.Time
}

func (s *countingRateLimits) Enforce(_ context.Context, _ domain.Identity) *domain.RateLimitResult {
	allowed := s.count < s.limit
	if allowed {
		s.count++
	}
	return &domain.RateLimitResult{
		Allowed:   allowed,
		Count:     s.count,
		Remaining: s.limit - s.count,
		Limit:     s.limit,
		ResetTime: s.reset,
		Layer:     domain.LayerDatabase,
		Tier:      domain.TierFree,
	}
}

func (s *countingRateLimits) Status(_ context.Context, _ domain.Identity) *domain.RateLimitResult {
	return &domain.RateLimitResult{Allowed: s.count < s.limit, Count: s.count, Limit: s.limit}
}

func TestQuotaMiddleware_EnforcesAndSetsHeaders(t *testing.T) {
	svc := &countingRateLimits{limit: 2, reset: time.Now().Add(time.Hour)}
	mw := NewQuotaMiddleware(svc, testLogger())

	called := 0
	wrapped := mw.Enforce(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called++
		w.WriteHeader(http.StatusOK)
	}))

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest("POST", "/api/chat", nil)
		req = req.WithContext(auth.SetIdentity(req.Context(), domain.GuestIdentity("abc")))
		rec := httptest.NewRecorder()
		wrapped.ServeHTTP(rec, req)
		return rec
	}

	first := send()
	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "1", first.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "database", first.Header().Get("X-RateLimit-Layer"))

	send()
	denied := send()

	assert.Equal(t, 2, called)
	assert.Equal(t, http.StatusTooManyRequests, denied.Code)
	assert.Equal(t, "0", denied.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "2", denied.Header().Get("X-RateLimit-Limit"))

	var body map[string]any
	require.NoError(t, json.NewDecoder(denied.Body).Decode(&body))
	assert.Equal(t, "free_limit_reached", body["reason"])
	assert.Contains(t, body, "reset_at")
}

func TestQuotaMiddleware_WithoutIdentity(t *testing.T) {
	mw := NewQuotaMiddleware(&countingRateLimits{limit: 1}, testLogger())

	rec := httptest.NewRecorder()
	mw.Enforce(okHandler()).ServeHTTP(rec, httptest.NewRequest("POST", "/api/chat", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

// =============================================================================
// Throttle Tests
// =============================================================================

func TestThrottle_AllowsBurstThenBlocks(t *testing.T) {
	th := NewThrottle(0.001, 3, testLogger())
	defer th.Close()

	for i := 0; i < 3; i++ {
		assert.True(t, th.Allow("192.168.1.1"), "request %d", i+1)
	}
	assert.False(t, th.Allow("192.168.1.1"))
	assert.True(t, th.Allow("192.168.1.2"))
}

func TestThrottle_Middleware(t *testing.T) {
	th := NewThrottle(0.001, 1, testLogger())
	defer th.Close()
	wrapped := th.Limit(okHandler())

	req := httptest.NewRequest("GET", "/api/rate-limit", nil)
	req.RemoteAddr = "10.0.0.1:1234"

	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestThrottle_CloseIsIdempotent(t *testing.T) {
	th := NewThrottle(1, 1, testLogger())
	th.Close()
	th.Close()
}

// =============================================================================
// Client IP Tests
// =============================================================================

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"x-forwarded-for first hop", map[string]string{"X-Forwarded-For": "203.0.113.50, 70.41.3.18"}, "10.0.0.1:1234", "203.0.113.50"},
		{"x-real-ip", map[string]string{"X-Real-IP": " 203.0.113.51 "}, "10.0.0.1:1234", "203.0.113.51"},
		{"remote addr", nil, "10.0.0.1:1234", "10.0.0.1"},
		{"remote addr without port", nil, "10.0.0.1", "10.0.0.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, getClientIP(req))
		})
	}
}
