package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/DukeRupert/chatquota/internal/auth"
	"github.com/DukeRupert/chatquota/internal/domain"
	"github.com/DukeRupert/chatquota/internal/service"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Rate limit response headers. Both the enforcing and the status path set
// all four.
const (
	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRateLimitReset     = "X-RateLimit-Reset"
	HeaderRateLimitLayer     = "X-RateLimit-Layer"
)

var titleCase = cases.Title(language.English)

// WriteRateLimitHeaders sets the rate limit headers for result. The reset
// time is in epoch milliseconds.
func WriteRateLimitHeaders(w http.ResponseWriter, result *domain.RateLimitResult) {
	h := w.Header()
	h.Set(HeaderRateLimitLimit, strconv.Itoa(result.Limit))
	h.Set(HeaderRateLimitRemaining, strconv.Itoa(result.Remaining))
	h.Set(HeaderRateLimitReset, strconv.FormatInt(result.ResetTime.UnixMilli(), 10))
	h.Set(HeaderRateLimitLayer, string(result.Layer))
}

// QuotaExceeded is the 429 response body.
type QuotaExceeded struct {
	Error   string    `json:"error"`
	Reason  string    `json:"reason"`
	Message string    `json:"message"`
	ResetAt time.Time `json:"reset_at"`
}

// QuotaExceededResponse writes the 429 response for a denied result.
// Headers must already be set with WriteRateLimitHeaders.
func QuotaExceededResponse(w http.ResponseWriter, result *domain.RateLimitResult) {
	retryAfter := int(time.Until(result.ResetTime).Seconds())
	if retryAfter < 1 {
		retryAfter = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))

	writeJSON(w, http.StatusTooManyRequests, QuotaExceeded{
		Error:   domain.ERATELIMIT,
		Reason:  string(result.Tier) + "_limit_reached",
		Message: denialMessage(result),
		ResetAt: result.ResetTime.UTC(),
	})
}

func denialMessage(result *domain.RateLimitResult) string {
	msg := fmt.Sprintf("%s daily message limit of %d reached. Resets at %s.",
		titleCase.String(string(result.Tier)),
		result.Limit,
		result.ResetTime.UTC().Format("15:04 MST"),
	)
	switch result.Tier {
	case domain.TierGuest:
		msg += " Sign in to keep chatting."
	case domain.TierFree:
		msg += " Upgrade to Pro for more messages."
	}
	return msg
}

// RateLimitStatus is the body of the status endpoint.
type RateLimitStatus struct {
	Allowed   bool      `json:"allowed"`
	Tier      string    `json:"tier"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	Count     int       `json:"count"`
	ResetAt   time.Time `json:"reset_at"`
	Layer     string    `json:"layer"`
}

// RateLimitHandler serves the read-only quota status.
type RateLimitHandler struct {
	rateLimits service.RateLimitService
	logger     *slog.Logger
}

// NewRateLimitHandler creates a new RateLimitHandler.
func NewRateLimitHandler(rateLimits service.RateLimitService, logger *slog.Logger) *RateLimitHandler {
	return &RateLimitHandler{
		rateLimits: rateLimits,
		logger:     logger,
	}
}

// RegisterRoutes registers the status route behind the identity middleware
// and an optional poll throttle.
func (h *RateLimitHandler) RegisterRoutes(mux *http.ServeMux, stack func(http.Handler) http.Handler) {
	mux.Handle("GET /api/rate-limit", stack(http.HandlerFunc(h.Status)))
}

// Status reports the caller's quota without consuming it.
func (h *RateLimitHandler) Status(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.GetIdentityFromRequest(r)
	if !ok {
		InternalErrorResponse(w, r, h.logger, fmt.Errorf("identity middleware not applied"))
		return
	}

	result := h.rateLimits.Status(r.Context(), identity)

	WriteRateLimitHeaders(w, result)
	writeJSON(w, http.StatusOK, RateLimitStatus{
		Allowed:   result.Allowed,
		Tier:      string(result.Tier),
		Limit:     result.Limit,
		Remaining: result.Remaining,
		Count:     result.Count,
		ResetAt:   result.ResetTime.UTC(),
		Layer:     string(result.Layer),
	})
}
