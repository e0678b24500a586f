// Package service contains the business logic layer.
//
// This file implements the rate limit orchestrator: identity, then paid
// entitlement, then tier, then a ledger call.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/DukeRupert/chatquota/internal/billing"
	"github.com/DukeRupert/chatquota/internal/domain"
	"github.com/DukeRupert/chatquota/internal/entitlement"
	"github.com/DukeRupert/chatquota/internal/ledger"
	"github.com/DukeRupert/chatquota/internal/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/DukeRupert/chatquota/internal/service"

// =============================================================================
// Interface Definition
// =============================================================================

// RateLimitService decides whether an identity may send a chat message.
//
// Neither method returns an error: ledger and subscription outages fail
// open and are logged.
type RateLimitService interface {
	// Enforce consumes one message from the identity's quota if any remains.
	// Use it on the metered action itself.
	Enforce(ctx context.Context, identity domain.Identity) *domain.RateLimitResult

	// Status reports the identity's quota without consuming anything. Any
	// number of calls leave the result of a later Enforce unchanged.
	Status(ctx context.Context, identity domain.Identity) *domain.RateLimitResult
}

// QuotaLedger is the part of the ledger the orchestrator needs.
type QuotaLedger interface {
	CheckAndIncrement(ctx context.Context, key string, resource domain.ResourceType, limit, windowHours int) ledger.Result
	Peek(ctx context.Context, key string, resource domain.ResourceType, limit, windowHours int) ledger.Result
}

// Ensure interface compliance at compile time.
var _ QuotaLedger = (*ledger.Ledger)(nil)

// =============================================================================
// Implementation
// =============================================================================

type rateLimitService struct {
	ledger        QuotaLedger
	subscriptions billing.Reader
	policy        *TierPolicy
	windowHours   int
	logger        *slog.Logger
	tracer        trace.Tracer
	now           func() time.Time
}

// NewRateLimitService creates a new RateLimitService.
func NewRateLimitService(
	quota QuotaLedger,
	subscriptions billing.Reader,
	policy *TierPolicy,
	windowHours int,
	logger *slog.Logger,
) RateLimitService {
	if windowHours <= 0 {
		windowHours = ledger.DefaultWindowHours
	}
	return &rateLimitService{
		ledger:        quota,
		subscriptions: subscriptions,
		policy:        policy,
		windowHours:   windowHours,
		logger:        logger,
		tracer:        otel.Tracer(tracerName),
		now:           time.Now,
	}
}

// Enforce consumes one chat message for identity.
func (s *rateLimitService) Enforce(ctx context.Context, identity domain.Identity) *domain.RateLimitResult {
	ctx, span := s.tracer.Start(ctx, "RateLimitService.Enforce")
	defer span.End()

	tier := s.resolveTier(ctx, identity)
	res := s.ledger.CheckAndIncrement(ctx, identity.Key(), domain.ResourceChatMessage, tier.Limit, s.windowHours)
	result := toRateLimitResult(res, tier)

	outcome := "allowed"
	if !result.Allowed {
		outcome = "denied"
		s.logger.Info("chat message quota exceeded",
			"identity_kind", identity.Kind,
			"tier", tier.Name,
			"count", result.Count,
			"limit", result.Limit,
			"reset_at", result.ResetTime,
		)
	}
	metrics.QuotaDecisions.WithLabelValues(string(tier.Name), string(result.Layer), outcome).Inc()
	annotate(span, identity, result)

	return result
}

// Status reports the chat message quota for identity.
func (s *rateLimitService) Status(ctx context.Context, identity domain.Identity) *domain.RateLimitResult {
	ctx, span := s.tracer.Start(ctx, "RateLimitService.Status")
	defer span.End()

	tier := s.resolveTier(ctx, identity)
	res := s.ledger.Peek(ctx, identity.Key(), domain.ResourceChatMessage, tier.Limit, s.windowHours)
	result := toRateLimitResult(res, tier)

	metrics.QuotaDecisions.WithLabelValues(string(tier.Name), string(result.Layer), "status").Inc()
	annotate(span, identity, result)

	return result
}

// resolveTier looks up paid entitlement for users and applies the tier
// policy. A failed subscription read is evaluated at the pro ceiling.
func (s *rateLimitService) resolveTier(ctx context.Context, identity domain.Identity) domain.Tier {
	if identity.IsGuest() {
		return s.policy.Resolve(identity, nil)
	}

	rec, err := s.subscriptions.ReadSubscription(ctx, identity.UserID)
	if err != nil {
		s.logger.Error("subscription read failed, using pro limit",
			"user_id", identity.UserID,
			"error", err,
		)
		return s.policy.Tier(domain.TierPro)
	}

	access := entitlement.Calculate(rec, s.now())
	metrics.EntitlementDecisions.WithLabelValues(string(access.Reason)).Inc()

	return s.policy.Resolve(identity, &access)
}

func toRateLimitResult(res ledger.Result, tier domain.Tier) *domain.RateLimitResult {
	return &domain.RateLimitResult{
		Allowed:   res.Allowed,
		Count:     res.Count,
		Remaining: res.Remaining,
		Limit:     res.Limit,
		ResetTime: res.WindowEnd,
		Layer:     res.Layer,
		Tier:      tier.Name,
	}
}

func annotate(span trace.Span, identity domain.Identity, result *domain.RateLimitResult) {
	span.SetAttributes(
		attribute.String("quota.identity_kind", string(identity.Kind)),
		attribute.String("quota.tier", string(result.Tier)),
		attribute.String("quota.layer", string(result.Layer)),
		attribute.Bool("quota.allowed", result.Allowed),
		attribute.Int("quota.remaining", result.Remaining),
	)
}
