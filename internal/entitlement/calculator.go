// Package entitlement derives paid access from a subscription record.
//
// Calculate is pure: it never reads a clock or storage, so identical inputs
// always give identical decisions.
package entitlement

import (
	"time"

	"github.com/DukeRupert/chatquota/internal/domain"
)

// Calculate returns the access decision for rec at instant now. A nil
// record means the user has never subscribed.
func Calculate(rec *domain.SubscriptionRecord, now time.Time) domain.AccessDecision {
	if rec == nil {
		return domain.AccessDecision{Reason: domain.ReasonNoSubscription}
	}

	if rec.Plan != domain.PlanPro {
		return domain.AccessDecision{Reason: domain.ReasonFreePlan}
	}

	switch rec.Status {
	case domain.SubscriptionStatusActive:
		return active(rec.PeriodEnd(), now)
	case domain.SubscriptionStatusCancelled:
		return bounded(rec.PeriodEnd(), now, domain.ReasonGracePeriod, domain.ReasonExpired, true)
	case domain.SubscriptionStatusTrial:
		return bounded(rec.PeriodEnd(), now, domain.ReasonTrial, domain.ReasonTrialExpired, false)
	default:
		return domain.AccessDecision{Reason: domain.ReasonExpired}
	}
}

// active handles pro/active. An active subscription with no known period
// end is open-ended.
func active(periodEnd *time.Time, now time.Time) domain.AccessDecision {
	if periodEnd == nil {
		return domain.AccessDecision{HasAccess: true, Reason: domain.ReasonActive}
	}
	if periodEnd.Before(now) {
		return domain.AccessDecision{Reason: domain.ReasonExpired}
	}
	end := *periodEnd
	return domain.AccessDecision{
		HasAccess:     true,
		Reason:        domain.ReasonActive,
		ExpiresAt:     &end,
		TimeRemaining: end.Sub(now),
	}
}

// bounded handles states whose access ends at a hard date: cancelled (grace)
// and trial. Without an end date there is no access.
func bounded(end *time.Time, now time.Time, ok, lapsed domain.AccessReason, grace bool) domain.AccessDecision {
	if end == nil || !end.After(now) {
		return domain.AccessDecision{Reason: lapsed}
	}
	e := *end
	return domain.AccessDecision{
		HasAccess:       true,
		Reason:          ok,
		IsInGracePeriod: grace,
		ExpiresAt:       &e,
	}
}
