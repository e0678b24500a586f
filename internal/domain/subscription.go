// Package domain contains core business types and interfaces.
//
// This file defines subscription records, owned by the billing pipeline
// and read-only here, and the access decision derived from them.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// SubscriptionPlan is the plan a user is subscribed to.
type SubscriptionPlan string

const (
	PlanFree SubscriptionPlan = "free"
	PlanPro  SubscriptionPlan = "pro"
)

// SubscriptionStatus represents the possible states of a user's subscription.
type SubscriptionStatus string

const (
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
	SubscriptionStatusExpired   SubscriptionStatus = "expired"
	SubscriptionStatusTrial     SubscriptionStatus = "trial"
)

// SubscriptionRecord is a user's subscription as written by billing.
//
// NextBillingAt comes from the payment provider and takes precedence over
// the legacy CurrentPeriodEnd when both are set.
type SubscriptionRecord struct {
	UserID           uuid.UUID
	Plan             SubscriptionPlan
	Status           SubscriptionStatus
	CurrentPeriodEnd *time.Time
	NextBillingAt    *time.Time
}

// PeriodEnd returns NextBillingAt, falling back to CurrentPeriodEnd.
func (s *SubscriptionRecord) PeriodEnd() *time.Time {
	if s.NextBillingAt != nil {
		return s.NextBillingAt
	}
	return s.CurrentPeriodEnd
}

// AccessReason explains an AccessDecision.
type AccessReason string

const (
	ReasonNoSubscription AccessReason = "no_subscription"
	ReasonFreePlan       AccessReason = "free_plan"
	ReasonActive         AccessReason = "active"
	ReasonExpired        AccessReason = "expired"
	ReasonGracePeriod    AccessReason = "grace_period"
	ReasonTrial          AccessReason = "trial"
	ReasonTrialExpired   AccessReason = "trial_expired"
)

// AccessDecision is the paid entitlement derived from a subscription at a
// given instant.
type AccessDecision struct {
	HasAccess       bool
	Reason          AccessReason
	IsInGracePeriod bool
	ExpiresAt       *time.Time
	TimeRemaining   time.Duration // only set for active subscriptions with a period end
}
