// Package domain contains core business types and interfaces.
//
// This file defines quota types for metering chat messages per identity.
package domain

import "time"

// ResourceType identifies the metered resource.
type ResourceType string

const (
	ResourceChatMessage ResourceType = "chat_message"
)

// Layer names the backing store that answered a ledger call.
type Layer string

const (
	LayerCache    Layer = "cache"
	LayerDatabase Layer = "database"
	LayerFailOpen Layer = "fail_open"
)

// TierName identifies a quota tier.
type TierName string

const (
	TierGuest TierName = "guest"
	TierFree  TierName = "free"
	TierPro   TierName = "pro"
)

// TierLimits holds the per-window message ceilings for each tier.
// Pro is a large sentinel: effectively unlimited but still counted.
type TierLimits struct {
	Guest int
	Free  int
	Pro   int
}

// DefaultTierLimits returns the limits used when none are configured.
func DefaultTierLimits() TierLimits {
	return TierLimits{
		Guest: 5,
		Free:  20,
		Pro:   1_000_000,
	}
}

// Tier is the outcome of tier policy resolution.
type Tier struct {
	Name  TierName
	Limit int
}

// RateLimitResult is the decision returned to callers of both the enforcing
// and the read-only checks.
type RateLimitResult struct {
	Allowed   bool
	Count     int
	Remaining int
	Limit     int
	ResetTime time.Time
	Layer     Layer
	Tier      TierName
}
