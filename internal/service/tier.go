package service

import (
	"github.com/DukeRupert/chatquota/internal/domain"
)

// TierPolicy maps an identity and its paid entitlement to a quota tier.
//
// Guests and users go through the same policy so the two paths cannot
// drift apart. Pro keeps a finite limit and is still counted.
type TierPolicy struct {
	limits domain.TierLimits
}

// NewTierPolicy creates a TierPolicy. A zero limit is kept as is and
// denies every request for that tier.
func NewTierPolicy(limits domain.TierLimits) *TierPolicy {
	return &TierPolicy{limits: limits}
}

// Resolve returns the tier for identity. access is ignored for guests, who
// cannot be upgraded; a user with paid access (including a grace period or
// trial) is pro, any other user is free.
func (p *TierPolicy) Resolve(identity domain.Identity, access *domain.AccessDecision) domain.Tier {
	switch {
	case identity.IsGuest():
		return p.Tier(domain.TierGuest)
	case access != nil && access.HasAccess:
		return p.Tier(domain.TierPro)
	default:
		return p.Tier(domain.TierFree)
	}
}

// Tier returns the tier with the given name.
func (p *TierPolicy) Tier(name domain.TierName) domain.Tier {
	switch name {
	case domain.TierPro:
		return domain.Tier{Name: domain.TierPro, Limit: p.limits.Pro}
	case domain.TierFree:
		return domain.Tier{Name: domain.TierFree, Limit: p.limits.Free}
	default:
		return domain.Tier{Name: domain.TierGuest, Limit: p.limits.Guest}
	}
}
