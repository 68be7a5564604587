// Package domain contains core business types and interfaces.
//
// This file defines the per-tier monthly quotas enforced by the usage limiter.
package domain

// Unlimited marks a quota with no cap.
const Unlimited int64 = -1

// TierQuota defines the monthly limits for a subscription tier.
type TierQuota struct {
	SearchesPerMonth int64 `json:"searches"`
	AlertsPerMonth   int64 `json:"alerts"`
	ExportsPerMonth  int64 `json:"exports"`
}

// TierQuotas maps subscription tiers to their quota limits.
// Free has no row and resolves to the starter quotas through GetTierQuota.
var TierQuotas = map[SubscriptionTier]TierQuota{
	SubscriptionTierStarter: {
		SearchesPerMonth: 100,
		AlertsPerMonth:   100,
		ExportsPerMonth:  10,
	},
	SubscriptionTierProfessional: {
		SearchesPerMonth: 500,
		AlertsPerMonth:   500,
		ExportsPerMonth:  50,
	},
	SubscriptionTierEnterprise: {
		SearchesPerMonth: Unlimited,
		AlertsPerMonth:   Unlimited,
		ExportsPerMonth:  Unlimited,
	},
}

// QuotaTiers lists the tiers that have an entry in TierQuotas.
func QuotaTiers() []SubscriptionTier {
	return []SubscriptionTier{
		SubscriptionTierStarter,
		SubscriptionTierProfessional,
		SubscriptionTierEnterprise,
	}
}

// GetTierQuota returns the quota for a tier, defaulting to starter for unknown tiers.
func GetTierQuota(tier SubscriptionTier) TierQuota {
	if quota, ok := TierQuotas[tier]; ok {
		return quota
	}
	return TierQuotas[SubscriptionTierStarter]
}

// Limit returns the monthly cap for a metered event type.
// ok is false for event types that carry no quota (api_call).
func (q TierQuota) Limit(eventType EventType) (limit int64, ok bool) {
	switch eventType {
	case EventTypeSearch:
		return q.SearchesPerMonth, true
	case EventTypeAlert:
		return q.AlertsPerMonth, true
	case EventTypeExport:
		return q.ExportsPerMonth, true
	default:
		return 0, false
	}
}

// Remaining returns how many events are left under limit, never negative.
// Unlimited quotas report Unlimited.
func Remaining(limit, used int64) int64 {
	if limit == Unlimited {
		return Unlimited
	}
	if used >= limit {
		return 0
	}
	return limit - used
}
