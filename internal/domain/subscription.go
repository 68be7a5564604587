// Package domain contains core business types and interfaces.
//
// This file defines subscription tiers and statuses and the Subscription
// record the usage limiter consults.
package domain

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// SubscriptionStatus represents the possible states of a subscription.
// Values mirror Stripe subscription statuses.
type SubscriptionStatus string

const (
	SubscriptionStatusInactive   SubscriptionStatus = "inactive"
	SubscriptionStatusTrialing   SubscriptionStatus = "trialing"
	SubscriptionStatusActive     SubscriptionStatus = "active"
	SubscriptionStatusPastDue    SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled   SubscriptionStatus = "canceled"
	SubscriptionStatusUnpaid     SubscriptionStatus = "unpaid"
	SubscriptionStatusIncomplete SubscriptionStatus = "incomplete"
)

// SubscriptionTier represents the pricing tier of a subscription.
//
// The module catalog knows free, professional and enterprise. The quota
// table knows starter, professional and enterprise. The two sets are kept
// apart on purpose; see TierModules and TierQuotas.
type SubscriptionTier string

const (
	SubscriptionTierFree         SubscriptionTier = "free"
	SubscriptionTierStarter      SubscriptionTier = "starter"
	SubscriptionTierProfessional SubscriptionTier = "professional"
	SubscriptionTierEnterprise   SubscriptionTier = "enterprise"
)

// Subscription is the billing record for a single tenant.
type Subscription struct {
	UserID               uuid.UUID          `json:"user_id"`
	Tier                 SubscriptionTier   `json:"tier"`
	Status               SubscriptionStatus `json:"status"`
	StripeCustomerID     string             `json:"stripe_customer_id,omitempty"`
	StripeSubscriptionID string             `json:"stripe_subscription_id,omitempty"`
	CurrentPeriodEnd     *time.Time         `json:"current_period_end,omitempty"`
	UpdatedAt            time.Time          `json:"updated_at"`
}

// IsActive reports whether the subscription grants metered usage.
// Only the active status counts; trialing and past_due do not.
func (s *Subscription) IsActive() bool {
	return s != nil && s.Status == SubscriptionStatusActive
}

// EffectiveTier is the tier used for module entitlements. Tenants without an
// active subscription are treated as free.
func (s *Subscription) EffectiveTier() SubscriptionTier {
	if !s.IsActive() || s.Tier == "" {
		return SubscriptionTierFree
	}
	return s.Tier
}

// SubscriptionUpdate carries the fields a billing event may change.
// Empty strings leave the stored value untouched.
type SubscriptionUpdate struct {
	UserID               uuid.UUID
	Tier                 SubscriptionTier
	Status               SubscriptionStatus
	StripeCustomerID     string
	StripeSubscriptionID string
	CurrentPeriodEnd     *time.Time
}

// =============================================================================
// Null helpers
// =============================================================================

// NullStringValue safely extracts a string from sql.NullString.
func NullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// NullTimeValue safely extracts a time pointer from sql.NullTime.
func NullTimeValue(nt sql.NullTime) *time.Time {
	if nt.Valid {
		return &nt.Time
	}
	return nil
}

// ToNullTime converts a time pointer to sql.NullTime.
func ToNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
