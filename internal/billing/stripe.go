// Package billing provides the Stripe integration that keeps subscription
// records in sync with billing events.
package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/DukeRupert/sturgeon/internal/domain"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/subscription"
	"github.com/stripe/stripe-go/v79/webhook"
)

// ErrAPIDisabled is returned by API calls when no secret key is configured.
var ErrAPIDisabled = errors.New("billing: stripe API key not configured")

// Service defines the interface for billing operations.
type Service interface {
	// VerifyWebhookSignature verifies the Stripe webhook signature and returns the event.
	VerifyWebhookSignature(payload []byte, signature string) (stripe.Event, error)

	// TierForPriceID returns the subscription tier for a given Stripe price ID,
	// or "" when the price is unknown.
	TierForPriceID(priceID string) domain.SubscriptionTier

	// GetSubscription retrieves a Stripe subscription by ID.
	GetSubscription(ctx context.Context, subscriptionID string) (*stripe.Subscription, error)
}

// PriceConfig lists the Stripe price IDs sold for each tier. Monthly and
// yearly prices of one plan share a tier.
type PriceConfig struct {
	Starter      []string
	Professional []string
	Enterprise   []string
}

// stripeService is the concrete implementation of Service.
type stripeService struct {
	apiEnabled    bool
	webhookSecret string
	priceToTier   map[string]domain.SubscriptionTier
}

// NewStripeService creates a new Stripe billing service.
//
// The secretKey authenticates Stripe API calls and may be empty when only
// webhooks are processed. The webhookSecret verifies incoming webhook
// signatures.
func NewStripeService(secretKey, webhookSecret string, prices PriceConfig) Service {
	if secretKey != "" {
		stripe.Key = secretKey
	}

	priceToTier := make(map[string]domain.SubscriptionTier)
	add := func(tier domain.SubscriptionTier, ids []string) {
		for _, id := range ids {
			if id != "" {
				priceToTier[id] = tier
			}
		}
	}
	add(domain.SubscriptionTierStarter, prices.Starter)
	add(domain.SubscriptionTierProfessional, prices.Professional)
	add(domain.SubscriptionTierEnterprise, prices.Enterprise)

	return &stripeService{
		apiEnabled:    secretKey != "",
		webhookSecret: webhookSecret,
		priceToTier:   priceToTier,
	}
}

func (s *stripeService) VerifyWebhookSignature(payload []byte, signature string) (stripe.Event, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, s.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return stripe.Event{}, fmt.Errorf("stripe webhook signature verification failed: %w", err)
	}
	return event, nil
}

func (s *stripeService) TierForPriceID(priceID string) domain.SubscriptionTier {
	return s.priceToTier[priceID]
}

func (s *stripeService) GetSubscription(ctx context.Context, subscriptionID string) (*stripe.Subscription, error) {
	if !s.apiEnabled {
		return nil, ErrAPIDisabled
	}

	params := &stripe.SubscriptionParams{}
	params.Context = ctx

	sub, err := subscription.Get(subscriptionID, params)
	if err != nil {
		return nil, fmt.Errorf("stripe get subscription: %w", err)
	}
	return sub, nil
}

// StatusFromStripe maps a Stripe subscription status onto the stored status.
func StatusFromStripe(status stripe.SubscriptionStatus) domain.SubscriptionStatus {
	switch status {
	case stripe.SubscriptionStatusActive:
		return domain.SubscriptionStatusActive
	case stripe.SubscriptionStatusTrialing:
		return domain.SubscriptionStatusTrialing
	case stripe.SubscriptionStatusPastDue:
		return domain.SubscriptionStatusPastDue
	case stripe.SubscriptionStatusUnpaid:
		return domain.SubscriptionStatusUnpaid
	case stripe.SubscriptionStatusIncomplete:
		return domain.SubscriptionStatusIncomplete
	case stripe.SubscriptionStatusCanceled, stripe.SubscriptionStatusIncompleteExpired:
		return domain.SubscriptionStatusCanceled
	default:
		return domain.SubscriptionStatusInactive
	}
}

// PriceID returns the price of the subscription's first item.
func PriceID(sub *stripe.Subscription) string {
	if sub == nil || sub.Items == nil || len(sub.Items.Data) == 0 || sub.Items.Data[0].Price == nil {
		return ""
	}
	return sub.Items.Data[0].Price.ID
}
