package billing

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DukeRupert/sturgeon/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
)

const testWebhookSecret = "whsec_test_secret"

func signedPayload(t *testing.T, payload []byte, secret string) string {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: time.Now(),
	})
	return signed.Header
}

func TestVerifyWebhookSignature(t *testing.T) {
	svc := NewStripeService("", testWebhookSecret, PriceConfig{})
	payload := []byte(`{"id":"evt_1","object":"event","api_version":"2020-08-27","type":"customer.subscription.deleted","data":{"object":{"id":"sub_1","object":"subscription"}}}`)

	t.Run("valid", func(t *testing.T) {
		event, err := svc.VerifyWebhookSignature(payload, signedPayload(t, payload, testWebhookSecret))
		require.NoError(t, err)
		assert.Equal(t, "evt_1", event.ID)
		assert.Equal(t, stripe.EventType("customer.subscription.deleted"), event.Type)
	})

	t.Run("wrong secret", func(t *testing.T) {
		_, err := svc.VerifyWebhookSignature(payload, signedPayload(t, payload, "whsec_other"))
		assert.Error(t, err)
	})

	t.Run("tampered payload", func(t *testing.T) {
		header := signedPayload(t, payload, testWebhookSecret)
		_, err := svc.VerifyWebhookSignature(append([]byte(nil), append(payload[:len(payload)-1], ' ', '}')...), header)
		assert.Error(t, err)
	})

	t.Run("missing header", func(t *testing.T) {
		_, err := svc.VerifyWebhookSignature(payload, "")
		assert.Error(t, err)
	})
}

func TestTierForPriceID(t *testing.T) {
	svc := NewStripeService("", testWebhookSecret, PriceConfig{
		Starter:      []string{"price_starter_m", "price_starter_y"},
		Professional: []string{"price_pro_m", ""},
		Enterprise:   []string{"price_ent_m"},
	})

	assert.Equal(t, domain.SubscriptionTierStarter, svc.TierForPriceID("price_starter_y"))
	assert.Equal(t, domain.SubscriptionTierProfessional, svc.TierForPriceID("price_pro_m"))
	assert.Equal(t, domain.SubscriptionTierEnterprise, svc.TierForPriceID("price_ent_m"))
	assert.Equal(t, domain.SubscriptionTier(""), svc.TierForPriceID("price_unknown"))
	assert.Equal(t, domain.SubscriptionTier(""), svc.TierForPriceID(""))
}

func TestGetSubscription_RequiresKey(t *testing.T) {
	svc := NewStripeService("", testWebhookSecret, PriceConfig{})

	_, err := svc.GetSubscription(context.Background(), "sub_1")

	assert.ErrorIs(t, err, ErrAPIDisabled)
}

func TestStatusFromStripe(t *testing.T) {
	tests := map[stripe.SubscriptionStatus]domain.SubscriptionStatus{
		stripe.SubscriptionStatusActive:            domain.SubscriptionStatusActive,
		stripe.SubscriptionStatusTrialing:          domain.SubscriptionStatusTrialing,
		stripe.SubscriptionStatusPastDue:           domain.SubscriptionStatusPastDue,
		stripe.SubscriptionStatusUnpaid:            domain.SubscriptionStatusUnpaid,
		stripe.SubscriptionStatusIncomplete:        domain.SubscriptionStatusIncomplete,
		stripe.SubscriptionStatusIncompleteExpired: domain.SubscriptionStatusCanceled,
		stripe.SubscriptionStatusCanceled:          domain.SubscriptionStatusCanceled,
		stripe.SubscriptionStatusPaused:            domain.SubscriptionStatusInactive,
	}

	for in, want := range tests {
		assert.Equal(t, want, StatusFromStripe(in), string(in))
	}
}

func TestPriceID(t *testing.T) {
	var sub stripe.Subscription
	require.NoError(t, json.Unmarshal([]byte(`{"id":"sub_1","items":{"data":[{"id":"si_1","price":{"id":"price_pro_m"}}]}}`), &sub))

	assert.Equal(t, "price_pro_m", PriceID(&sub))
	assert.Equal(t, "", PriceID(&stripe.Subscription{}))
	assert.Equal(t, "", PriceID(nil))
}
