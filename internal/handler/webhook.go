// This file implements the Stripe webhook handler that keeps subscription
// records in sync with billing.
//
// Route:
//   - POST /webhooks/stripe -> HandleStripeWebhook
//
// The route is public because Stripe calls it directly. Requests are
// authenticated by the Stripe-Signature header.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/DukeRupert/sturgeon/internal/billing"
	"github.com/DukeRupert/sturgeon/internal/domain"
	"github.com/DukeRupert/sturgeon/internal/metrics"
	"github.com/DukeRupert/sturgeon/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v79"
)

const (
	maxWebhookBody = 65536
	webhookTimeout = 10 * time.Second
)

// WebhookHandler handles incoming webhook events from Stripe.
type WebhookHandler struct {
	billing       billing.Service
	subscriptions service.SubscriptionService
	logger        *slog.Logger
}

// NewWebhookHandler creates a new WebhookHandler.
// billingService may be nil when Stripe is not configured.
func NewWebhookHandler(billingService billing.Service, subscriptions service.SubscriptionService, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		billing:       billingService,
		subscriptions: subscriptions,
		logger:        logger,
	}
}

// RegisterRoutes registers webhook routes. These routes carry no session.
func (h *WebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/webhooks/stripe", h.HandleStripeWebhook)
}

// userIDMetadataKey is the subscription metadata key holding the tenant id,
// set through subscription_data.metadata when checkout starts.
const userIDMetadataKey = "user_id"

// errCustomerNotLinked marks a subscription event that arrived before the
// checkout that links its customer to a tenant. It is answered with 500.
var errCustomerNotLinked = errors.New("stripe customer not linked to a tenant yet")

// HandleStripeWebhook verifies and applies one Stripe event.
//
// Store failures and subscription events for customers not linked yet
// answer 500 so Stripe retries the delivery. Other events for unknown
// customers are acknowledged and dropped.
func (h *WebhookHandler) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	if h.billing == nil {
		h.logger.Warn("stripe webhook received but billing is not configured")
		w.WriteHeader(http.StatusOK)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.logger.Error("failed to read webhook body", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	event, err := h.billing.VerifyWebhookSignature(body, r.Header.Get("Stripe-Signature"))
	if err != nil {
		h.logger.Warn("webhook signature verification failed", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	h.logger.Info("stripe webhook received", "type", event.Type, "id", event.ID)

	// Stripe does not wait long; finish the write even if it hangs up.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), webhookTimeout)
	defer cancel()

	switch event.Type {
	case "checkout.session.completed":
		err = h.handleCheckoutCompleted(ctx, event)
	case "customer.subscription.created", "customer.subscription.updated":
		err = h.handleSubscriptionChanged(ctx, event)
	case "customer.subscription.deleted":
		err = h.handleSubscriptionDeleted(ctx, event)
	case "invoice.payment_succeeded":
		err = h.handleInvoice(ctx, event, domain.SubscriptionStatusActive)
	case "invoice.payment_failed":
		err = h.handleInvoice(ctx, event, domain.SubscriptionStatusPastDue)
	default:
		h.logger.Debug("unhandled webhook event type", "type", event.Type)
		w.WriteHeader(http.StatusOK)
		return
	}

	metrics.BillingWebhook(string(event.Type), err)
	if err != nil {
		h.logger.Error("failed to process webhook event",
			"error", err,
			"type", event.Type,
			"id", event.ID,
		)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (h *WebhookHandler) handleCheckoutCompleted(ctx context.Context, event stripe.Event) error {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		h.logger.Error("failed to parse checkout session", "error", err)
		return nil
	}

	update := domain.SubscriptionUpdate{Status: domain.SubscriptionStatusActive}
	if session.Customer != nil {
		update.StripeCustomerID = session.Customer.ID
	}
	if session.Subscription != nil {
		update.StripeSubscriptionID = session.Subscription.ID
	}

	// client_reference_id carries the tenant id set when checkout started.
	if userID, err := uuid.Parse(session.ClientReferenceID); err == nil {
		update.UserID = userID
	} else {
		sub, err := h.lookupCustomer(ctx, update.StripeCustomerID)
		if err != nil || sub == nil {
			if err == nil {
				h.logger.Warn("checkout session has no tenant reference",
					"session_id", session.ID,
					"customer_id", update.StripeCustomerID,
				)
			}
			return err
		}
		update.UserID = sub.UserID
	}

	if update.StripeSubscriptionID != "" {
		h.enrichFromStripe(ctx, &update)
	}

	return h.subscriptions.Apply(ctx, update)
}

// enrichFromStripe fills tier and period end from the live subscription.
// When the API is unavailable the follow-up subscription event does it.
func (h *WebhookHandler) enrichFromStripe(ctx context.Context, update *domain.SubscriptionUpdate) {
	sub, err := h.billing.GetSubscription(ctx, update.StripeSubscriptionID)
	if err != nil {
		if !errors.Is(err, billing.ErrAPIDisabled) {
			h.logger.Warn("failed to fetch stripe subscription",
				"error", err,
				"subscription_id", update.StripeSubscriptionID,
			)
		}
		return
	}

	update.Tier = h.billing.TierForPriceID(billing.PriceID(sub))
	update.Status = billing.StatusFromStripe(sub.Status)
	update.CurrentPeriodEnd = periodEnd(sub)
}

func (h *WebhookHandler) handleSubscriptionChanged(ctx context.Context, event stripe.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		h.logger.Error("failed to parse subscription event", "error", err)
		return nil
	}
	if sub.Customer == nil {
		h.logger.Warn("subscription event missing customer", "subscription_id", sub.ID)
		return nil
	}

	existing, err := h.lookupCustomer(ctx, sub.Customer.ID)
	if err != nil {
		return err
	}

	update := domain.SubscriptionUpdate{
		Status:               billing.StatusFromStripe(sub.Status),
		StripeSubscriptionID: sub.ID,
		CurrentPeriodEnd:     periodEnd(&sub),
	}

	switch {
	case existing != nil:
		update.UserID = existing.UserID
	default:
		// Stripe may deliver this before checkout.session.completed has
		// linked the customer. Use the tenant id from the subscription
		// metadata, or ask Stripe to redeliver once the link exists.
		userID, err := uuid.Parse(sub.Metadata[userIDMetadataKey])
		if err != nil {
			return fmt.Errorf("subscription %s for customer %s: %w", sub.ID, sub.Customer.ID, errCustomerNotLinked)
		}
		update.UserID = userID
		update.StripeCustomerID = sub.Customer.ID
	}

	priceID := billing.PriceID(&sub)
	update.Tier = h.billing.TierForPriceID(priceID)
	if update.Tier == "" && priceID != "" {
		h.logger.Warn("unknown stripe price, keeping current tier",
			"price_id", priceID,
			"user_id", update.UserID,
		)
	}

	return h.subscriptions.Apply(ctx, update)
}

func (h *WebhookHandler) handleSubscriptionDeleted(ctx context.Context, event stripe.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		h.logger.Error("failed to parse subscription deleted event", "error", err)
		return nil
	}
	if sub.Customer == nil {
		h.logger.Warn("subscription deleted event missing customer", "subscription_id", sub.ID)
		return nil
	}

	existing, err := h.lookupCustomer(ctx, sub.Customer.ID)
	if err != nil || existing == nil {
		return err
	}

	return h.subscriptions.Apply(ctx, domain.SubscriptionUpdate{
		UserID: existing.UserID,
		Status: domain.SubscriptionStatusCanceled,
	})
}

func (h *WebhookHandler) handleInvoice(ctx context.Context, event stripe.Event, status domain.SubscriptionStatus) error {
	var invoice stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		h.logger.Error("failed to parse invoice event", "error", err)
		return nil
	}
	if invoice.Customer == nil {
		return nil
	}

	existing, err := h.lookupCustomer(ctx, invoice.Customer.ID)
	if err != nil || existing == nil {
		return err
	}

	if existing.Status == status {
		return nil
	}
	if status == domain.SubscriptionStatusPastDue {
		h.logger.Warn("payment failed", "user_id", existing.UserID, "customer_id", invoice.Customer.ID)
	}

	return h.subscriptions.Apply(ctx, domain.SubscriptionUpdate{
		UserID: existing.UserID,
		Status: status,
	})
}

// lookupCustomer returns nil, nil when the customer is unknown.
func (h *WebhookHandler) lookupCustomer(ctx context.Context, customerID string) (*domain.Subscription, error) {
	if customerID == "" {
		return nil, nil
	}

	sub, err := h.subscriptions.GetByStripeCustomerID(ctx, customerID)
	if err != nil {
		if domain.ErrorCode(err) == domain.ENOTFOUND {
			h.logger.Info("no subscription for stripe customer", "customer_id", customerID)
			return nil, nil
		}
		return nil, fmt.Errorf("lookup customer %s: %w", customerID, err)
	}
	return sub, nil
}

func periodEnd(sub *stripe.Subscription) *time.Time {
	if sub.CurrentPeriodEnd == 0 {
		return nil
	}
	t := time.Unix(sub.CurrentPeriodEnd, 0).UTC()
	return &t
}
