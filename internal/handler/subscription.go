// Route (session required):
//   - GET /api/subscription -> GetSubscription
package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/DukeRupert/sturgeon/internal/auth"
	"github.com/DukeRupert/sturgeon/internal/domain"
	"github.com/DukeRupert/sturgeon/internal/service"
	"github.com/go-chi/chi/v5"
)

// SubscriptionHandler exposes the tenant's billing state.
type SubscriptionHandler struct {
	subscriptions service.SubscriptionReader
	logger        *slog.Logger
}

// NewSubscriptionHandler creates a new SubscriptionHandler.
func NewSubscriptionHandler(subscriptions service.SubscriptionReader, logger *slog.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{
		subscriptions: subscriptions,
		logger:        logger,
	}
}

// RegisterRoutes registers subscription routes.
func (h *SubscriptionHandler) RegisterRoutes(r chi.Router) {
	r.Get("/subscription", h.GetSubscription)
}

// SubscriptionResponse is the body of GET /api/subscription.
type SubscriptionResponse struct {
	Tier             domain.SubscriptionTier   `json:"tier"`
	EffectiveTier    domain.SubscriptionTier   `json:"effective_tier"`
	Status           domain.SubscriptionStatus `json:"status"`
	Active           bool                      `json:"active"`
	CurrentPeriodEnd *time.Time                `json:"current_period_end,omitempty"`
	BillingLinked    bool                      `json:"billing_linked"`
}

// GetSubscription returns the tenant's subscription. Tenants without a
// record get an inactive response rather than a 404.
func (h *SubscriptionHandler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	session := auth.GetSessionFromRequest(r)
	if session == nil {
		UnauthorizedResponse(w, r, h.logger)
		return
	}

	sub, err := lookupSubscription(r, h.subscriptions, session)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	resp := SubscriptionResponse{
		EffectiveTier: sub.EffectiveTier(),
		Status:        domain.SubscriptionStatusInactive,
	}
	if sub != nil {
		resp.Tier = sub.Tier
		resp.Status = sub.Status
		resp.Active = sub.IsActive()
		resp.CurrentPeriodEnd = sub.CurrentPeriodEnd
		resp.BillingLinked = sub.StripeCustomerID != ""
	}

	writeJSON(w, http.StatusOK, resp)
}
