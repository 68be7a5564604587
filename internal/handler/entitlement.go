// This file implements the entitlement endpoints the frontend uses to decide
// which modules to show.
//
// Routes (session required):
//   - GET /api/entitlements          -> ListEntitlements
//   - GET /api/entitlements/{module} -> CheckEntitlement
package handler

import (
	"log/slog"
	"net/http"

	"github.com/DukeRupert/sturgeon/internal/auth"
	"github.com/DukeRupert/sturgeon/internal/domain"
	"github.com/DukeRupert/sturgeon/internal/service"
	"github.com/go-chi/chi/v5"
)

// EntitlementHandler answers module access questions for the current tenant.
type EntitlementHandler struct {
	subscriptions service.SubscriptionReader
	logger        *slog.Logger
}

// NewEntitlementHandler creates a new EntitlementHandler.
func NewEntitlementHandler(subscriptions service.SubscriptionReader, logger *slog.Logger) *EntitlementHandler {
	return &EntitlementHandler{
		subscriptions: subscriptions,
		logger:        logger,
	}
}

// RegisterRoutes registers entitlement routes. The router must already
// require a session.
func (h *EntitlementHandler) RegisterRoutes(r chi.Router) {
	r.Get("/entitlements", h.ListEntitlements)
	r.Get("/entitlements/{module}", h.CheckEntitlement)
}

// EntitlementsResponse lists the modules granted to the tenant.
type EntitlementsResponse struct {
	Tier    domain.SubscriptionTier   `json:"tier"`
	Status  domain.SubscriptionStatus `json:"status"`
	Modules []domain.Module           `json:"modules"`
}

// ModuleAccessResponse answers a single module check.
type ModuleAccessResponse struct {
	Module  domain.Module           `json:"module"`
	Tier    domain.SubscriptionTier `json:"tier"`
	Allowed bool                    `json:"allowed"`
}

// ListEntitlements returns the tenant's effective tier and its modules.
func (h *EntitlementHandler) ListEntitlements(w http.ResponseWriter, r *http.Request) {
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

	tier := sub.EffectiveTier()
	status := domain.SubscriptionStatusInactive
	if sub != nil {
		status = sub.Status
	}

	writeJSON(w, http.StatusOK, EntitlementsResponse{
		Tier:    tier,
		Status:  status,
		Modules: domain.AvailableModules(tier),
	})
}

// CheckEntitlement reports whether the tenant may open one module.
func (h *EntitlementHandler) CheckEntitlement(w http.ResponseWriter, r *http.Request) {
	session := auth.GetSessionFromRequest(r)
	if session == nil {
		UnauthorizedResponse(w, r, h.logger)
		return
	}

	module, ok := domain.ParseModule(chi.URLParam(r, "module"))
	if !ok {
		NotFoundResponse(w, r, h.logger)
		return
	}

	sub, err := lookupSubscription(r, h.subscriptions, session)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	tier := sub.EffectiveTier()
	writeJSON(w, http.StatusOK, ModuleAccessResponse{
		Module:  module,
		Tier:    tier,
		Allowed: domain.HasModuleAccess(tier, module),
	})
}

// lookupSubscription returns nil for tenants without a subscription row and
// an unavailable error when the store cannot answer.
func lookupSubscription(r *http.Request, subscriptions service.SubscriptionReader, session *domain.Session) (*domain.Subscription, error) {
	const op = "handler.lookup_subscription"

	sub, err := subscriptions.Get(r.Context(), session.UserID)
	if err != nil {
		if domain.ErrorCode(err) == domain.ENOTFOUND {
			return nil, nil
		}
		return nil, domain.Wrap(err, domain.EUNAVAILABLE, op, "Subscription details are temporarily unavailable. Please try again.")
	}
	return sub, nil
}
