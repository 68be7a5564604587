package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DukeRupert/sturgeon/internal/domain"
	"github.com/google/uuid"
)

func subscriptionOf(tier domain.SubscriptionTier, status domain.SubscriptionStatus) *mockSubscriptions {
	return &mockSubscriptions{
		GetFunc: func(_ context.Context, userID uuid.UUID) (*domain.Subscription, error) {
			return &domain.Subscription{UserID: userID, Tier: tier, Status: status}, nil
		},
	}
}

func TestListEntitlements(t *testing.T) {
	userID := uuid.New()

	tests := []struct {
		name        string
		subs        *mockSubscriptions
		wantTier    domain.SubscriptionTier
		wantModules int
	}{
		{"professional", subscriptionOf(domain.SubscriptionTierProfessional, domain.SubscriptionStatusActive), domain.SubscriptionTierProfessional, len(domain.AvailableModules(domain.SubscriptionTierProfessional))},
		{"enterprise", subscriptionOf(domain.SubscriptionTierEnterprise, domain.SubscriptionStatusActive), domain.SubscriptionTierEnterprise, len(domain.AllModules())},
		{"canceled falls back to free", subscriptionOf(domain.SubscriptionTierEnterprise, domain.SubscriptionStatusCanceled), domain.SubscriptionTierFree, len(domain.AvailableModules(domain.SubscriptionTierFree))},
		{"no subscription is free", &mockSubscriptions{}, domain.SubscriptionTierFree, len(domain.AvailableModules(domain.SubscriptionTierFree))},
		{"starter has no modules", subscriptionOf(domain.SubscriptionTierStarter, domain.SubscriptionStatusActive), domain.SubscriptionTierStarter, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewEntitlementHandler(tt.subs, discardLogger())
			router := apiRouter(userID, h.RegisterRoutes)

			rec := serve(t, router, httptest.NewRequest(http.MethodGet, "/api/entitlements", nil))

			if rec.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
			}
			var resp EntitlementsResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Tier != tt.wantTier {
				t.Errorf("expected tier %q, got %q", tt.wantTier, resp.Tier)
			}
			if len(resp.Modules) != tt.wantModules {
				t.Errorf("expected %d modules, got %d", tt.wantModules, len(resp.Modules))
			}
		})
	}
}

func TestCheckEntitlement(t *testing.T) {
	userID := uuid.New()
	h := NewEntitlementHandler(subscriptionOf(domain.SubscriptionTierProfessional, domain.SubscriptionStatusActive), discardLogger())
	router := apiRouter(userID, h.RegisterRoutes)

	tests := []struct {
		path        string
		wantStatus  int
		wantAllowed bool
	}{
		{"/api/entitlements/proposals", http.StatusOK, true},
		{"/api/entitlements/marketing_automation", http.StatusOK, false},
		{"/api/entitlements/teleportation", http.StatusNotFound, false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := serve(t, router, httptest.NewRequest(http.MethodGet, tt.path, nil))

			if rec.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, rec.Code)
			}
			if rec.Code != http.StatusOK {
				return
			}
			var resp ModuleAccessResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Allowed != tt.wantAllowed {
				t.Errorf("expected allowed=%v, got %v", tt.wantAllowed, resp.Allowed)
			}
		})
	}
}

func TestEntitlements_RequireSession(t *testing.T) {
	h := NewEntitlementHandler(&mockSubscriptions{}, discardLogger())
	router := apiRouter(uuid.Nil, h.RegisterRoutes)

	rec := serve(t, router, httptest.NewRequest(http.MethodGet, "/api/entitlements", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestEntitlements_StoreDown(t *testing.T) {
	subs := &mockSubscriptions{
		GetFunc: func(context.Context, uuid.UUID) (*domain.Subscription, error) {
			return nil, domain.Internal(errors.New("dial tcp: refused"), "test", "failed to load subscription")
		},
	}
	h := NewEntitlementHandler(subs, discardLogger())
	router := apiRouter(uuid.New(), h.RegisterRoutes)

	rec := serve(t, router, httptest.NewRequest(http.MethodGet, "/api/entitlements", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
}
