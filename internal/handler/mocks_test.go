package handler

import (
	"context"
	"net/http"

	"github.com/DukeRupert/sturgeon/internal/auth"
	"github.com/DukeRupert/sturgeon/internal/billing"
	"github.com/DukeRupert/sturgeon/internal/domain"
	"github.com/DukeRupert/sturgeon/internal/service"
	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v79"
)

// =============================================================================
// Mock Billing Service
// =============================================================================

type mockBilling struct {
	VerifyFunc          func(payload []byte, signature string) (stripe.Event, error)
	TierFunc            func(priceID string) domain.SubscriptionTier
	GetSubscriptionFunc func(ctx context.Context, id string) (*stripe.Subscription, error)
}

var _ billing.Service = (*mockBilling)(nil)

func (m *mockBilling) VerifyWebhookSignature(payload []byte, signature string) (stripe.Event, error) {
	return m.VerifyFunc(payload, signature)
}

func (m *mockBilling) TierForPriceID(priceID string) domain.SubscriptionTier {
	if m.TierFunc != nil {
		return m.TierFunc(priceID)
	}
	return ""
}

func (m *mockBilling) GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	if m.GetSubscriptionFunc != nil {
		return m.GetSubscriptionFunc(ctx, id)
	}
	return nil, billing.ErrAPIDisabled
}

// =============================================================================
// Mock Subscription Service
// =============================================================================

type mockSubscriptions struct {
	GetFunc           func(ctx context.Context, userID uuid.UUID) (*domain.Subscription, error)
	GetByCustomerFunc func(ctx context.Context, customerID string) (*domain.Subscription, error)
	ApplyFunc         func(ctx context.Context, update domain.SubscriptionUpdate) error

	applied []domain.SubscriptionUpdate
}

var _ service.SubscriptionService = (*mockSubscriptions)(nil)

func (m *mockSubscriptions) Get(ctx context.Context, userID uuid.UUID) (*domain.Subscription, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, userID)
	}
	return nil, domain.NotFound("mock", "subscription", userID.String())
}

func (m *mockSubscriptions) GetByStripeCustomerID(ctx context.Context, customerID string) (*domain.Subscription, error) {
	if m.GetByCustomerFunc != nil {
		return m.GetByCustomerFunc(ctx, customerID)
	}
	return nil, domain.NotFound("mock", "subscription for customer", customerID)
}

func (m *mockSubscriptions) Apply(ctx context.Context, update domain.SubscriptionUpdate) error {
	m.applied = append(m.applied, update)
	if m.ApplyFunc != nil {
		return m.ApplyFunc(ctx, update)
	}
	return nil
}

// =============================================================================
// Mock Usage Service
// =============================================================================

type mockUsage struct {
	RecordFunc       func(ctx context.Context, event domain.UsageEvent) (*domain.UsageEvent, error)
	CurrentMonthFunc func(ctx context.Context, userID uuid.UUID) (domain.UsageSummary, error)
	RecentFunc       func(ctx context.Context, userID uuid.UUID, limit int) ([]domain.UsageEvent, error)

	recorded []domain.UsageEvent
}

var _ service.UsageService = (*mockUsage)(nil)

func (m *mockUsage) Record(ctx context.Context, event domain.UsageEvent) (*domain.UsageEvent, error) {
	m.recorded = append(m.recorded, event)
	if m.RecordFunc != nil {
		return m.RecordFunc(ctx, event)
	}
	event.ID = uuid.New()
	return &event, nil
}

func (m *mockUsage) CurrentMonthUsage(ctx context.Context, userID uuid.UUID) (domain.UsageSummary, error) {
	if m.CurrentMonthFunc != nil {
		return m.CurrentMonthFunc(ctx, userID)
	}
	return domain.UsageSummary{}, nil
}

func (m *mockUsage) RecentEvents(ctx context.Context, userID uuid.UUID, limit int) ([]domain.UsageEvent, error) {
	if m.RecentFunc != nil {
		return m.RecentFunc(ctx, userID, limit)
	}
	return nil, nil
}

// =============================================================================
// Mock Limiter
// =============================================================================

type mockLimiter struct {
	DecideFunc func(ctx context.Context, userID uuid.UUID, eventType domain.EventType) service.Decision
}

var _ service.LimiterService = (*mockLimiter)(nil)

func (m *mockLimiter) CheckLimit(ctx context.Context, userID uuid.UUID, eventType domain.EventType) bool {
	return m.Decide(ctx, userID, eventType).Allowed
}

func (m *mockLimiter) Decide(ctx context.Context, userID uuid.UUID, eventType domain.EventType) service.Decision {
	return m.DecideFunc(ctx, userID, eventType)
}

// =============================================================================
// Helpers
// =============================================================================

// withSession attaches an authenticated session the way the auth middleware does.
func withSession(r *http.Request, userID uuid.UUID) *http.Request {
	return r.WithContext(auth.WithSession(r.Context(), &domain.Session{
		UserID: userID,
		Email:  "owner@example.com",
	}))
}
