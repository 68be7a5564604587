package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DukeRupert/sturgeon/internal/csrf"
	"github.com/DukeRupert/sturgeon/internal/domain"
	"github.com/DukeRupert/sturgeon/internal/handler"
	"github.com/DukeRupert/sturgeon/internal/middleware"
	"github.com/DukeRupert/sturgeon/internal/service"
	"github.com/google/uuid"
)

// =============================================================================
// Fakes
// =============================================================================

// bearerResolver treats the bearer token as the user id.
type bearerResolver struct{}

func (bearerResolver) Resolve(r *http.Request) (*domain.Session, error) {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return nil, nil
	}
	id, err := uuid.Parse(token)
	if err != nil {
		return nil, nil
	}
	return &domain.Session{UserID: id}, nil
}

type fakeSubscriptions struct {
	subs map[uuid.UUID]*domain.Subscription
}

func (f *fakeSubscriptions) Get(_ context.Context, userID uuid.UUID) (*domain.Subscription, error) {
	if sub, ok := f.subs[userID]; ok {
		return sub, nil
	}
	return nil, domain.NotFound("subscription.get", "subscription", userID.String())
}

func (f *fakeSubscriptions) GetByStripeCustomerID(_ context.Context, customerID string) (*domain.Subscription, error) {
	return nil, domain.NotFound("subscription.get_by_customer", "subscription for customer", customerID)
}

func (f *fakeSubscriptions) Apply(context.Context, domain.SubscriptionUpdate) error {
	return nil
}

type fakeLedger struct {
	mu     sync.Mutex
	events []domain.UsageEvent
}

func (f *fakeLedger) Record(_ context.Context, event domain.UsageEvent) (*domain.UsageEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return &event, nil
}

func (f *fakeLedger) CurrentMonthUsage(_ context.Context, userID uuid.UUID) (domain.UsageSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := make(map[domain.EventType]int64)
	for _, e := range f.events {
		if e.UserID == userID {
			counts[e.EventType]++
		}
	}
	return domain.SummaryFromCounts(counts), nil
}

func (f *fakeLedger) RecentEvents(context.Context, uuid.UUID, int) ([]domain.UsageEvent, error) {
	return nil, nil
}

func (f *fakeLedger) count(eventType domain.EventType) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.events {
		if e.EventType == eventType {
			n++
		}
	}
	return n
}

// =============================================================================
// Setup
// =============================================================================

type testServer struct {
	handler  http.Handler
	ledger   *fakeLedger
	upstream []string
	mu       sync.Mutex
}

func (s *testServer) upstreamPaths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.upstream...)
}

func newTestServer(t *testing.T, subs map[uuid.UUID]*domain.Subscription) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ts := &testServer{ledger: &fakeLedger{}}

	frontend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts.mu.Lock()
		ts.upstream = append(ts.upstream, r.URL.Path)
		ts.mu.Unlock()
		_, _ = w.Write([]byte("frontend"))
	}))
	t.Cleanup(frontend.Close)

	frontendHandler, err := handler.NewFrontendHandler(frontend.URL, logger)
	if err != nil {
		t.Fatalf("frontend handler: %v", err)
	}

	subscriptions := &fakeSubscriptions{subs: subs}
	limiter := service.NewLimiterService(subscriptions, ts.ledger, time.Second, logger)
	resolver := bearerResolver{}
	rateLimiter := middleware.NewRateLimiter(nil, 10000, time.Minute, logger)
	t.Cleanup(rateLimiter.Stop)

	ts.handler = newRouter(routerDeps{
		Health:        handler.NewHealthHandler(),
		Webhook:       handler.NewWebhookHandler(nil, subscriptions, logger),
		Entitlements:  handler.NewEntitlementHandler(subscriptions, logger),
		Usage:         handler.NewUsageHandler(ts.ledger, limiter, subscriptions, time.UTC, logger),
		Subscription:  handler.NewSubscriptionHandler(subscriptions, logger),
		Frontend:      frontendHandler,
		Auth:          middleware.NewAuthMiddleware(resolver, subscriptions, limiter, ts.ledger, logger),
		Guard:         middleware.NewGuard(resolver, logger),
		RateLimiter:   rateLimiter,
		RequestLogger: middleware.NewRequestLoggingMiddleware(logger),
		Security:      middleware.NewSecurityHeadersMiddleware(false),
		MetricsAuth:   middleware.NewMetricsAuthMiddleware("", "", false, logger),
		CSRF:          csrf.NewProtector("sb-access-token", false, logger),
	})
	return ts
}

func (s *testServer) do(method, path string, userID uuid.UUID) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if userID != uuid.Nil {
		req.Header.Set("Authorization", "Bearer "+userID.String())
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func activeSub(userID uuid.UUID, tier domain.SubscriptionTier) *domain.Subscription {
	return &domain.Subscription{UserID: userID, Tier: tier, Status: domain.SubscriptionStatusActive}
}

// =============================================================================
// Tests
// =============================================================================

func TestRouter_GatedRouteRequiresModule(t *testing.T) {
	freeUser := uuid.New()
	ts := newTestServer(t, map[uuid.UUID]*domain.Subscription{
		freeUser: activeSub(freeUser, domain.SubscriptionTierFree),
	})

	rec := ts.do(http.MethodPost, "/api/marketing", freeUser)

	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rec.Code)
	}
	if len(ts.upstreamPaths()) != 0 {
		t.Errorf("expected no upstream call, got %v", ts.upstreamPaths())
	}
}

func TestRouter_GatedRouteRequiresSession(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(http.MethodGet, "/api/analytics", uuid.Nil)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestRouter_MeteredRouteRecordsUsage(t *testing.T) {
	userID := uuid.New()
	ts := newTestServer(t, map[uuid.UUID]*domain.Subscription{
		userID: activeSub(userID, domain.SubscriptionTierProfessional),
	})

	for i := 0; i < 3; i++ {
		rec := ts.do(http.MethodGet, "/api/sam-gov/search", userID)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, rec.Code)
		}
	}

	if got := ts.ledger.count(domain.EventTypeSearch); got != 3 {
		t.Errorf("expected 3 search events, got %d", got)
	}
	if got := len(ts.upstreamPaths()); got != 3 {
		t.Errorf("expected 3 upstream calls, got %d", got)
	}
}

func TestRouter_MeteredRouteStopsAtQuota(t *testing.T) {
	userID := uuid.New()
	ts := newTestServer(t, map[uuid.UUID]*domain.Subscription{
		userID: activeSub(userID, domain.SubscriptionTierProfessional),
	})

	quota := domain.GetTierQuota(domain.SubscriptionTierProfessional).SearchesPerMonth
	for i := int64(0); i < quota-1; i++ {
		_, _ = ts.ledger.Record(context.Background(), domain.UsageEvent{UserID: userID, EventType: domain.EventTypeSearch})
	}

	if rec := ts.do(http.MethodGet, "/api/grants/search", userID); rec.Code != http.StatusOK {
		t.Fatalf("last search within quota: expected 200, got %d", rec.Code)
	}
	if rec := ts.do(http.MethodGet, "/api/grants/search", userID); rec.Code != http.StatusPaymentRequired {
		t.Errorf("search over quota: expected 402, got %d", rec.Code)
	}
	if got := int64(ts.ledger.count(domain.EventTypeSearch)); got != quota {
		t.Errorf("expected ledger to stop at %d, got %d", quota, got)
	}
}

func TestRouter_UngatedAPIPathsReachFrontend(t *testing.T) {
	ts := newTestServer(t, nil)

	for _, path := range []string{"/api/chat", "/api/notifications/unread-count", "/api/email/send"} {
		rec := ts.do(http.MethodGet, path, uuid.Nil)
		if rec.Code != http.StatusOK || rec.Body.String() != "frontend" {
			t.Errorf("%s: expected proxied 200, got %d %q", path, rec.Code, rec.Body.String())
		}
	}

	got := ts.upstreamPaths()
	if len(got) != 3 || got[0] != "/api/chat" {
		t.Errorf("unexpected upstream paths %v", got)
	}
}

func TestRouter_OwnAPIRoutesAreNotProxied(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(http.MethodGet, "/api/usage", uuid.Nil)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
	if len(ts.upstreamPaths()) != 0 {
		t.Errorf("expected no upstream call, got %v", ts.upstreamPaths())
	}
}

func TestRouter_PagesAreGuarded(t *testing.T) {
	userID := uuid.New()
	ts := newTestServer(t, nil)

	rec := ts.do(http.MethodGet, "/dashboard/pipeline", uuid.Nil)
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("expected 303, got %d", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "/login?redirect=%2Fdashboard%2Fpipeline" {
		t.Errorf("unexpected redirect %q", loc)
	}

	rec = ts.do(http.MethodGet, "/dashboard/pipeline", userID)
	if rec.Code != http.StatusOK || rec.Body.String() != "frontend" {
		t.Errorf("expected proxied page, got %d %q", rec.Code, rec.Body.String())
	}
}

func TestRouter_Health(t *testing.T) {
	ts := newTestServer(t, nil)

	if rec := ts.do(http.MethodGet, "/healthz", uuid.Nil); rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}
