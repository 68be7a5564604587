package main

import (
	"net/http"

	"github.com/DukeRupert/sturgeon/internal/csrf"
	"github.com/DukeRupert/sturgeon/internal/domain"
	"github.com/DukeRupert/sturgeon/internal/handler"
	"github.com/DukeRupert/sturgeon/internal/metrics"
	"github.com/DukeRupert/sturgeon/internal/middleware"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// routerDeps holds everything newRouter mounts.
type routerDeps struct {
	Health       *handler.HealthHandler
	Webhook      *handler.WebhookHandler
	Entitlements *handler.EntitlementHandler
	Usage        *handler.UsageHandler
	Subscription *handler.SubscriptionHandler
	Frontend     http.Handler

	Auth          *middleware.AuthMiddleware
	Guard         *middleware.Guard
	RateLimiter   *middleware.RateLimiter
	RequestLogger *middleware.RequestLoggingMiddleware
	Security      *middleware.SecurityHeadersMiddleware
	MetricsAuth   *middleware.MetricsAuthMiddleware
	CSRF          *csrf.Protector
}

type gatedRoute struct {
	pattern string
	module  domain.Module
	metered domain.EventType
}

// gatedRoutes are feature APIs served by the frontend app that a plan must
// unlock. Metered routes are charged one event per successful response.
var gatedRoutes = []gatedRoute{
	{pattern: "/analytics", module: domain.ModuleAnalytics},
	{pattern: "/marketing", module: domain.ModuleMarketingAutomation},
	{pattern: "/linkedin-automation", module: domain.ModuleMarketingAutomation},
	{pattern: "/daily-brief", module: domain.ModuleDailyBriefs},
	{pattern: "/proposals/*", module: domain.ModuleProposals},
	{pattern: "/grants/search", module: domain.ModuleGrants, metered: domain.EventTypeSearch},
	{pattern: "/grants/applications", module: domain.ModuleGrants},
	{pattern: "/sam-gov/search", module: domain.ModuleOpportunities, metered: domain.EventTypeSearch},
}

// newRouter assembles the HTTP surface:
//
//	/healthz, /livez, /readyz    health
//	/metrics                     prometheus, basic auth
//	/api/webhooks/stripe         subscription sync
//	/api/{entitlements,usage,subscription}  session required
//	/api/<gated feature>         session + module (+ quota), proxied
//	/api/*                       proxied, the app authorizes itself
//	/*                           route guard, proxied
func newRouter(d routerDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(d.RequestLogger.Handler)
	r.Use(d.Security.Handler)

	d.Health.RegisterRoutes(r)
	r.Handle("/metrics", d.MetricsAuth.Handler(promhttp.Handler()))

	r.Route("/api", func(r chi.Router) {
		r.Use(d.Auth.WithSession)
		r.Use(d.RateLimiter.Limit)

		d.Webhook.RegisterRoutes(r)

		r.Group(func(r chi.Router) {
			r.Use(d.Auth.RequireSession)
			r.Use(d.CSRF.Handler)
			d.Entitlements.RegisterRoutes(r)
			d.Usage.RegisterRoutes(r)
			d.Subscription.RegisterRoutes(r)

			for _, route := range gatedRoutes {
				gate := []func(http.Handler) http.Handler{d.Auth.RequireModule(route.module)}
				if route.metered != "" {
					gate = append(gate, d.Auth.RequireQuota(route.metered))
				}
				r.Handle(route.pattern, middleware.Stack(gate...)(d.Frontend))
			}
		})

		// Remaining app APIs check the session themselves.
		r.Handle("/*", d.Frontend)
	})

	// Pages go through the route guard to the frontend.
	r.Handle("/*", d.Guard.Middleware(d.Frontend))

	return r
}
