// Package middleware contains HTTP middleware for the entitlement service.
//
// Middleware functions follow the standard Go pattern of wrapping http.Handler.
// They are designed to be composed using a middleware stack approach.
package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/DukeRupert/sturgeon/internal/auth"
	"github.com/DukeRupert/sturgeon/internal/domain"
	"github.com/DukeRupert/sturgeon/internal/handler"
	"github.com/DukeRupert/sturgeon/internal/service"
)

// SessionResolver resolves the session carried by a request.
// *auth.Resolver satisfies it.
type SessionResolver interface {
	Resolve(r *http.Request) (*domain.Session, error)
}

// UsageRecorder appends admitted actions to the usage ledger.
// service.UsageService satisfies it.
type UsageRecorder interface {
	Record(ctx context.Context, event domain.UsageEvent) (*domain.UsageEvent, error)
}

// =============================================================================
// Auth Middleware Configuration
// =============================================================================

// AuthMiddleware provides authentication and entitlement middleware.
//
// Create one instance and use its methods as middleware.
type AuthMiddleware struct {
	resolver      SessionResolver
	subscriptions service.SubscriptionReader
	limiter       service.LimiterService
	usage         UsageRecorder
	logger        *slog.Logger
}

// NewAuthMiddleware creates a new AuthMiddleware instance.
func NewAuthMiddleware(resolver SessionResolver, subscriptions service.SubscriptionReader, limiter service.LimiterService, usage UsageRecorder, logger *slog.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		resolver:      resolver,
		subscriptions: subscriptions,
		limiter:       limiter,
		usage:         usage,
		logger:        logger,
	}
}

// =============================================================================
// WithSession Middleware
// =============================================================================

// WithSession resolves the request's session and stores the outcome in the
// request context. It always continues to the next handler.
//
// Flow:
//
//	Request -> WithSession -> Handler
//	           |
//	           +-> Resolve bearer token or cookie
//	           +-> Store session (or "anonymous") in context
//	           +-> Call next handler (always)
func (m *AuthMiddleware) WithSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session, err := m.resolver.Resolve(r)
		if err != nil {
			// Leave the context unresolved; RequireSession rejects the request.
			m.logger.Warn("session resolution failed",
				"error", err,
				"path", r.URL.Path,
			)
			next.ServeHTTP(w, r)
			return
		}

		noteSession(r.Context(), session)
		next.ServeHTTP(w, r.WithContext(auth.WithSession(r.Context(), session)))
	})
}

// =============================================================================
// RequireSession Middleware
// =============================================================================

// RequireSession rejects requests without an authenticated session with a
// 401 JSON error.
//
// IMPORTANT: This middleware must be used AFTER WithSession in the chain.
func (m *AuthMiddleware) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth.GetSession(r.Context()) == nil {
			handler.UnauthorizedResponse(w, r, m.logger)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// =============================================================================
// RequireModule Middleware
// =============================================================================

// RequireModule admits the request only when the tenant's effective tier
// unlocks module. Denials return 403.
//
// IMPORTANT: Use this AFTER RequireSession in the middleware chain.
//
// Usage:
//
//	r.With(authMw.RequireModule(domain.ModuleProposals)).Post("/api/proposals", h)
func (m *AuthMiddleware) RequireModule(module domain.Module) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const op = "middleware.require_module"

			session := auth.GetSession(r.Context())
			if session == nil {
				m.logger.Error("RequireModule called without session in context")
				handler.UnauthorizedResponse(w, r, m.logger)
				return
			}

			sub, err := m.subscriptions.Get(r.Context(), session.UserID)
			if err != nil && domain.ErrorCode(err) != domain.ENOTFOUND {
				handler.ErrorResponse(w, r, m.logger, domain.Wrap(err, domain.EUNAVAILABLE, op,
					"Subscription data is temporarily unavailable. Please try again shortly."))
				return
			}

			tier := sub.EffectiveTier()
			if !domain.HasModuleAccess(tier, module) {
				handler.ErrorResponse(w, r, m.logger, domain.Errorf(domain.EFORBIDDEN, op,
					"Your plan does not include %s. Upgrade to unlock it.", module))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// =============================================================================
// RequireQuota Middleware
// =============================================================================

// RequireQuota runs the usage limiter for eventType before the handler and
// records one ledger entry when the handler answers with a status below 400.
// Denials return the limiter decision alongside the error body.
//
// IMPORTANT: Use this AFTER RequireSession in the middleware chain.
func (m *AuthMiddleware) RequireQuota(eventType domain.EventType) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session := auth.GetSession(r.Context())
			if session == nil {
				m.logger.Error("RequireQuota called without session in context")
				handler.UnauthorizedResponse(w, r, m.logger)
				return
			}

			d := m.limiter.Decide(r.Context(), session.UserID, eventType)
			if !d.Allowed {
				handler.DeniedResponse(w, r, m.logger, d.Err("middleware.require_quota"), d)
				return
			}

			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			if wrapped.statusCode >= http.StatusBadRequest {
				return
			}

			// Record detaches from r's context; a disconnected client is still charged.
			meta, _ := json.Marshal(map[string]string{"path": r.URL.Path})
			if _, err := m.usage.Record(r.Context(), domain.UsageEvent{
				UserID:    session.UserID,
				EventType: eventType,
				Metadata:  meta,
			}); err != nil {
				m.logger.Error("failed to record admitted action",
					"error", err,
					"user_id", session.UserID,
					"event_type", eventType,
					"path", r.URL.Path,
				)
			}
		})
	}
}

// =============================================================================
// Middleware Stack Helpers
// =============================================================================

// Stack composes multiple middleware functions into a single middleware.
//
// Middleware is applied in the order provided, meaning the first middleware
// in the slice is the outermost (runs first on request, last on response).
//
// Example:
//
//	stack := Stack(loggingMw, authMw.WithSession, authMw.RequireSession)
//	r.Handle("/api/usage", stack(usageHandler))
func Stack(middlewares ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(final http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			final = middlewares[i](final)
		}
		return final
	}
}

// Ensure middleware functions have correct signature
var (
	_ func(http.Handler) http.Handler = (&AuthMiddleware{}).WithSession
	_ func(http.Handler) http.Handler = (&AuthMiddleware{}).RequireSession
	_ SessionResolver                 = (*auth.Resolver)(nil)
	_ UsageRecorder                   = service.UsageService(nil)
)
