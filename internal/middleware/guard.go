package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/DukeRupert/sturgeon/internal/auth"
	"github.com/DukeRupert/sturgeon/internal/metrics"
)

// RouteClass is the guard's classification of a request path.
type RouteClass string

const (
	RouteAPI       RouteClass = "API_PATH"
	RoutePublic    RouteClass = "PUBLIC_PATH"
	RouteAuth      RouteClass = "AUTH_PATH"
	RouteProtected RouteClass = "PROTECTED_PATH"
)

const (
	// LoginPath receives unauthenticated visitors of protected pages.
	LoginPath = "/login"

	// LandingPath receives signed-in visitors of sign-in pages.
	LandingPath = "/dashboard"
)

var (
	publicRoutes = []string{"/", "/login", "/signup", "/forgot-password", "/auth"}
	authRoutes   = []string{"/login", "/signup"}

	staticPrefixes   = []string{"/_next/", "/static/"}
	staticExtensions = map[string]bool{
		".svg": true, ".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".webp": true, ".ico": true,
	}
)

// Classify maps a request path to its route class. It is pure.
func Classify(p string) RouteClass {
	if strings.HasPrefix(p, "/api") {
		return RouteAPI
	}
	if !isPublic(p) {
		return RouteProtected
	}
	if hasAuthPrefix(p) {
		return RouteAuth
	}
	return RoutePublic
}

func isPublic(p string) bool {
	for _, route := range publicRoutes {
		if p == route || (route != "/" && strings.HasPrefix(p, route+"/")) {
			return true
		}
	}
	return false
}

// hasAuthPrefix matches any path under a sign-in route name, including
// siblings such as /login-help that Classify does not treat as public.
func hasAuthPrefix(p string) bool {
	for _, route := range authRoutes {
		if strings.HasPrefix(p, route) {
			return true
		}
	}
	return false
}

func isStaticAsset(p string) bool {
	if p == "/favicon.ico" {
		return true
	}
	for _, prefix := range staticPrefixes {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return staticExtensions[strings.ToLower(path.Ext(p))]
}

// Guard redirects page requests based on the session: protected pages send
// anonymous visitors to the login page, sign-in pages send signed-in
// visitors to the dashboard.
type Guard struct {
	resolver SessionResolver
	logger   *slog.Logger
}

// NewGuard creates a route guard backed by resolver.
func NewGuard(resolver SessionResolver, logger *slog.Logger) *Guard {
	return &Guard{resolver: resolver, logger: logger}
}

// Middleware applies the guard to every non-static, non-API request.
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := r.URL.Path
		if isStaticAsset(p) {
			next.ServeHTTP(w, r)
			return
		}

		class := Classify(p)
		if class == RouteAPI || class == RoutePublic {
			metrics.GuardOutcome(string(class), "pass")
			next.ServeHTTP(w, r)
			return
		}

		session, err := g.resolver.Resolve(r)
		if err != nil {
			g.failOpen(w, r, next, class, err)
			return
		}
		noteSession(r.Context(), session)
		r = r.WithContext(auth.WithSession(r.Context(), session))

		switch {
		case class == RouteProtected && session == nil:
			metrics.GuardOutcome(string(class), "redirect_login")
			http.Redirect(w, r, LoginPath+"?redirect="+url.QueryEscape(p), http.StatusSeeOther)
		case session != nil && hasAuthPrefix(p):
			metrics.GuardOutcome(string(class), "redirect_landing")
			http.Redirect(w, r, LandingPath, http.StatusSeeOther)
		default:
			metrics.GuardOutcome(string(class), "pass")
			next.ServeHTTP(w, r)
		}
	})
}

// failOpen is the guard's error policy: a missing identity configuration or
// a failed lookup lets the request through and is logged for operators.
func (g *Guard) failOpen(w http.ResponseWriter, r *http.Request, next http.Handler, class RouteClass, err error) {
	outcome := "fail_open_error"
	if errors.Is(err, auth.ErrNotConfigured) {
		outcome = "fail_open_unconfigured"
	}
	metrics.GuardOutcome(string(class), outcome)

	g.logger.Error("route guard session lookup failed, passing request through",
		"error", err,
		"path", r.URL.Path,
		"class", class,
	)
	next.ServeHTTP(w, r)
}
