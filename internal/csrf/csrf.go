// Package csrf protects cookie-authenticated API writes with the
// double-submit cookie pattern.
//
// Safe requests receive a readable csrf_token cookie. Unsafe requests that
// authenticate with the session cookie must echo that value in the
// X-CSRF-Token header. Requests authenticated with an Authorization header
// carry no ambient credential and are not checked.
package csrf

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"log/slog"
	"net/http"

	"github.com/DukeRupert/sturgeon/internal/domain"
	"github.com/DukeRupert/sturgeon/internal/handler"
)

const (
	// CookieName is the name of the CSRF token cookie.
	CookieName = "csrf_token"

	// HeaderName carries the echoed token on unsafe requests.
	HeaderName = "X-CSRF-Token"

	// TokenLength is the number of random bytes for the token (32 bytes = 256 bits).
	TokenLength = 32

	// CookieMaxAge is the lifetime of the CSRF cookie (12 hours).
	CookieMaxAge = 12 * 3600
)

// GenerateToken generates a cryptographically secure random token.
func GenerateToken() (string, error) {
	b := make([]byte, TokenLength)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// ValidateToken compares the cookie token with the submitted token in
// constant time.
func ValidateToken(cookieToken, submitted string) bool {
	if cookieToken == "" || submitted == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(cookieToken), []byte(submitted)) == 1
}

// Protector is the CSRF middleware.
type Protector struct {
	sessionCookie string
	isSecure      bool
	logger        *slog.Logger
}

// NewProtector creates a Protector. sessionCookie names the cookie that
// carries the access token.
func NewProtector(sessionCookie string, isSecure bool, logger *slog.Logger) *Protector {
	return &Protector{
		sessionCookie: sessionCookie,
		isSecure:      isSecure,
		logger:        logger,
	}
}

// Handler issues tokens on safe requests and checks them on unsafe ones.
func (p *Protector) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isSafeMethod(r.Method) {
			p.ensureToken(w, r)
			next.ServeHTTP(w, r)
			return
		}

		if !p.cookieAuthenticated(r) {
			next.ServeHTTP(w, r)
			return
		}

		cookie, err := r.Cookie(CookieName)
		if err != nil || !ValidateToken(cookie.Value, r.Header.Get(HeaderName)) {
			p.logger.Warn("csrf token mismatch",
				"method", r.Method,
				"path", r.URL.Path,
			)
			handler.ErrorResponse(w, r, p.logger,
				domain.Forbidden("csrf.validate", "Request could not be verified. Reload the page and try again."))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// cookieAuthenticated reports whether the browser attached the session
// cookie and nothing else authenticates the request.
func (p *Protector) cookieAuthenticated(r *http.Request) bool {
	if r.Header.Get("Authorization") != "" {
		return false
	}
	c, err := r.Cookie(p.sessionCookie)
	return err == nil && c.Value != ""
}

func (p *Protector) ensureToken(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
		return
	}

	token, err := GenerateToken()
	if err != nil {
		p.logger.Error("failed to generate csrf token", "error", err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   CookieMaxAge,
		HttpOnly: false, // the frontend reads it to fill the header
		Secure:   p.isSecure,
		SameSite: http.SameSiteStrictMode,
	})
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}
