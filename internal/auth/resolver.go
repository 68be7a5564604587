package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/DukeRupert/sturgeon/internal/domain"
	"github.com/DukeRupert/sturgeon/internal/metrics"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// DefaultCookieName is the cookie the frontend stores the access token in.
	DefaultCookieName = "sb-access-token"

	// DefaultTimeout bounds a remote identity lookup.
	DefaultTimeout = 5 * time.Second

	defaultLeeway = 30 * time.Second
)

// ErrNotConfigured is returned when the identity provider URL or anon key
// is missing.
var ErrNotConfigured = errors.New("auth: identity provider not configured")

// Config configures a Resolver.
type Config struct {
	// URL is the identity provider base URL (SUPABASE_URL).
	URL string

	// AnonKey is the public API key sent as the apikey header.
	AnonKey string

	// JWTSecret enables local HS256 verification. When empty every token is
	// checked against the provider.
	JWTSecret string

	// CookieName holds the access token for browser requests.
	CookieName string

	// Timeout bounds remote lookups.
	Timeout time.Duration

	// HTTPClient overrides the client used for remote lookups.
	HTTPClient *http.Client
}

// Resolver turns request credentials into a domain.Session.
type Resolver struct {
	cfg    Config
	client *http.Client
	parser *jwt.Parser
	logger *slog.Logger
}

// NewResolver creates a Resolver. A missing URL or anon key is not an error
// here; Resolve reports ErrNotConfigured instead.
func NewResolver(cfg Config, logger *slog.Logger) *Resolver {
	if cfg.CookieName == "" {
		cfg.CookieName = DefaultCookieName
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	return &Resolver{
		cfg:    cfg,
		client: client,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
			jwt.WithExpirationRequired(),
			jwt.WithLeeway(defaultLeeway),
		),
		logger: logger,
	}
}

// Configured reports whether the provider URL and anon key are set.
func (r *Resolver) Configured() bool {
	return r.cfg.URL != "" && r.cfg.AnonKey != ""
}

// Resolve returns the session for req.
//
// It returns (nil, nil) when the request carries no credential or the
// credential is invalid or expired, ErrNotConfigured when the provider is
// not configured, and a wrapped error when the provider cannot be reached.
// A session already stored in the request context is returned as is.
func (r *Resolver) Resolve(req *http.Request) (*domain.Session, error) {
	if session, ok := SessionFromContext(req.Context()); ok {
		return session, nil
	}

	session, err := r.resolve(req)

	switch {
	case errors.Is(err, ErrNotConfigured):
		metrics.SessionResolved("not_configured")
	case err != nil:
		metrics.SessionResolved("error")
	case session == nil:
		metrics.SessionResolved("anonymous")
	default:
		metrics.SessionResolved("authenticated")
	}

	return session, err
}

func (r *Resolver) resolve(req *http.Request) (*domain.Session, error) {
	if !r.Configured() {
		return nil, ErrNotConfigured
	}

	token := r.tokenFromRequest(req)
	if token == "" {
		return nil, nil
	}

	if r.cfg.JWTSecret != "" {
		return r.verifyLocal(token), nil
	}

	ctx, cancel := context.WithTimeout(req.Context(), r.cfg.Timeout)
	defer cancel()

	return r.verifyRemote(ctx, token)
}

// tokenFromRequest prefers the Authorization header over the cookie.
func (r *Resolver) tokenFromRequest(req *http.Request) string {
	if header := req.Header.Get("Authorization"); header != "" {
		scheme, token, found := strings.Cut(header, " ")
		if found && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}

	cookie, err := req.Cookie(r.cfg.CookieName)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(cookie.Value)
}

type tokenClaims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

func (r *Resolver) verifyLocal(token string) *domain.Session {
	claims := &tokenClaims{}
	parsed, err := r.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return []byte(r.cfg.JWTSecret), nil
	})
	if err != nil || !parsed.Valid {
		r.logger.Debug("rejected access token", "error", err)
		return nil
	}

	return sessionFromClaims(claims, token)
}

type providerUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

func (r *Resolver) verifyRemote(ctx context.Context, token string) (*domain.Session, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.cfg.URL+"/auth/v1/user", nil)
	if err != nil {
		return nil, fmt.Errorf("auth: build user request: %w", err)
	}
	req.Header.Set("apikey", r.cfg.AnonKey)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("auth: user lookup: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return nil, nil
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("auth: user lookup returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var user providerUser
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, fmt.Errorf("auth: decode user: %w", err)
	}

	userID, err := uuid.Parse(user.ID)
	if err != nil {
		return nil, nil
	}

	session := &domain.Session{
		UserID:      userID,
		Email:       user.Email,
		Role:        user.Role,
		AccessToken: token,
	}

	// The provider already validated the signature; read exp for callers.
	claims := &tokenClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err == nil && claims.ExpiresAt != nil {
		session.ExpiresAt = claims.ExpiresAt.Time
	}
	if session.Expired(time.Now()) {
		return nil, nil
	}

	return session, nil
}

func sessionFromClaims(claims *tokenClaims, token string) *domain.Session {
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil
	}

	session := &domain.Session{
		UserID:      userID,
		Email:       claims.Email,
		Role:        claims.Role,
		AccessToken: token,
	}
	if claims.ExpiresAt != nil {
		session.ExpiresAt = claims.ExpiresAt.Time
	}
	return session
}
