// Package auth resolves request sessions and carries them through the
// request context.
//
// This package is imported by both middleware and handler packages without
// causing import cycles.
package auth

import (
	"context"
	"net/http"

	"github.com/DukeRupert/sturgeon/internal/domain"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	// sessionContextKey stores the resolution outcome for the request.
	sessionContextKey contextKey = "session"
)

// resolution records that a request has already been resolved, including
// the "no session" outcome.
type resolution struct {
	session *domain.Session
}

// WithSession stores the resolved session in ctx. A nil session records that
// the request is anonymous, so later lookups do not verify again.
func WithSession(ctx context.Context, session *domain.Session) context.Context {
	return context.WithValue(ctx, sessionContextKey, resolution{session: session})
}

// SessionFromContext returns the session stored by WithSession. ok reports
// whether the request was resolved at all.
func SessionFromContext(ctx context.Context) (session *domain.Session, ok bool) {
	res, ok := ctx.Value(sessionContextKey).(resolution)
	if !ok {
		return nil, false
	}
	return res.session, true
}

// GetSession returns the authenticated session, or nil.
//
// Usage:
//
//	session := auth.GetSession(r.Context())
//	if session == nil {
//	    // Handle unauthenticated request
//	}
func GetSession(ctx context.Context) *domain.Session {
	session, _ := SessionFromContext(ctx)
	return session
}

// GetSessionFromRequest is a convenience wrapper around GetSession.
func GetSessionFromRequest(r *http.Request) *domain.Session {
	return GetSession(r.Context())
}
