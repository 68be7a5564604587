package domain

import (
	"time"

	"github.com/google/uuid"
)

// Session is an authenticated identity issued by the external identity
// provider. It is read per request and never persisted here.
type Session struct {
	UserID      uuid.UUID
	Email       string
	Role        string
	AccessToken string
	ExpiresAt   time.Time
}

// Expired reports whether the session is past its expiry at now.
// A zero ExpiresAt never expires.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}
