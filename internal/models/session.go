package models

import (
	"time"

	"github.com/google/uuid"
)

// ClientContext is the origin metadata captured when a session is created.
// It is never mutated after creation.
type ClientContext struct {
	Client    string // Client label supplied at login (e.g. "ios", "web", "cli")
	IPAddress string
	UserAgent string
}

// Session binds a refresh token to a user together with its revocation and expiry state.
type Session struct {
	SessionID    uuid.UUID // UUIDv7
	UserID       uuid.UUID // Owning user, many sessions per user
	RefreshToken string    // Exact signed refresh token, globally unique

	ClientContext ClientContext

	IsRevoked bool // Monotonic, false -> true only

	ExpiresAt  time.Time // Fixed at creation, never extended
	LastUsedAt time.Time
	CreatedAt  time.Time
}

// IsExpired returns true if the session has expired at the given instant.
func (s *Session) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// IsUsable returns true if the session can still mint access tokens.
func (s *Session) IsUsable(now time.Time) bool {
	return !s.IsRevoked && !s.IsExpired(now)
}
