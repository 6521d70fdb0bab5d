package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/wolfeidau/sessiond/internal/models"
)

// Sentinel errors for common error conditions
var (
	ErrSessionNotFound        = errors.New("session not found")
	ErrDuplicateRefreshToken  = errors.New("refresh token already assigned to a session")
	ErrUserNotFound           = errors.New("user not found")
	ErrStoreUnavailable       = errors.New("store unavailable")
	ErrInvalidSessionArgument = errors.New("invalid session argument")
)

// DefaultQueryTimeout bounds every store operation that does not carry a tighter deadline.
const DefaultQueryTimeout = 5 * time.Second

// SessionStore defines the durable mapping from refresh token to session metadata.
// All operations are atomic with respect to a single session row and safe for concurrent use.
type SessionStore interface {
	// Create persists a new session for the user.
	// Returns ErrDuplicateRefreshToken if the token is already bound to another session.
	Create(ctx context.Context, userID uuid.UUID, refreshToken string, client models.ClientContext, expiresAt time.Time) (*models.Session, error)

	// FindByRefreshToken returns the session bound to the token.
	// Returns ErrSessionNotFound if no session matches.
	FindByRefreshToken(ctx context.Context, refreshToken string) (*models.Session, error)

	// MarkUsed sets last_used_at for the session bound to the token.
	MarkUsed(ctx context.Context, refreshToken string, at time.Time) error

	// Revoke flags the session as revoked. Idempotent; alreadyRevoked reports
	// whether the flag was set before this call.
	// Returns ErrSessionNotFound if no session matches.
	Revoke(ctx context.Context, refreshToken string) (alreadyRevoked bool, err error)

	// RevokeAllForUser revokes every non-revoked session of the user and returns how many changed.
	RevokeAllForUser(ctx context.Context, userID uuid.UUID) (int, error)

	// DeleteExpiredBefore removes sessions with expires_at < now and returns how many were removed.
	DeleteExpiredBefore(ctx context.Context, now time.Time) (int, error)
}

// UserStore is the read-only view of the identity store used for authentication.
type UserStore interface {
	// GetByEmail returns the user with the given email.
	// Returns ErrUserNotFound if the user doesn't exist.
	GetByEmail(ctx context.Context, email string) (*models.User, error)

	// GetByID returns the user with the given ID.
	// Returns ErrUserNotFound if the user doesn't exist.
	GetByID(ctx context.Context, userID uuid.UUID) (*models.User, error)
}

// WithQueryTimeout derives a context bounded by timeout. A non-positive timeout
// falls back to DefaultQueryTimeout.
func WithQueryTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = DefaultQueryTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

// Unavailable wraps err as ErrStoreUnavailable, keeping the cause visible to errors.Is.
func Unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}
