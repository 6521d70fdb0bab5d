package postgres

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/sessiond/internal/models"
	"github.com/wolfeidau/sessiond/internal/store"
)

const sessionColumns = `
	session_id, user_id, refresh_token,
	client, COALESCE(host(ip_address), ''), user_agent,
	is_revoked, expires_at, last_used_at, created_at
`

// SessionStore implements store.SessionStore using PostgreSQL.
type SessionStore struct {
	pool *pgxpool.Pool
	cfg  StoreConfig
}

// NewSessionStore creates a new PostgreSQL-backed session store.
func NewSessionStore(pool *pgxpool.Pool, cfg StoreConfig) *SessionStore {
	cfg.ApplyDefaults()
	return &SessionStore{
		pool: pool,
		cfg:  cfg,
	}
}

// Create inserts a new session row bound to refreshToken.
func (s *SessionStore) Create(ctx context.Context, userID uuid.UUID, refreshToken string, client models.ClientContext, expiresAt time.Time) (*models.Session, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("%w: refresh token is required", store.ErrInvalidSessionArgument)
	}

	sessionID, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session id: %w", err)
	}

	ctx, cancel := store.WithQueryTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()

	query := `
		INSERT INTO sessions (
			session_id, user_id, refresh_token,
			client, ip_address, user_agent,
			is_revoked, expires_at, last_used_at, created_at
		) VALUES (
			$1, $2, $3, $4, $5::inet, $6, FALSE, $7, now(), now()
		)
		RETURNING ` + sessionColumns

	row := s.pool.QueryRow(ctx, query,
		sessionID,
		userID,
		refreshToken,
		client.Client,
		inetParam(client.IPAddress),
		client.UserAgent,
		expiresAt.UTC(),
	)

	session, err := scanSession(row)
	if err != nil {
		return nil, mapPostgresError("create session", err)
	}

	log.Debug().
		Str("session_id", session.SessionID.String()).
		Str("user_id", userID.String()).
		Str("client", client.Client).
		Msg("Created session")

	return session, nil
}

// FindByRefreshToken returns the session bound to refreshToken.
func (s *SessionStore) FindByRefreshToken(ctx context.Context, refreshToken string) (*models.Session, error) {
	ctx, cancel := store.WithQueryTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()

	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE refresh_token = $1`

	session, err := scanSession(s.pool.QueryRow(ctx, query, refreshToken))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrSessionNotFound
		}
		return nil, mapPostgresError("find session", err)
	}

	return session, nil
}

// MarkUsed advances last_used_at. It never moves the timestamp backwards.
func (s *SessionStore) MarkUsed(ctx context.Context, refreshToken string, at time.Time) error {
	ctx, cancel := store.WithQueryTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()

	tag, err := s.pool.Exec(ctx, `
		UPDATE sessions
		SET last_used_at = GREATEST(last_used_at, $2)
		WHERE refresh_token = $1
	`, refreshToken, at.UTC())
	if err != nil {
		return mapPostgresError("mark session used", err)
	}

	if tag.RowsAffected() == 0 {
		return store.ErrSessionNotFound
	}

	return nil
}

// Revoke sets is_revoked and reports the value it held before, in a single statement.
func (s *SessionStore) Revoke(ctx context.Context, refreshToken string) (bool, error) {
	ctx, cancel := store.WithQueryTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()

	query := `
		UPDATE sessions s
		SET is_revoked = TRUE
		FROM (
			SELECT session_id, is_revoked
			FROM sessions
			WHERE refresh_token = $1
			FOR UPDATE
		) old
		WHERE s.session_id = old.session_id
		RETURNING s.session_id, old.is_revoked
	`

	var (
		sessionID      uuid.UUID
		alreadyRevoked bool
	)
	err := s.pool.QueryRow(ctx, query, refreshToken).Scan(&sessionID, &alreadyRevoked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, store.ErrSessionNotFound
		}
		return false, mapPostgresError("revoke session", err)
	}

	log.Debug().
		Str("session_id", sessionID.String()).
		Bool("already_revoked", alreadyRevoked).
		Msg("Revoked session")

	return alreadyRevoked, nil
}

// RevokeAllForUser revokes every active session of the user.
func (s *SessionStore) RevokeAllForUser(ctx context.Context, userID uuid.UUID) (int, error) {
	ctx, cancel := store.WithQueryTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()

	tag, err := s.pool.Exec(ctx, `
		UPDATE sessions
		SET is_revoked = TRUE
		WHERE user_id = $1 AND NOT is_revoked
	`, userID)
	if err != nil {
		return 0, mapPostgresError("revoke user sessions", err)
	}

	count := int(tag.RowsAffected())
	if count > 0 {
		log.Info().
			Str("user_id", userID.String()).
			Int("count", count).
			Msg("Revoked all user sessions")
	}

	return count, nil
}

// DeleteExpiredBefore removes sessions whose expiry is before now.
func (s *SessionStore) DeleteExpiredBefore(ctx context.Context, now time.Time) (int, error) {
	ctx, cancel := store.WithQueryTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()

	tag, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE expires_at < $1`, now.UTC())
	if err != nil {
		return 0, mapPostgresError("delete expired sessions", err)
	}

	return int(tag.RowsAffected()), nil
}

func scanSession(row pgx.Row) (*models.Session, error) {
	var session models.Session
	err := row.Scan(
		&session.SessionID,
		&session.UserID,
		&session.RefreshToken,
		&session.ClientContext.Client,
		&session.ClientContext.IPAddress,
		&session.ClientContext.UserAgent,
		&session.IsRevoked,
		&session.ExpiresAt,
		&session.LastUsedAt,
		&session.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// inetParam converts an IP string to a value suitable for an INET column.
// Empty or unparsable addresses are stored as NULL.
func inetParam(ip string) any {
	if ip == "" {
		return nil
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return nil
	}
	return addr.String()
}
