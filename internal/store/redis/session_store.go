package redis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/sessiond/internal/models"
	"github.com/wolfeidau/sessiond/internal/store"
)

// SessionStore implements store.SessionStore on Redis.
//
// Each session is a hash keyed by the SHA-256 digest of its refresh token. A
// set per user and a sorted set ordered by expiry index the hashes. Every
// mutation runs as a Lua script so it is atomic with respect to the row.
type SessionStore struct {
	client goredis.UniversalClient
	cfg    StoreConfig
}

// NewSessionStore creates a Redis-backed session store.
func NewSessionStore(client goredis.UniversalClient, cfg StoreConfig) *SessionStore {
	cfg.ApplyDefaults()
	return &SessionStore{
		client: client,
		cfg:    cfg,
	}
}

func (s *SessionStore) sessionPrefix() string { return "{" + s.cfg.Prefix + "}:session:" }
func (s *SessionStore) userPrefix() string    { return "{" + s.cfg.Prefix + "}:user:" }
func (s *SessionStore) expiryKey() string     { return "{" + s.cfg.Prefix + "}:expiry" }

func (s *SessionStore) sessionKey(digest string) string { return s.sessionPrefix() + digest }
func (s *SessionStore) userKey(userID uuid.UUID) string { return s.userPrefix() + userID.String() }

func tokenDigest(refreshToken string) string {
	sum := sha256.Sum256([]byte(refreshToken))
	return hex.EncodeToString(sum[:])
}

// Create stores a new session hash and indexes it.
func (s *SessionStore) Create(ctx context.Context, userID uuid.UUID, refreshToken string, client models.ClientContext, expiresAt time.Time) (*models.Session, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("%w: refresh token is required", store.ErrInvalidSessionArgument)
	}

	sessionID, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session id: %w", err)
	}

	now := time.Now().UTC()
	session := &models.Session{
		SessionID:     sessionID,
		UserID:        userID,
		RefreshToken:  refreshToken,
		ClientContext: client,
		ExpiresAt:     expiresAt.UTC().Truncate(time.Microsecond),
		LastUsedAt:    now.Truncate(time.Microsecond),
		CreatedAt:     now.Truncate(time.Microsecond),
	}

	ctx, cancel := store.WithQueryTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()

	digest := tokenDigest(refreshToken)
	args := append([]any{digest, session.ExpiresAt.UnixMicro()}, encodeSession(session)...)

	created, err := createSessionLua.Run(ctx, s.client,
		[]string{s.sessionKey(digest), s.userKey(userID), s.expiryKey()},
		args...,
	).Int()
	if err != nil {
		return nil, mapRedisError("create session", err)
	}
	if created == 0 {
		return nil, fmt.Errorf("create session: %w", store.ErrDuplicateRefreshToken)
	}

	log.Debug().
		Str("session_id", sessionID.String()).
		Str("user_id", userID.String()).
		Str("client", client.Client).
		Msg("Created session")

	return session, nil
}

// FindByRefreshToken loads the session hash for refreshToken.
func (s *SessionStore) FindByRefreshToken(ctx context.Context, refreshToken string) (*models.Session, error) {
	ctx, cancel := store.WithQueryTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()

	fields, err := s.client.HGetAll(ctx, s.sessionKey(tokenDigest(refreshToken))).Result()
	if err != nil {
		return nil, mapRedisError("find session", err)
	}
	if len(fields) == 0 {
		return nil, store.ErrSessionNotFound
	}

	session, err := decodeSession(fields)
	if err != nil {
		return nil, fmt.Errorf("find session: %w", err)
	}

	// Digest collisions are not expected; compare anyway so a mismatch never reads as a hit.
	if session.RefreshToken != refreshToken {
		return nil, store.ErrSessionNotFound
	}

	return session, nil
}

// MarkUsed advances last_used_at. It never moves the timestamp backwards.
func (s *SessionStore) MarkUsed(ctx context.Context, refreshToken string, at time.Time) error {
	ctx, cancel := store.WithQueryTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()

	found, err := markUsedLua.Run(ctx, s.client,
		[]string{s.sessionKey(tokenDigest(refreshToken))},
		at.UTC().UnixMicro(),
	).Int()
	if err != nil {
		return mapRedisError("mark session used", err)
	}
	if found == 0 {
		return store.ErrSessionNotFound
	}

	return nil
}

// Revoke sets the revoked flag and reports its previous value.
func (s *SessionStore) Revoke(ctx context.Context, refreshToken string) (bool, error) {
	ctx, cancel := store.WithQueryTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()

	prev, err := revokeSessionLua.Run(ctx, s.client,
		[]string{s.sessionKey(tokenDigest(refreshToken))},
	).Int()
	if err != nil {
		return false, mapRedisError("revoke session", err)
	}

	switch prev {
	case -1:
		return false, store.ErrSessionNotFound
	case 1:
		return true, nil
	default:
		return false, nil
	}
}

// RevokeAllForUser revokes every active session of the user.
func (s *SessionStore) RevokeAllForUser(ctx context.Context, userID uuid.UUID) (int, error) {
	ctx, cancel := store.WithQueryTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()

	count, err := revokeUserSessionsLua.Run(ctx, s.client,
		[]string{s.userKey(userID)},
		s.sessionPrefix(),
	).Int()
	if err != nil {
		return 0, mapRedisError("revoke user sessions", err)
	}

	if count > 0 {
		log.Info().
			Str("user_id", userID.String()).
			Int("count", count).
			Msg("Revoked all user sessions")
	}

	return count, nil
}

// DeleteExpiredBefore removes sessions whose expiry is before now, in batches
// of ReapBatchSize so a single script never blocks the server for long.
func (s *SessionStore) DeleteExpiredBefore(ctx context.Context, now time.Time) (int, error) {
	total := 0
	for {
		scanned, deleted, err := s.deleteExpiredBatch(ctx, now)
		if err != nil {
			return total, err
		}
		total += deleted
		if scanned < s.cfg.ReapBatchSize {
			return total, nil
		}
	}
}

func (s *SessionStore) deleteExpiredBatch(ctx context.Context, now time.Time) (int, int, error) {
	ctx, cancel := store.WithQueryTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()

	res, err := deleteExpiredLua.Run(ctx, s.client,
		[]string{s.expiryKey()},
		now.UTC().UnixMicro(),
		s.sessionPrefix(),
		s.userPrefix(),
		s.cfg.ReapBatchSize,
	).Int64Slice()
	if err != nil {
		return 0, 0, mapRedisError("delete expired sessions", err)
	}
	if len(res) != 2 {
		return 0, 0, fmt.Errorf("delete expired sessions: unexpected reply length %d", len(res))
	}

	return int(res[0]), int(res[1]), nil
}

func encodeSession(session *models.Session) []any {
	revoked := "0"
	if session.IsRevoked {
		revoked = "1"
	}
	return []any{
		"session_id", session.SessionID.String(),
		"user_id", session.UserID.String(),
		"refresh_token", session.RefreshToken,
		"client", session.ClientContext.Client,
		"ip_address", session.ClientContext.IPAddress,
		"user_agent", session.ClientContext.UserAgent,
		"is_revoked", revoked,
		"expires_at", strconv.FormatInt(session.ExpiresAt.UnixMicro(), 10),
		"last_used_at", strconv.FormatInt(session.LastUsedAt.UnixMicro(), 10),
		"created_at", strconv.FormatInt(session.CreatedAt.UnixMicro(), 10),
	}
}

func decodeSession(fields map[string]string) (*models.Session, error) {
	sessionID, err := uuid.Parse(fields["session_id"])
	if err != nil {
		return nil, fmt.Errorf("%w: session_id: %w", errCorruptSession, err)
	}
	userID, err := uuid.Parse(fields["user_id"])
	if err != nil {
		return nil, fmt.Errorf("%w: user_id: %w", errCorruptSession, err)
	}

	var times [3]time.Time
	for i, name := range []string{"expires_at", "last_used_at", "created_at"} {
		micros, err := strconv.ParseInt(fields[name], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", errCorruptSession, name, err)
		}
		times[i] = time.UnixMicro(micros).UTC()
	}

	return &models.Session{
		SessionID:    sessionID,
		UserID:       userID,
		RefreshToken: fields["refresh_token"],
		ClientContext: models.ClientContext{
			Client:    fields["client"],
			IPAddress: fields["ip_address"],
			UserAgent: fields["user_agent"],
		},
		IsRevoked:  fields["is_revoked"] == "1",
		ExpiresAt:  times[0],
		LastUsedAt: times[1],
		CreatedAt:  times[2],
	}, nil
}
