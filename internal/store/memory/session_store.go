package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wolfeidau/sessiond/internal/models"
	"github.com/wolfeidau/sessiond/internal/store"
)

// SessionStore implements store.SessionStore using in-memory storage.
// This implementation is for testing and development only - data is lost on restart.
type SessionStore struct {
	mu sync.RWMutex

	sessions       map[string]*models.Session      // refresh_token -> Session
	sessionsByUser map[uuid.UUID]map[string]struct{} // user_id -> set of refresh tokens
}

// NewSessionStore creates a new in-memory session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions:       make(map[string]*models.Session),
		sessionsByUser: make(map[uuid.UUID]map[string]struct{}),
	}
}

// Create creates a new session in memory.
func (s *SessionStore) Create(ctx context.Context, userID uuid.UUID, refreshToken string, client models.ClientContext, expiresAt time.Time) (*models.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, store.Unavailable("create session", err)
	}
	if refreshToken == "" {
		return nil, store.ErrInvalidSessionArgument
	}

	sessionID, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	session := &models.Session{
		SessionID:     sessionID,
		UserID:        userID,
		RefreshToken:  refreshToken,
		ClientContext: client,
		ExpiresAt:     expiresAt,
		LastUsedAt:    now,
		CreatedAt:     now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[refreshToken]; exists {
		return nil, store.ErrDuplicateRefreshToken
	}

	s.sessions[refreshToken] = session

	// Update user index
	tokens, ok := s.sessionsByUser[userID]
	if !ok {
		tokens = make(map[string]struct{})
		s.sessionsByUser[userID] = tokens
	}
	tokens[refreshToken] = struct{}{}

	clone := *session
	return &clone, nil
}

// FindByRefreshToken retrieves a session by its refresh token.
func (s *SessionStore) FindByRefreshToken(ctx context.Context, refreshToken string) (*models.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, store.Unavailable("find session", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	session, exists := s.sessions[refreshToken]
	if !exists {
		return nil, store.ErrSessionNotFound
	}

	// Clone to avoid external modifications
	clone := *session
	return &clone, nil
}

// MarkUsed updates the last_used_at timestamp for a session.
func (s *SessionStore) MarkUsed(ctx context.Context, refreshToken string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return store.Unavailable("mark session used", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	session, exists := s.sessions[refreshToken]
	if !exists {
		return store.ErrSessionNotFound
	}

	if at.After(session.LastUsedAt) {
		session.LastUsedAt = at
	}
	return nil
}

// Revoke flags a single session as revoked (logout).
func (s *SessionStore) Revoke(ctx context.Context, refreshToken string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, store.Unavailable("revoke session", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	session, exists := s.sessions[refreshToken]
	if !exists {
		return false, store.ErrSessionNotFound
	}

	already := session.IsRevoked
	session.IsRevoked = true
	return already, nil
}

// RevokeAllForUser revokes all active sessions for a user (logout everywhere).
func (s *SessionStore) RevokeAllForUser(ctx context.Context, userID uuid.UUID) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, store.Unavailable("revoke user sessions", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for token := range s.sessionsByUser[userID] {
		session := s.sessions[token]
		if session == nil || session.IsRevoked {
			continue
		}
		session.IsRevoked = true
		count++
	}

	return count, nil
}

// DeleteExpiredBefore deletes all sessions that expired before now (cleanup job).
func (s *SessionStore) DeleteExpiredBefore(ctx context.Context, now time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, store.Unavailable("delete expired sessions", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var toDelete []string
	for token, session := range s.sessions {
		if session.ExpiresAt.Before(now) {
			toDelete = append(toDelete, token)
		}
	}

	for _, token := range toDelete {
		session := s.sessions[token]
		s.removeFromUserIndex(session.UserID, token)
		delete(s.sessions, token)
	}

	return len(toDelete), nil
}

// DeleteUser removes every session owned by the user, mirroring the
// ON DELETE CASCADE of the relational schema.
func (s *SessionStore) DeleteUser(userID uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	tokens := s.sessionsByUser[userID]
	for token := range tokens {
		delete(s.sessions, token)
	}
	delete(s.sessionsByUser, userID)

	return len(tokens)
}

// removeFromUserIndex removes a refresh token from the user's session set.
func (s *SessionStore) removeFromUserIndex(userID uuid.UUID, refreshToken string) {
	tokens := s.sessionsByUser[userID]
	delete(tokens, refreshToken)
	// Clean up empty entries
	if len(tokens) == 0 {
		delete(s.sessionsByUser, userID)
	}
}
