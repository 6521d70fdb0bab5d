package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/wolfeidau/sessiond/internal/models"
	"github.com/wolfeidau/sessiond/internal/store"
)

// UserStore implements store.UserStore using in-memory storage.
// This implementation is for testing and development only - data is lost on restart.
type UserStore struct {
	mu sync.RWMutex

	users        map[uuid.UUID]*models.User // user_id -> User
	usersByEmail map[string]*models.User    // lower(email) -> User

	// sessions receives cascade deletes when a user is removed.
	sessions *SessionStore
}

// NewUserStore creates a new in-memory user store. When sessions is non-nil,
// deleting a user also deletes all of that user's sessions.
func NewUserStore(sessions *SessionStore) *UserStore {
	return &UserStore{
		users:        make(map[uuid.UUID]*models.User),
		usersByEmail: make(map[string]*models.User),
		sessions:     sessions,
	}
}

// Add inserts or replaces a user.
func (s *UserStore) Add(user *models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.users[user.UserID]; ok {
		delete(s.usersByEmail, normalizeEmail(existing.Email))
	}

	// Clone to avoid external modifications
	clone := *user
	s.users[user.UserID] = &clone
	s.usersByEmail[normalizeEmail(user.Email)] = &clone
}

// SetRole changes the role of an existing user.
func (s *UserStore) SetRole(userID uuid.UUID, role string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return store.ErrUserNotFound
	}
	user.Role = role
	return nil
}

// Delete removes a user and cascades to the user's sessions.
func (s *UserStore) Delete(ctx context.Context, userID uuid.UUID) error {
	s.mu.Lock()
	user, ok := s.users[userID]
	if !ok {
		s.mu.Unlock()
		return store.ErrUserNotFound
	}
	delete(s.users, userID)
	delete(s.usersByEmail, normalizeEmail(user.Email))
	s.mu.Unlock()

	if s.sessions != nil {
		s.sessions.DeleteUser(userID)
	}
	return nil
}

// GetByEmail retrieves a user by email (case-insensitive).
func (s *UserStore) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, store.Unavailable("get user by email", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.usersByEmail[normalizeEmail(email)]
	if !ok {
		return nil, store.ErrUserNotFound
	}

	clone := *user
	return &clone, nil
}

// GetByID retrieves a user by ID.
func (s *UserStore) GetByID(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, store.Unavailable("get user by id", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[userID]
	if !ok {
		return nil, store.ErrUserNotFound
	}

	clone := *user
	return &clone, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
