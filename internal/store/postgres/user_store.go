package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/sessiond/internal/models"
	"github.com/wolfeidau/sessiond/internal/store"
)

// UserStore implements store.UserStore using PostgreSQL.
type UserStore struct {
	pool *pgxpool.Pool
	cfg  StoreConfig
}

// NewUserStore creates a new PostgreSQL-backed user store.
func NewUserStore(pool *pgxpool.Pool, cfg StoreConfig) *UserStore {
	cfg.ApplyDefaults()
	return &UserStore{
		pool: pool,
		cfg:  cfg,
	}
}

// Create inserts a user. A zero UserID is replaced with a generated v7 UUID.
func (s *UserStore) Create(ctx context.Context, user *models.User) error {
	if user.UserID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate user id: %w", err)
		}
		user.UserID = id
	}

	ctx, cancel := store.WithQueryTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()

	err := s.pool.QueryRow(ctx, `
		INSERT INTO users (user_id, email, role, password_hash, created_at)
		VALUES ($1, $2, $3, $4, now())
		RETURNING created_at
	`, user.UserID, user.Email, user.Role, user.PasswordHash).Scan(&user.CreatedAt)
	if err != nil {
		return mapPostgresError("create user", err)
	}

	log.Debug().
		Str("user_id", user.UserID.String()).
		Str("role", user.Role).
		Msg("Created user")

	return nil
}

// GetByEmail looks a user up by email, ignoring case.
func (s *UserStore) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	ctx, cancel := store.WithQueryTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()

	query := `
		SELECT user_id, email, role, password_hash, created_at
		FROM users
		WHERE lower(email) = $1
	`

	return s.get(ctx, "get user by email", query, strings.ToLower(strings.TrimSpace(email)))
}

// GetByID looks a user up by ID.
func (s *UserStore) GetByID(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	ctx, cancel := store.WithQueryTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()

	query := `
		SELECT user_id, email, role, password_hash, created_at
		FROM users
		WHERE user_id = $1
	`

	return s.get(ctx, "get user by id", query, userID)
}

func (s *UserStore) get(ctx context.Context, op, query string, arg any) (*models.User, error) {
	var user models.User
	err := s.pool.QueryRow(ctx, query, arg).Scan(
		&user.UserID,
		&user.Email,
		&user.Role,
		&user.PasswordHash,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrUserNotFound
		}
		return nil, mapPostgresError(op, err)
	}

	return &user, nil
}
