package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/sessiond/internal/models"
	"github.com/wolfeidau/sessiond/internal/store"
	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials is returned for an unknown email and a wrong password alike.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Hasher hashes and verifies passwords using bcrypt.
type Hasher struct {
	Cost int
}

// NewHasher returns a Hasher with the given bcrypt cost, clamped to the range
// bcrypt accepts. A non-positive cost selects bcrypt.DefaultCost.
func NewHasher(cost int) *Hasher {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	cost = max(bcrypt.MinCost, min(cost, bcrypt.MaxCost))
	return &Hasher{Cost: cost}
}

// Hash produces a salted bcrypt hash of password.
func (h *Hasher) Hash(password string) (string, error) {
	if password == "" {
		return "", errors.New("password must not be empty")
	}
	b, err := bcrypt.GenerateFromPassword([]byte(password), h.Cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(b), nil
}

// Compare returns nil when password matches hash.
func (h *Hasher) Compare(hash, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

// CredentialValidator checks an email and password against the user store.
type CredentialValidator struct {
	users  store.UserStore
	hasher *Hasher

	// Compared against when the email is unknown so both failure paths cost
	// one bcrypt comparison.
	dummyHash string
}

// NewCredentialValidator creates a validator. The dummy hash is generated at
// the hasher's cost so it takes as long to check as a real one.
func NewCredentialValidator(users store.UserStore, hasher *Hasher) (*CredentialValidator, error) {
	if hasher == nil {
		hasher = NewHasher(0)
	}

	dummy, err := hasher.Hash("sessiond-dummy-password")
	if err != nil {
		return nil, err
	}

	return &CredentialValidator{
		users:     users,
		hasher:    hasher,
		dummyHash: dummy,
	}, nil
}

// NormalizeEmail trims surrounding whitespace and lowercases the address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Validate returns the user when the password matches. Any store failure other
// than a missing user is returned as is so callers can tell it apart from bad
// credentials.
func (v *CredentialValidator) Validate(ctx context.Context, email, password string) (*models.User, error) {
	user, err := v.users.GetByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			_ = v.hasher.Compare(v.dummyHash, password)
			log.Debug().Msg("Login attempt for unknown email")
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := v.hasher.Compare(user.PasswordHash, password); err != nil {
		if !errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			log.Warn().Err(err).Str("user_id", user.UserID.String()).Msg("Stored password hash is unusable")
		}
		return nil, ErrInvalidCredentials
	}

	return user, nil
}
