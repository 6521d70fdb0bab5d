package models

import (
	"time"

	"github.com/google/uuid"
)

// User is a read-only view of an identity store record.
type User struct {
	UserID       uuid.UUID `yaml:"user_id"`
	Email        string    `yaml:"email"`
	Role         string    `yaml:"role"`
	PasswordHash string    `yaml:"password_hash"` // bcrypt, includes salt

	CreatedAt time.Time `yaml:"created_at,omitempty"`
}
