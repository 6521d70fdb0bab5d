package session

import (
	"errors"
	"fmt"

	"github.com/wolfeidau/sessiond/internal/store"
)

// Error kinds returned by Service. Transport layers map them to responses;
// everything except ErrStoreUnavailable and ErrPersistence is a security
// failure and should be reported to clients generically.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
	ErrExpiredToken       = errors.New("expired token")
	ErrRevokedToken       = errors.New("revoked token")
	ErrUserNotFound       = errors.New("user not found")
	ErrPersistence        = errors.New("session persistence failed")
	ErrStoreUnavailable   = errors.New("session store unavailable")
)

// IsRetriable reports whether the caller may retry the same request later.
func IsRetriable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}

// IsSecurityError reports whether err is one of the kinds that must not reveal
// which check failed.
func IsSecurityError(err error) bool {
	return errors.Is(err, ErrInvalidCredentials) ||
		errors.Is(err, ErrInvalidToken) ||
		errors.Is(err, ErrExpiredToken) ||
		errors.Is(err, ErrRevokedToken) ||
		errors.Is(err, ErrUserNotFound)
}

// wrapStoreError classifies a store failure as unavailable or persistence while
// keeping the cause reachable with errors.Is.
func wrapStoreError(op string, err error) error {
	if errors.Is(err, store.ErrStoreUnavailable) {
		return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrPersistence, err)
}
