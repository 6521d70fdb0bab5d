package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/wolfeidau/sessiond/internal/store"
)

const refreshTokenConstraint = "sessions_refresh_token_key"

// mapPostgresError maps PostgreSQL-specific errors to store sentinel errors.
// Returns the original error wrapped with op if it doesn't match known patterns.
func mapPostgresError(op string, err error) error {
	if err == nil {
		return nil
	}

	// Deadline and cancellation surface as retriable unavailability
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return store.Unavailable(op, err)
	}

	// Check if it's a PostgreSQL error
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		// Errors from the pool or network before the server answered
		if pgconn.SafeToRetry(err) || pgconn.Timeout(err) || isConnectError(err) {
			return store.Unavailable(op, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	// Map error codes to sentinel errors
	switch pgErr.Code {
	case pgerrcode.UniqueViolation:
		if pgErr.ConstraintName == refreshTokenConstraint {
			return fmt.Errorf("%s: %w", op, store.ErrDuplicateRefreshToken)
		}
		return fmt.Errorf("%s: unique constraint violation: %s: %w", op, pgErr.ConstraintName, err)

	case pgerrcode.ForeignKeyViolation:
		// Session insert for a user that does not exist
		return fmt.Errorf("%s: %w: %s", op, store.ErrUserNotFound, pgErr.Detail)

	case pgerrcode.SerializationFailure, pgerrcode.DeadlockDetected:
		// Retryable transaction errors
		return store.Unavailable(op+": transaction conflict", err)

	case pgerrcode.ConnectionException,
		pgerrcode.ConnectionDoesNotExist,
		pgerrcode.ConnectionFailure,
		pgerrcode.CannotConnectNow,
		pgerrcode.SQLClientUnableToEstablishSQLConnection,
		pgerrcode.AdminShutdown,
		pgerrcode.CrashShutdown,
		pgerrcode.QueryCanceled,
		pgerrcode.InsufficientResources,
		pgerrcode.TooManyConnections:
		return store.Unavailable(op, err)

	default:
		// Unknown error - wrap with PostgreSQL error details
		return fmt.Errorf("%s: postgres error [%s]: %s (detail: %s, hint: %s): %w",
			op, pgErr.Code, pgErr.Message, pgErr.Detail, pgErr.Hint, err)
	}
}

func isConnectError(err error) bool {
	var connErr *pgconn.ConnectError
	return errors.As(err, &connErr)
}
