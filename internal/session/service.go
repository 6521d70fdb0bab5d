package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/sessiond/internal/auth"
	"github.com/wolfeidau/sessiond/internal/models"
	"github.com/wolfeidau/sessiond/internal/store"
	"github.com/wolfeidau/sessiond/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// TokenIssuer mints and verifies tokens. Implemented by *auth.TokenIssuer.
type TokenIssuer interface {
	IssueTokens(user *models.User) (*auth.TokenPair, error)
	IssueAccessToken(user *models.User) (string, int64, error)
	VerifyRefreshToken(token string) (*auth.RefreshClaims, error)
}

// CredentialValidator checks login credentials. Implemented by *auth.CredentialValidator.
type CredentialValidator interface {
	Validate(ctx context.Context, email, password string) (*models.User, error)
}

// LoginResult is returned by a successful Login.
type LoginResult struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
	SessionID    uuid.UUID
}

// RefreshResult is returned by a successful Refresh. The refresh token that
// was presented stays valid.
type RefreshResult struct {
	AccessToken string
	ExpiresIn   int64
}

// Config wires a Service to its collaborators.
type Config struct {
	Sessions    store.SessionStore
	Users       store.UserStore
	Tokens      TokenIssuer
	Credentials CredentialValidator

	// Now overrides the clock used for stored-expiry checks.
	Now func() time.Time
}

// Service implements login, refresh and revocation on top of a session store.
// It holds no mutable state of its own and is safe for concurrent use.
type Service struct {
	sessions    store.SessionStore
	users       store.UserStore
	tokens      TokenIssuer
	credentials CredentialValidator
	now         func() time.Time
	metrics     *telemetry.Metrics
}

// NewService creates a Service.
func NewService(cfg Config) (*Service, error) {
	switch {
	case cfg.Sessions == nil:
		return nil, errors.New("session store is required")
	case cfg.Users == nil:
		return nil, errors.New("user store is required")
	case cfg.Tokens == nil:
		return nil, errors.New("token issuer is required")
	case cfg.Credentials == nil:
		return nil, errors.New("credential validator is required")
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Service{
		sessions:    cfg.Sessions,
		users:       cfg.Users,
		tokens:      cfg.Tokens,
		credentials: cfg.Credentials,
		now:         now,
		metrics:     telemetry.GetMetrics(),
	}, nil
}

// Login validates credentials, mints a token pair and persists the session.
// No token is returned unless the session was stored.
func (s *Service) Login(ctx context.Context, email, password string, client models.ClientContext) (*LoginResult, error) {
	user, err := s.credentials.Validate(ctx, email, password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			s.loginFailed(ctx, "invalid_credentials")
			return nil, ErrInvalidCredentials
		}
		s.loginFailed(ctx, "store")
		return nil, s.storeError(ctx, "login: look up user", err)
	}

	pair, err := s.tokens.IssueTokens(user)
	if err != nil {
		s.loginFailed(ctx, "issue")
		return nil, fmt.Errorf("login: issue tokens: %w", err)
	}

	session, err := s.sessions.Create(ctx, user.UserID, pair.RefreshToken, client, pair.RefreshExpiresAt)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateRefreshToken) {
			log.Error().Err(err).Str("user_id", user.UserID.String()).Msg("Refresh token collision, token generator is broken")
		}
		s.loginFailed(ctx, "store")
		return nil, s.storeError(ctx, "login: create session", err)
	}

	s.metrics.SessionsCreatedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("client", client.Client)))

	log.Info().
		Str("session_id", session.SessionID.String()).
		Str("user_id", user.UserID.String()).
		Str("client", client.Client).
		Msg("User logged in")

	return &LoginResult{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresIn:    pair.ExpiresIn,
		SessionID:    session.SessionID,
	}, nil
}

// Refresh mints a new access token for a valid, unrevoked, unexpired session.
// Checks run in a fixed order: signature and signed expiry, store lookup,
// revocation, stored expiry, owning user. lastUsedAt is only touched after all
// of them pass.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*RefreshResult, error) {
	claims, err := s.tokens.VerifyRefreshToken(refreshToken)
	if err != nil {
		if errors.Is(err, auth.ErrTokenExpired) {
			return nil, s.refreshFailed(ctx, "signed_expiry", ErrExpiredToken)
		}
		return nil, s.refreshFailed(ctx, "signature", fmt.Errorf("%w: %w", ErrInvalidToken, err))
	}

	session, err := s.sessions.FindByRefreshToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			return nil, s.refreshFailed(ctx, "not_found", ErrInvalidToken)
		}
		return nil, s.refreshFailed(ctx, "store", s.storeError(ctx, "refresh: find session", err))
	}

	if session.IsRevoked {
		log.Warn().
			Str("session_id", session.SessionID.String()).
			Str("user_id", session.UserID.String()).
			Str("token_id", claims.TokenID).
			Msg("Revoked refresh token presented, possible replay")
		return nil, s.refreshFailed(ctx, "revoked", ErrRevokedToken)
	}

	if session.IsExpired(s.now()) {
		return nil, s.refreshFailed(ctx, "stored_expiry", ErrExpiredToken)
	}

	if claims.Subject != session.UserID.String() {
		log.Warn().
			Str("session_id", session.SessionID.String()).
			Msg("Refresh token subject does not match session owner")
		return nil, s.refreshFailed(ctx, "subject_mismatch", ErrInvalidToken)
	}

	// Role is re-read so changes apply without a new login
	user, err := s.users.GetByID(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			log.Error().
				Str("session_id", session.SessionID.String()).
				Str("user_id", session.UserID.String()).
				Msg("Session references a missing user")
			return nil, s.refreshFailed(ctx, "user_not_found", ErrUserNotFound)
		}
		return nil, s.refreshFailed(ctx, "store", s.storeError(ctx, "refresh: look up user", err))
	}

	accessToken, expiresIn, err := s.tokens.IssueAccessToken(user)
	if err != nil {
		return nil, s.refreshFailed(ctx, "issue", fmt.Errorf("refresh: issue access token: %w", err))
	}

	if err := s.sessions.MarkUsed(ctx, refreshToken, s.now()); err != nil {
		log.Warn().Err(err).Str("session_id", session.SessionID.String()).Msg("Failed to update session last used time")
	}

	s.metrics.SessionsRefreshedTotal.Add(ctx, 1)

	return &RefreshResult{
		AccessToken: accessToken,
		ExpiresIn:   expiresIn,
	}, nil
}

// Logout revokes the session bound to refreshToken. alreadyInvalidated is true
// when the session had been revoked before this call.
func (s *Service) Logout(ctx context.Context, refreshToken string) (bool, error) {
	alreadyInvalidated, err := s.sessions.Revoke(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			return false, ErrInvalidToken
		}
		return false, s.storeError(ctx, "logout", err)
	}

	if !alreadyInvalidated {
		s.metrics.SessionsRevokedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("scope", "session")))
	}

	return alreadyInvalidated, nil
}

// LogoutAll revokes every active session of the user and returns how many
// changed. Sessions created concurrently with the call may survive it.
func (s *Service) LogoutAll(ctx context.Context, userID uuid.UUID) (int, error) {
	count, err := s.sessions.RevokeAllForUser(ctx, userID)
	if err != nil {
		return 0, s.storeError(ctx, "logout all", err)
	}

	s.metrics.SessionsRevokedTotal.Add(ctx, int64(count), metric.WithAttributes(attribute.String("scope", "user")))

	log.Info().
		Str("user_id", userID.String()).
		Int("revoked", count).
		Msg("Logged out all sessions")

	return count, nil
}

// IsBlacklisted reports whether refreshToken must be refused. Unknown tokens
// and lookup failures count as blacklisted.
func (s *Service) IsBlacklisted(ctx context.Context, refreshToken string) bool {
	session, err := s.sessions.FindByRefreshToken(ctx, refreshToken)
	if err != nil {
		if !errors.Is(err, store.ErrSessionNotFound) {
			log.Warn().Err(err).Msg("Blacklist check failed, treating token as blacklisted")
		}
		return true
	}
	return session.IsRevoked
}

func (s *Service) storeError(ctx context.Context, op string, err error) error {
	if errors.Is(err, store.ErrStoreUnavailable) {
		s.metrics.StoreUnavailableTotal.Add(ctx, 1)
	}
	return wrapStoreError(op, err)
}

func (s *Service) loginFailed(ctx context.Context, reason string) {
	s.metrics.LoginFailuresTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (s *Service) refreshFailed(ctx context.Context, reason string, err error) error {
	s.metrics.RefreshFailuresTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	log.Debug().Err(err).Str("reason", reason).Msg("Refresh rejected")
	return err
}
