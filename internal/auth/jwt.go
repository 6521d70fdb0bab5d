package auth

import (
	"context"
	"errors"
	"net/http"

	"connectrpc.com/authn"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// AccessTokenVerifier is satisfied by TokenIssuer.
type AccessTokenVerifier interface {
	VerifyAccessToken(token string) (*AccessClaims, error)
}

// Principal is the authenticated caller attached to the request context.
type Principal struct {
	UserID uuid.UUID
	Role   string
}

// NewJWTAuthFunc returns an authn.AuthFunc that validates Bearer access tokens.
// On success the *Principal can be retrieved with PrincipalFromContext.
func NewJWTAuthFunc(verifier AccessTokenVerifier) authn.AuthFunc {
	return func(ctx context.Context, req *http.Request) (any, error) {
		tokenStr, ok := authn.BearerToken(req)
		if !ok {
			return nil, authn.Errorf("missing bearer token")
		}

		claims, err := verifier.VerifyAccessToken(tokenStr)
		if err != nil {
			log.Debug().Err(err).Msg("Access token rejected")
			if errors.Is(err, ErrTokenExpired) {
				return nil, authn.Errorf("token expired")
			}
			return nil, authn.Errorf("invalid token")
		}

		// Subject was checked to be a UUID during verification
		userID, err := uuid.Parse(claims.Subject)
		if err != nil {
			return nil, authn.Errorf("invalid token")
		}

		return &Principal{UserID: userID, Role: claims.Role}, nil
	}
}

// PrincipalFromContext returns the principal set by the authn middleware.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := authn.GetInfo(ctx).(*Principal)
	return p, ok && p != nil
}
