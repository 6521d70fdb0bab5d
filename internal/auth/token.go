package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/mr-tron/base58"
	"github.com/wolfeidau/sessiond/internal/models"
)

const (
	// MinSecretLength is the minimum length in bytes of each HMAC secret.
	MinSecretLength = 32

	DefaultAccessTTL  = time.Hour
	DefaultRefreshTTL = 7 * 24 * time.Hour
	DefaultIssuer     = "sessiond"

	tokenIDBytes = 16
)

var (
	ErrTokenInvalid = errors.New("token invalid")
	ErrTokenExpired = errors.New("token expired")

	ErrWeakSecret   = errors.New("token secret too short")
	ErrSharedSecret = errors.New("access and refresh secrets must differ")
)

// AccessClaims are carried by access tokens.
type AccessClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// RefreshClaims are carried by refresh tokens. TokenID makes every refresh
// token unique even when two are issued for the same user in the same second.
type RefreshClaims struct {
	jwt.RegisteredClaims
	TokenID string `json:"tid"`
}

// TokenPair is the result of a successful login.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	// ExpiresIn is the access token lifetime in seconds.
	ExpiresIn int64
	// RefreshExpiresAt matches the exp claim of RefreshToken.
	RefreshExpiresAt time.Time
}

// TokenConfig configures a TokenIssuer.
type TokenConfig struct {
	AccessSecret  []byte
	RefreshSecret []byte
	Issuer        string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration

	// Now overrides the clock, mainly for tests.
	Now func() time.Time
}

// ApplyDefaults applies default values to unset configuration fields.
func (c *TokenConfig) ApplyDefaults() {
	if c.Issuer == "" {
		c.Issuer = DefaultIssuer
	}
	if c.AccessTTL <= 0 {
		c.AccessTTL = DefaultAccessTTL
	}
	if c.RefreshTTL <= 0 {
		c.RefreshTTL = DefaultRefreshTTL
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Validate checks both secrets are long enough and not the same key.
func (c *TokenConfig) Validate() error {
	if len(c.AccessSecret) < MinSecretLength {
		return fmt.Errorf("access secret: %w (minimum %d bytes)", ErrWeakSecret, MinSecretLength)
	}
	if len(c.RefreshSecret) < MinSecretLength {
		return fmt.Errorf("refresh secret: %w (minimum %d bytes)", ErrWeakSecret, MinSecretLength)
	}
	if hmac.Equal(c.AccessSecret, c.RefreshSecret) {
		return ErrSharedSecret
	}
	return nil
}

// TokenIssuer mints and verifies HS256 access and refresh tokens. It performs
// no I/O and is safe for concurrent use.
type TokenIssuer struct {
	cfg TokenConfig
}

// NewTokenIssuer validates cfg and returns an issuer.
func NewTokenIssuer(cfg TokenConfig) (*TokenIssuer, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &TokenIssuer{cfg: cfg}, nil
}

// AccessTTL returns the configured access token lifetime.
func (i *TokenIssuer) AccessTTL() time.Duration { return i.cfg.AccessTTL }

// RefreshTTL returns the configured refresh token lifetime.
func (i *TokenIssuer) RefreshTTL() time.Duration { return i.cfg.RefreshTTL }

// IssueTokens mints a fresh access and refresh token pair for user.
func (i *TokenIssuer) IssueTokens(user *models.User) (*TokenPair, error) {
	now := i.now()

	accessToken, err := i.signAccess(user, now)
	if err != nil {
		return nil, err
	}

	refreshExpiresAt := now.Add(i.cfg.RefreshTTL)
	refreshToken, err := i.signRefresh(user.UserID, now, refreshExpiresAt)
	if err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		ExpiresIn:        i.expiresIn(),
		RefreshExpiresAt: refreshExpiresAt,
	}, nil
}

// IssueAccessToken mints only an access token and returns it with its lifetime in seconds.
func (i *TokenIssuer) IssueAccessToken(user *models.User) (string, int64, error) {
	token, err := i.signAccess(user, i.now())
	if err != nil {
		return "", 0, err
	}
	return token, i.expiresIn(), nil
}

// VerifyRefreshToken checks signature, algorithm, issuer and expiry of a
// refresh token. It returns ErrTokenExpired only for a correctly signed token
// whose exp has passed; every other failure is ErrTokenInvalid.
func (i *TokenIssuer) VerifyRefreshToken(token string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := i.parse(token, claims, i.cfg.RefreshSecret); err != nil {
		return nil, err
	}
	if claims.TokenID == "" {
		return nil, fmt.Errorf("%w: missing tid", ErrTokenInvalid)
	}
	return claims, nil
}

// VerifyAccessToken is the access token counterpart of VerifyRefreshToken.
func (i *TokenIssuer) VerifyAccessToken(token string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := i.parse(token, claims, i.cfg.AccessSecret); err != nil {
		return nil, err
	}
	return claims, nil
}

func (i *TokenIssuer) parse(token string, claims jwt.Claims, secret []byte) error {
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.cfg.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.cfg.Now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrTokenExpired
		}
		return fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}
	if !parsed.Valid {
		return ErrTokenInvalid
	}

	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}
	if _, err := uuid.Parse(subject); err != nil {
		return fmt.Errorf("%w: subject is not a user id", ErrTokenInvalid)
	}

	return nil
}

func (i *TokenIssuer) signAccess(user *models.User, now time.Time) (string, error) {
	claims := &AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.UserID.String(),
			Issuer:    i.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.cfg.AccessTTL)),
		},
		Role: user.Role,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.cfg.AccessSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, nil
}

func (i *TokenIssuer) signRefresh(userID uuid.UUID, now, expiresAt time.Time) (string, error) {
	tokenID, err := newTokenID()
	if err != nil {
		return "", err
	}

	jti, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("failed to generate jti: %w", err)
	}

	claims := &RefreshClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti.String(),
			Subject:   userID.String(),
			Issuer:    i.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		TokenID: tokenID,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.cfg.RefreshSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign refresh token: %w", err)
	}
	return signed, nil
}

// now is truncated to the JWT NumericDate precision so computed expiry
// instants equal the ones encoded in the token.
func (i *TokenIssuer) now() time.Time {
	return i.cfg.Now().Truncate(jwt.TimePrecision)
}

func (i *TokenIssuer) expiresIn() int64 {
	return int64(i.cfg.AccessTTL / time.Second)
}

func newTokenID() (string, error) {
	b := make([]byte, tokenIDBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token id: %w", err)
	}
	return base58.Encode(b), nil
}
