package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"connectrpc.com/authn"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/wolfeidau/sessiond/internal/auth"
	httpmw "github.com/wolfeidau/sessiond/internal/http"
	"github.com/wolfeidau/sessiond/internal/logger"
	"github.com/wolfeidau/sessiond/internal/models"
	"github.com/wolfeidau/sessiond/internal/session"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	defaultMaxBodyBytes   = 64 << 10
	defaultRetryAfter     = 2 * time.Second
	defaultRequestTimeout = 15 * time.Second
)

// SessionService is the inbound session API. Implemented by *session.Service.
type SessionService interface {
	Login(ctx context.Context, email, password string, client models.ClientContext) (*session.LoginResult, error)
	Refresh(ctx context.Context, refreshToken string) (*session.RefreshResult, error)
	Logout(ctx context.Context, refreshToken string) (bool, error)
	LogoutAll(ctx context.Context, userID uuid.UUID) (int, error)
}

// Config controls the HTTP transport.
type Config struct {
	// AllowedOrigins enables CORS for browser clients. Empty disables CORS.
	AllowedOrigins []string
	// TrustProxy reads the client IP from X-Forwarded-For / X-Real-IP.
	TrustProxy bool
	// RetryAfter is advertised on 503 responses.
	RetryAfter time.Duration
	// MaxBodyBytes bounds request bodies.
	MaxBodyBytes int64
	// RequestTimeout bounds each request.
	RequestTimeout time.Duration
}

// ApplyDefaults applies default values to unset configuration fields.
func (c *Config) ApplyDefaults() {
	if c.RetryAfter <= 0 {
		c.RetryAfter = defaultRetryAfter
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = defaultMaxBodyBytes
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
}

// Server exposes SessionService over JSON HTTP.
type Server struct {
	sessions SessionService
	verifier auth.AccessTokenVerifier
	cfg      Config
}

// NewServer creates a new server. verifier authenticates logout-all callers.
func NewServer(sessions SessionService, verifier auth.AccessTokenVerifier, cfg Config) (*Server, error) {
	if sessions == nil {
		return nil, errors.New("session service is required")
	}
	if verifier == nil {
		return nil, errors.New("access token verifier is required")
	}

	cfg.ApplyDefaults()

	return &Server{
		sessions: sessions,
		verifier: verifier,
		cfg:      cfg,
	}, nil
}

// Handler returns the HTTP handler for the server
func (s *Server) Handler(log zerolog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(logger.HTTPRequests(log))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.cfg.RequestTimeout))
	r.Use(httpmw.ClientContextMiddleware(s.cfg.TrustProxy))

	if len(s.cfg.AllowedOrigins) > 0 {
		r.Use(cors.New(cors.Options{
			AllowedOrigins:   s.cfg.AllowedOrigins,
			AllowedMethods:   []string{http.MethodPost, http.MethodOptions},
			AllowedHeaders:   []string{"Authorization", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}).Handler)
	}

	// Health check endpoint for load balancer
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	requireAccessToken := authn.NewMiddleware(auth.NewJWTAuthFunc(s.verifier)).Wrap

	r.Route("/v1/auth", func(r chi.Router) {
		r.Post("/login", s.handleLogin)
		r.Post("/refresh", s.handleRefresh)
		r.Post("/logout", s.handleLogout)
		r.With(requireAccessToken).Post("/logout-all", s.handleLogoutAll)
	})

	return otelhttp.NewHandler(r, "sessiond",
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/health"
		}),
	)
}
