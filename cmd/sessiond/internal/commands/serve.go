package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wolfeidau/sessiond/internal/auth"
	"github.com/wolfeidau/sessiond/internal/logger"
	"github.com/wolfeidau/sessiond/internal/server"
	"github.com/wolfeidau/sessiond/internal/session"
	"github.com/wolfeidau/sessiond/internal/telemetry"
)

type ServeCmd struct {
	// Server configuration
	Listen          string        `help:"HTTP server listen address" default:"0.0.0.0:8080" env:"SESSIOND_LISTEN"`
	Cert            string        `help:"path to TLS cert file, enables HTTPS together with --key" default:"" env:"SESSIOND_TLS_CERT"`
	Key             string        `help:"path to TLS key file" default:"" env:"SESSIOND_TLS_KEY"`
	ShutdownTimeout time.Duration `help:"grace period for in-flight requests on shutdown" default:"15s" env:"SESSIOND_SHUTDOWN_TIMEOUT"`

	// HTTP transport configuration
	CORSOrigins []string      `help:"allowed CORS origins for browser clients" env:"SESSIOND_CORS_ORIGINS"`
	TrustProxy  bool          `help:"read the client IP from X-Forwarded-For and X-Real-IP" default:"false" env:"SESSIOND_TRUST_PROXY"`
	RetryAfter  time.Duration `help:"Retry-After advertised when the store is unavailable" default:"2s" env:"SESSIOND_RETRY_AFTER"`

	// Session lifecycle
	BcryptCost   int           `help:"bcrypt cost used for the timing dummy hash" default:"12" env:"SESSIOND_BCRYPT_COST"`
	ReapInterval time.Duration `help:"interval between expired session sweeps, 0 disables the reaper" default:"15m" env:"SESSIOND_REAP_INTERVAL"`

	// Telemetry
	Tracing     bool    `help:"enable tracing and metrics export" default:"false" env:"SESSIOND_TRACING"`
	SampleRatio float64 `help:"fraction of root spans sampled when tracing" default:"1" env:"SESSIOND_TRACE_SAMPLE_RATIO"`

	Tokens TokenFlags `embed:"" prefix:"token-"`
	Store  StoreFlags `embed:""`
}

type TokenFlags struct {
	AccessSecret  string        `help:"HMAC secret for access tokens (at least 32 bytes)" env:"SESSIOND_ACCESS_TOKEN_SECRET"`
	RefreshSecret string        `help:"HMAC secret for refresh tokens (at least 32 bytes, distinct from the access secret)" env:"SESSIOND_REFRESH_TOKEN_SECRET"`
	Issuer        string        `help:"issuer claim of minted tokens" default:"sessiond" env:"SESSIOND_TOKEN_ISSUER"`
	AccessTTL     time.Duration `help:"access token lifetime" default:"1h" env:"SESSIOND_ACCESS_TOKEN_TTL"`
	RefreshTTL    time.Duration `help:"refresh token and session lifetime" default:"168h" env:"SESSIOND_REFRESH_TOKEN_TTL"`
}

func (t *TokenFlags) Validate() error {
	if t.AccessSecret == "" {
		return errors.New("access token secret is required (--token-access-secret or SESSIOND_ACCESS_TOKEN_SECRET)")
	}
	if t.RefreshSecret == "" {
		return errors.New("refresh token secret is required (--token-refresh-secret or SESSIOND_REFRESH_TOKEN_SECRET)")
	}
	cfg := t.config()
	return cfg.Validate()
}

func (t *TokenFlags) config() auth.TokenConfig {
	cfg := auth.TokenConfig{
		AccessSecret:  []byte(t.AccessSecret),
		RefreshSecret: []byte(t.RefreshSecret),
		Issuer:        t.Issuer,
		AccessTTL:     t.AccessTTL,
		RefreshTTL:    t.RefreshTTL,
	}
	cfg.ApplyDefaults()
	return cfg
}

func (c *ServeCmd) Validate() error {
	if (c.Cert == "") != (c.Key == "") {
		return errors.New("TLS requires both --cert and --key")
	}
	if c.ReapInterval < 0 {
		return errors.New("reap interval must not be negative")
	}
	return nil
}

func (c *ServeCmd) Run(globals *Globals) error {
	log := logger.Setup(globals.Debug)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Str("version", globals.Version).Bool("debug", globals.Debug).Msg("Starting sessiond")

	if c.Tracing {
		log.Info().Float64("sample_ratio", c.SampleRatio).Msg("Tracing is enabled")
		shutdown, err := telemetry.InitTelemetry(ctx, telemetry.Config{
			ServiceName: "sessiond",
			Version:     globals.Version,
			SampleRatio: c.SampleRatio,
		})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize telemetry, continuing without metrics")
			shutdown = func(ctx context.Context) error { return nil }
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("Failed to shutdown telemetry")
			}
		}()
	}

	st, err := openStores(ctx, log, &c.Store)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close stores")
		}
	}()

	issuer, err := auth.NewTokenIssuer(c.Tokens.config())
	if err != nil {
		return fmt.Errorf("failed to create token issuer: %w", err)
	}

	validator, err := auth.NewCredentialValidator(st.users, auth.NewHasher(c.BcryptCost))
	if err != nil {
		return fmt.Errorf("failed to create credential validator: %w", err)
	}

	svc, err := session.NewService(session.Config{
		Sessions:    st.sessions,
		Users:       st.users,
		Tokens:      issuer,
		Credentials: validator,
	})
	if err != nil {
		return fmt.Errorf("failed to create session service: %w", err)
	}

	if c.ReapInterval > 0 {
		reaper := session.NewReaper(st.sessions, c.ReapInterval)
		reaper.Start(ctx)
		defer reaper.Stop()
	}

	srv, err := server.NewServer(svc, issuer, server.Config{
		AllowedOrigins: c.CORSOrigins,
		TrustProxy:     c.TrustProxy,
		RetryAfter:     c.RetryAfter,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	httpServer := configureHTTPServer(c.Listen, srv.Handler(log))

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", c.Listen).Bool("tls", c.Cert != "").Msg("Starting HTTP server")
		if c.Cert != "" {
			errCh <- httpServer.ListenAndServeTLS(c.Cert, c.Key)
			return
		}
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Dur("timeout", c.ShutdownTimeout).Msg("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), c.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown http server: %w", err)
	}

	return nil
}
