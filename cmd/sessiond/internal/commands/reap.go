package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wolfeidau/sessiond/internal/logger"
	"github.com/wolfeidau/sessiond/internal/session"
)

// ReapCmd runs one sweep, for deployments that schedule cleanup externally.
type ReapCmd struct {
	Timeout time.Duration `help:"upper bound on the sweep" default:"5m" env:"SESSIOND_REAP_TIMEOUT"`
	Store   StoreFlags    `embed:""`
}

func (c *ReapCmd) Validate() error {
	if c.Store.SessionStore == "memory" {
		return errors.New("reap needs a shared session store (--session-store postgres or redis)")
	}
	return nil
}

func (c *ReapCmd) Run(ctx context.Context, globals *Globals) error {
	log := logger.Setup(globals.Debug)

	if err := c.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	st, err := openStores(ctx, log, &c.Store)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close stores")
		}
	}()

	// Interval is unused for a single sweep.
	reaper := session.NewReaper(st.sessions, session.DefaultReapInterval)

	deleted, err := reaper.Sweep(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("failed to delete expired sessions: %w", err)
	}

	log.Info().Int("deleted", deleted).Msg("Expired sessions deleted")
	return nil
}
