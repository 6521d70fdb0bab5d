package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/sessiond/internal/store"
	"github.com/wolfeidau/sessiond/internal/telemetry"
)

// DefaultReapInterval is used when NewReaper is given a non-positive interval.
const DefaultReapInterval = 15 * time.Minute

// Reaper periodically deletes sessions past their expiry. Revoked sessions are
// kept until they expire.
type Reaper struct {
	sessions store.SessionStore
	interval time.Duration
	now      func() time.Time
	metrics  *telemetry.Metrics

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewReaper creates a reaper that sweeps every interval once started.
func NewReaper(sessions store.SessionStore, interval time.Duration) *Reaper {
	if interval <= 0 {
		interval = DefaultReapInterval
	}
	return &Reaper{
		sessions: sessions,
		interval: interval,
		now:      time.Now,
		metrics:  telemetry.GetMetrics(),
	}
}

// Start launches the background sweep loop. The loop stops when ctx is
// cancelled or Stop is called. Calling Start on a running reaper is a no-op.
func (r *Reaper) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancel != nil {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	r.wg.Add(1)
	go r.loop(loopCtx)

	log.Info().Dur("interval", r.interval).Msg("Session reaper started")
}

// Stop cancels the loop and waits for an in-flight sweep to return.
func (r *Reaper) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	r.wg.Wait()
}

// Sweep deletes every session with an expiry before now and returns the count.
func (r *Reaper) Sweep(ctx context.Context, now time.Time) (int, error) {
	started := time.Now()

	deleted, err := r.sessions.DeleteExpiredBefore(ctx, now)
	r.metrics.ReapDuration.Record(ctx, float64(time.Since(started).Milliseconds()))
	if err != nil {
		return deleted, wrapStoreError("reap expired sessions", err)
	}

	r.metrics.SessionsReapedTotal.Add(ctx, int64(deleted))
	return deleted, nil
}

func (r *Reaper) loop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Session reaper stopped")
			return

		case <-ticker.C:
			deleted, err := r.Sweep(ctx, r.now())
			switch {
			case err != nil && errors.Is(err, context.Canceled):
				log.Debug().Err(err).Msg("Reaper sweep interrupted by shutdown")
			case err != nil:
				log.Error().Err(err).Msg("Reaper sweep failed")
			case deleted > 0:
				log.Info().Int("deleted", deleted).Msg("Reaped expired sessions")
			default:
				log.Debug().Msg("Reaper sweep found no expired sessions")
			}
		}
	}
}
