package transfer

import (
	"context"
	"time"

	"github.com/Trivi1234567/vapi-transfer-server-render/internal/metrics"
	"github.com/Trivi1234567/vapi-transfer-server-render/internal/registry"
	"github.com/rs/zerolog"
)

// Sweeper periodically evicts expired intents and forgets finished sessions
type Sweeper struct {
	mgr       *Manager
	store     registry.Store
	interval  time.Duration
	retention time.Duration
	logger    zerolog.Logger
}

// NewSweeper creates a new Sweeper
func NewSweeper(mgr *Manager, store registry.Store, interval, retention time.Duration, logger zerolog.Logger) *Sweeper {
	return &Sweeper{
		mgr:       mgr,
		store:     store,
		interval:  interval,
		retention: retention,
		logger:    logger.With().Str("component", "sweeper").Logger(),
	}
}

// Start runs the sweep loop until the context is cancelled
func (sw *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	sw.logger.Info().Dur("interval", sw.interval).Msg("sweeper started")

	for {
		select {
		case <-ctx.Done():
			sw.logger.Info().Msg("sweeper stopped")
			return
		case <-ticker.C:
			sw.tick(ctx, time.Now())
		}
	}
}

// tick performs a single sweep pass
func (sw *Sweeper) tick(ctx context.Context, now time.Time) {
	expired, err := sw.store.Sweep(ctx, now)
	if err != nil {
		sw.logger.Error().Err(err).Msg("failed to sweep pending intents")
	} else if expired > 0 {
		metrics.Get().RecordIntentsExpired(expired)
		sw.logger.Info().Int("expired", expired).Msg("evicted unclaimed transfer intents")
	}

	if pruned := sw.mgr.PruneSessions(now, sw.retention); pruned > 0 {
		sw.logger.Debug().Int("pruned", pruned).Msg("pruned finished sessions")
	}
}
