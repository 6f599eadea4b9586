package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/emberline/emberline/internal/services"
)

// CooldownStore deletes alerts whose cooldown window has passed
type CooldownStore interface {
	ReapExpiredCooldowns(ctx context.Context) (services.CleanupReport, error)
}

// CooldownReaper deletes alerts whose owner never polled again, so the lazy
// expiry in the spam guard never ran for them.
type CooldownReaper struct {
	store  CooldownStore
	logger zerolog.Logger
}

// NewCooldownReaper creates a new cooldown reaper
func NewCooldownReaper(store CooldownStore) *CooldownReaper {
	return &CooldownReaper{
		store:  store,
		logger: log.With().Str("component", "cooldown_reaper").Logger(),
	}
}

// Sweep deletes every alert with an expired cooldown and returns how many
// were removed. Running it on an empty set is a no-op.
func (r *CooldownReaper) Sweep(ctx context.Context) (int, error) {
	report, err := r.store.ReapExpiredCooldowns(ctx)
	if err != nil {
		return 0, err
	}
	return report.Count, nil
}

// Start begins the periodic sweep
func (r *CooldownReaper) Start(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			reaped, err := r.Sweep(ctx)
			cancel()
			if err != nil {
				r.logger.Error().Err(err).Msg("Cooldown sweep failed")
			} else if reaped > 0 {
				r.logger.Info().Int("reaped", reaped).Msg("Deleted alerts with expired cooldown")
			}
		case <-stop:
			r.logger.Info().Msg("Cooldown reaper stopped")
			return
		}
	}
}
