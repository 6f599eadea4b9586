package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/emberline/emberline/internal/services"
)

// OldAlertStore deletes alerts that never reached notification
type OldAlertStore interface {
	CleanupOld(ctx context.Context, dryRun bool) (services.CleanupReport, error)
}

// StaleAlertSweeper periodically removes pending, confirmed, rejected and
// cancelled alerts older than the configured age.
type StaleAlertSweeper struct {
	store  OldAlertStore
	logger zerolog.Logger
}

// NewStaleAlertSweeper creates a new sweeper
func NewStaleAlertSweeper(store OldAlertStore) *StaleAlertSweeper {
	return &StaleAlertSweeper{
		store:  store,
		logger: log.With().Str("component", "stale_alert_sweeper").Logger(),
	}
}

// Sweep runs one cleanup pass
func (s *StaleAlertSweeper) Sweep(ctx context.Context) (int, error) {
	report, err := s.store.CleanupOld(ctx, false)
	if err != nil {
		return 0, err
	}
	return report.Count, nil
}

// Start begins the periodic sweep
func (s *StaleAlertSweeper) Start(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			deleted, err := s.Sweep(ctx)
			cancel()
			if err != nil {
				s.logger.Error().Err(err).Msg("Stale alert sweep failed")
			} else if deleted > 0 {
				s.logger.Info().Int("deleted", deleted).Msg("Deleted old alerts")
			}
		case <-stop:
			s.logger.Info().Msg("Stale alert sweeper stopped")
			return
		}
	}
}
