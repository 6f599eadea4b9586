package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/emberline/emberline/internal/database"
	"github.com/emberline/emberline/internal/events"
	"github.com/emberline/emberline/internal/metrics"
	"github.com/emberline/emberline/internal/services"
)

// Gatekeeper confirms a verified alert and notifies its recipients
type Gatekeeper interface {
	ConfirmAndNotify(ctx context.Context, id string) (services.GatekeeperResult, error)
}

// SchedulerConfig tunes the gatekeeper schedule
type SchedulerConfig struct {
	// Delay between alert creation and the first gatekeeper run.
	Delay time.Duration
	// Backoff before the first retry; doubled after every retryable result.
	Backoff    time.Duration
	MaxBackoff time.Duration
	// MaxAttempts caps runs per alert. Zero means no cap.
	MaxAttempts int
	// RunTimeout bounds one gatekeeper run.
	RunTimeout time.Duration
}

// DefaultSchedulerConfig returns the schedule for the given verification delay
func DefaultSchedulerConfig(delay time.Duration) SchedulerConfig {
	return SchedulerConfig{
		Delay:       delay,
		Backoff:     5 * time.Second,
		MaxBackoff:  time.Minute,
		MaxAttempts: 8,
		RunTimeout:  time.Minute,
	}
}

// GatekeeperScheduler runs the gatekeeper server-side for every new alert.
// It listens for alert creation events and retries with exponential backoff
// while the gatekeeper asks for it, stopping on any terminal result.
type GatekeeperScheduler struct {
	gk     Gatekeeper
	cfg    SchedulerConfig
	logger zerolog.Logger

	mu      sync.Mutex
	timers  map[string]scheduledRun
	gen     uint64
	stopped bool
	wg      sync.WaitGroup
}

// scheduledRun is the pending timer for one alert. gen identifies which
// schedule call armed it.
type scheduledRun struct {
	timer *time.Timer
	gen   uint64
}

// NewGatekeeperScheduler creates a scheduler
func NewGatekeeperScheduler(gk Gatekeeper, cfg SchedulerConfig) *GatekeeperScheduler {
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Second
	}
	if cfg.MaxBackoff < cfg.Backoff {
		cfg.MaxBackoff = cfg.Backoff
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = time.Minute
	}
	return &GatekeeperScheduler{
		gk:     gk,
		cfg:    cfg,
		logger: log.With().Str("component", "gatekeeper_scheduler").Logger(),
		timers: make(map[string]scheduledRun),
	}
}

// Publish implements events.Publisher. New alerts are scheduled; alerts that
// are deleted or cancelled have their pending run dropped.
func (s *GatekeeperScheduler) Publish(_ context.Context, ev events.AlertEvent) error {
	switch {
	case ev.Deleted || ev.Status == database.AlertStatusCancelled:
		s.Unschedule(ev.AlertID)
	case ev.From == "" && ev.Status == database.AlertStatusPending:
		s.Schedule(ev.AlertID, s.cfg.Delay)
	}
	return nil
}

// Schedule runs the gatekeeper for id after the given delay. Scheduling an
// alert that already has a pending run replaces it.
func (s *GatekeeperScheduler) Schedule(id string, after time.Duration) {
	s.schedule(id, after, 1, s.cfg.Backoff)
}

func (s *GatekeeperScheduler) schedule(id string, after time.Duration, attempt int, backoff time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if r, ok := s.timers[id]; ok {
		r.timer.Stop()
	}
	s.gen++
	gen := s.gen
	s.timers[id] = scheduledRun{
		gen: gen,
		timer: time.AfterFunc(after, func() {
			s.run(id, gen, attempt, backoff)
		}),
	}
}

// Unschedule drops the pending run for id, if any
func (s *GatekeeperScheduler) Unschedule(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.timers[id]; ok {
		r.timer.Stop()
		delete(s.timers, id)
	}
}

// Pending returns the number of alerts waiting for a run
func (s *GatekeeperScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

func (s *GatekeeperScheduler) run(id string, gen uint64, attempt int, backoff time.Duration) {
	s.mu.Lock()
	if r, ok := s.timers[id]; s.stopped || !ok || r.gen != gen {
		// Replaced or dropped after this timer had already fired
		s.mu.Unlock()
		return
	}
	delete(s.timers, id)
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.RunTimeout)
	defer cancel()

	result, err := s.gk.ConfirmAndNotify(ctx, id)
	logger := s.logger.With().Str("alert_id", id).Int("attempt", attempt).Logger()
	if err != nil {
		// Store errors are transient; treat them like a retryable result.
		logger.Warn().Err(err).Msg("Gatekeeper run failed")
		result = services.GatekeeperResult{Status: "error", Retry: true}
	}
	metrics.GatekeeperRuns.WithLabelValues(string(result.Status)).Inc()

	if result.Terminal() {
		logger.Info().Str("status", string(result.Status)).Msg("Gatekeeper finished")
		return
	}
	if s.cfg.MaxAttempts > 0 && attempt >= s.cfg.MaxAttempts {
		logger.Warn().Str("status", string(result.Status)).Msg("Gatekeeper gave up; alert left for cleanup")
		return
	}

	logger.Debug().Str("status", string(result.Status)).Dur("backoff", backoff).Msg("Gatekeeper will retry")
	next := backoff * 2
	if next > s.cfg.MaxBackoff {
		next = s.cfg.MaxBackoff
	}
	s.schedule(id, backoff, attempt+1, next)
}

// Stop cancels every pending run and waits for in-flight runs to finish
func (s *GatekeeperScheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	for id, r := range s.timers {
		r.timer.Stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()
	s.wg.Wait()
}
