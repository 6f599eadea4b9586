package verification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/emberline/emberline/internal/database"
	"github.com/emberline/emberline/internal/metrics"
	"github.com/emberline/emberline/internal/ratelimit"
)

// Options configures a Gateway
type Options struct {
	// Enabled false skips the oracle and returns the policy verdict.
	Enabled        bool
	Policy         database.FailurePolicy
	Models         []string
	Credentials    []string
	AttemptTimeout time.Duration
	Prompt         string
	// Limiter throttles attempts per credential; nil disables throttling.
	Limiter *ratelimit.KeyedLimiter
}

// Gateway verifies snapshots against the oracle matrix. It never fails:
// every path ends in a verdict.
type Gateway struct {
	oracle  Oracle
	fetcher ImageFetcher
	opts    Options
	pairs   []Pair
	rotator *Rotator
	logger  zerolog.Logger
}

// NewGateway creates a gateway over the (model, credential) matrix in opts
func NewGateway(oracle Oracle, fetcher ImageFetcher, opts Options) *Gateway {
	if opts.Prompt == "" {
		opts.Prompt = DefaultPrompt
	}
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = 20 * time.Second
	}
	if !opts.Policy.IsValid() {
		opts.Policy = database.FailurePolicyOpen
	}
	return &Gateway{
		oracle:  oracle,
		fetcher: fetcher,
		opts:    opts,
		pairs:   BuildMatrix(opts.Models, opts.Credentials),
		rotator: &Rotator{},
		logger:  log.With().Str("component", "verification").Logger(),
	}
}

// Pairs returns the size of the fallback matrix
func (g *Gateway) Pairs() int {
	return len(g.pairs)
}

// Verify returns the verdict for the snapshot at imageRef
func (g *Gateway) Verify(ctx context.Context, imageRef string) database.Verdict {
	start := time.Now()
	defer func() {
		metrics.VerificationDuration.Observe(time.Since(start).Seconds())
	}()

	if !g.opts.Enabled || len(g.pairs) == 0 {
		g.logger.Warn().Bool("enabled", g.opts.Enabled).Int("pairs", len(g.pairs)).
			Msg("Verification unavailable, applying failure policy")
		return g.policyVerdict("verification disabled")
	}

	img, err := g.fetcher.Fetch(ctx, imageRef)
	if err != nil {
		g.logger.Error().Err(err).Str("image", imageRef).Msg("Failed to fetch snapshot")
		return g.policyVerdict(fmt.Sprintf("image fetch failed: %v", err))
	}

	offset := g.rotator.Start(len(g.pairs))
	var lastErr error

	for i := 0; i < len(g.pairs); i++ {
		if ctx.Err() != nil {
			lastErr = ctx.Err()
			break
		}
		pair := g.pairs[(offset+i)%len(g.pairs)]

		text, err := g.attempt(ctx, pair, img)
		if err != nil {
			lastErr = err
			outcome := attemptOutcome(err)
			metrics.VerificationAttempts.WithLabelValues(pair.Model, outcome).Inc()
			g.logger.Warn().Err(err).Str("model", pair.Model).Str("outcome", outcome).
				Msg("Oracle attempt failed, trying next pair")
			continue
		}

		metrics.VerificationAttempts.WithLabelValues(pair.Model, "ok").Inc()
		verdict := ParseVerdict(text)
		verdict.Model = pair.Model
		g.logger.Info().Str("model", pair.Model).Bool("is_fire", verdict.IsFire).
			Float64("score", verdict.Score).Msg("Verification complete")
		return verdict
	}

	g.logger.Error().Err(lastErr).Int("pairs", len(g.pairs)).Msg("All oracle pairs exhausted")
	reason := "all oracle attempts failed"
	if lastErr != nil {
		reason = fmt.Sprintf("%s: %v", reason, lastErr)
	}
	return g.policyVerdict(reason)
}

func (g *Gateway) attempt(ctx context.Context, pair Pair, img Image) (string, error) {
	if g.opts.Limiter != nil {
		if err := g.opts.Limiter.Wait(ctx, pair.Credential); err != nil {
			return "", fmt.Errorf("throttled: %w", err)
		}
	}

	attemptCtx, cancel := context.WithTimeout(ctx, g.opts.AttemptTimeout)
	defer cancel()

	return g.oracle.Generate(attemptCtx, pair.Model, pair.Credential, g.opts.Prompt, img)
}

// policyVerdict is the verdict used whenever the oracle cannot answer.
func (g *Gateway) policyVerdict(cause string) database.Verdict {
	if g.opts.Policy == database.FailurePolicyClosed {
		return database.Verdict{
			IsFire:          false,
			Score:           0,
			Reason:          "Unverified, treated as false alarm: " + cause,
			Action:          "ignore",
			SensitiveReason: "Not analyzed",
			Defaulted:       true,
		}
	}
	return database.Verdict{
		IsFire:          true,
		Score:           0.95,
		Reason:          "Unverified, treated as fire: " + cause,
		Action:          "trigger_alert",
		SensitiveReason: "Not analyzed",
		Defaulted:       true,
	}
}

func attemptOutcome(err error) string {
	var statusErr *StatusError
	switch {
	case errors.Is(err, ErrQuotaExceeded):
		return "quota"
	case errors.Is(err, ErrModelNotFound):
		return "not_found"
	case errors.Is(err, ErrEmptyResponse):
		return "empty"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.As(err, &statusErr):
		return "status"
	default:
		return "error"
	}
}
