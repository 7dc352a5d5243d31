package scraper

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/MikeyMike1984/amazon-seller-by-asin/config"
	"github.com/MikeyMike1984/amazon-seller-by-asin/models"
)

const maxBackoff = time.Duration(math.MaxInt64)

// FetchFunc performs one attempt for asin.
type FetchFunc func(ctx context.Context, asin string) models.FetchOutcome

// Retrier re-runs a FetchFunc with exponential backoff and applies the
// configured failure policy once attempts run out.
type Retrier struct {
	maxAttempts int
	base        time.Duration
	min         time.Duration
	max         time.Duration
	policy      string
	metrics     *Metrics
}

// NewRetrier builds a Retrier from cfg.
func NewRetrier(cfg *config.Config, metrics *Metrics) *Retrier {
	return &Retrier{
		maxAttempts: cfg.MaxAttempts,
		base:        cfg.RetryBackoff,
		min:         cfg.RetryBackoffMin,
		max:         cfg.RetryBackoffMax,
		policy:      cfg.FailurePolicy,
		metrics:     metrics,
	}
}

// Run calls fetch until it succeeds, the attempts are used up, or ctx ends.
// Attempts are strictly sequential.
func (r *Retrier) Run(ctx context.Context, asin string, fetch FetchFunc) models.FetchOutcome {
	attempts := r.maxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var last models.FetchOutcome
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			delay := r.Backoff(attempt)
			r.metrics.IncRetries()
			slog.Debug("retrying asin",
				slog.String("asin", asin),
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
			)
			if err := sleepContext(ctx, delay); err != nil {
				last = models.Failure(asin, models.KindCanceled, err)
				last.Attempts = attempt - 1
				break
			}
		}

		outcome := fetch(ctx, asin)
		outcome.Attempts = attempt
		if outcome.OK() {
			return outcome
		}
		last = outcome
		if last.Kind == models.KindCanceled {
			break
		}
	}

	return r.Exhaust(last)
}

// Backoff returns the delay before attempt n (n >= 2):
// clamp(base * 2^(n-1), min, max).
func (r *Retrier) Backoff(attempt int) time.Duration {
	if attempt < 2 {
		return 0
	}

	base := r.base
	if base <= 0 {
		base = time.Second
	}

	// Saturate instead of letting the shift wrap.
	shift := attempt - 1
	delay := maxBackoff
	if shift < 63 && base <= maxBackoff>>shift {
		delay = base << shift
	}
	if delay < r.min {
		delay = r.min
	}
	if r.max > 0 && delay > r.max {
		delay = r.max
	}
	return delay
}

// Exhaust applies the failure policy to an ASIN that will not be retried
// again. Under FailurePolicyEmpty the outcome becomes a success with no
// records while keeping the cause for reporting.
func (r *Retrier) Exhaust(outcome models.FetchOutcome) models.FetchOutcome {
	r.metrics.IncExhausted()
	slog.Error("asin failed after retries",
		slog.String("asin", outcome.ASIN),
		slog.Int("attempts", outcome.Attempts),
		slog.String("kind", outcome.Kind.String()),
		slog.Any("error", outcome.Cause),
	)

	if r.policy == config.FailurePolicyFail {
		return outcome
	}
	return models.FetchOutcome{
		ASIN:     outcome.ASIN,
		Status:   models.OutcomeSuccess,
		Kind:     outcome.Kind,
		Cause:    outcome.Cause,
		Attempts: outcome.Attempts,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	select {
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
