package faults

import (
	"context"
	"math"
	"time"
)

// RetryConfig defines the retry behavior used by Execute.
type RetryConfig struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	BackoffMultiple float64
}

// DefaultRetryConfig provides sensible defaults.
var DefaultRetryConfig = RetryConfig{
	MaxAttempts:     3,
	InitialDelay:    200 * time.Millisecond,
	MaxDelay:        10 * time.Second,
	BackoffMultiple: 2.0,
}

// Execute wraps op with the full protection chain: breaker pre-check, retry
// with exponential backoff, classification of the terminal failure and a
// breaker state update. Failures are recorded under the kind the terminal
// error classifies to, so the pre-check consults every breaker under the
// label rather than guessing a single kind.
func (c *Classifier) Execute(ctx context.Context, label string, cfg RetryConfig, op func(context.Context) error) error {
	if cfg.MaxAttempts <= 0 {
		cfg = DefaultRetryConfig
	}

	if err := c.breakers.AllowContext(label); err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		err := op(ctx)
		if err == nil {
			c.breakers.RecordSuccessContext(label)
			return nil
		}
		lastErr = err

		if !KindOf(err).Retryable() || attempt == cfg.MaxAttempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return c.Classify(ctx.Err(), label)
		case <-time.After(backoffDelay(attempt, cfg)):
		}
	}

	return c.Classify(lastErr, label)
}

func backoffDelay(attempt int, cfg RetryConfig) time.Duration {
	delay := float64(cfg.InitialDelay) * math.Pow(cfg.BackoffMultiple, float64(attempt))
	if delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	return time.Duration(delay)
}
