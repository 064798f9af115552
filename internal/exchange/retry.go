package exchange

import (
	"context"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/obs"
	"main/pkg/exception"
)

// RetryConfig bounds the retry loop around one exchange call.
type RetryConfig struct {
	// Delay between attempts after a transient failure.
	Delay time.Duration
	// MaxAttempts caps the total attempts; 0 means retry until the
	// context is canceled. Idempotent reads run unbounded, submissions
	// bounded.
	MaxAttempts int

	Metrics *obs.Metrics
}

// DefaultReadRetry retries idempotent queries until canceled.
func DefaultReadRetry(metrics *obs.Metrics) RetryConfig {
	return RetryConfig{Delay: 2 * time.Second, Metrics: metrics}
}

// DefaultSubmitRetry bounds submission attempts before abandonment.
func DefaultSubmitRetry(metrics *obs.Metrics) RetryConfig {
	return RetryConfig{Delay: 2 * time.Second, MaxAttempts: 3, Metrics: metrics}
}

// Retry runs fn with an explicit attempt loop. Transient errors wait out
// the configured delay; auth errors trigger a credential reload on the
// client when it supports one. Any other error returns immediately.
func Retry(ctx context.Context, cfg RetryConfig, client Client, op Operation, fn func() error) error {
	if cfg.Delay <= 0 {
		cfg.Delay = 2 * time.Second
	}

	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		switch {
		case exception.IsAuth(err):
			reloader, ok := client.(CredentialReloader)
			if !ok {
				return errors.Wrapf(err, "%s auth failed, no credential reloader", op)
			}
			if rerr := reloader.ReloadCredentials(); rerr != nil {
				return errors.Wrapf(rerr, "%s credential reload failed", op)
			}
			logs.Warnf("%s auth failed, credentials reloaded, retrying", op)
		case exception.IsTransient(err):
			logs.Warnf("%s transient failure (attempt %d): %v", op, attempt, err)
		default:
			return err
		}

		if cfg.MaxAttempts > 0 && attempt >= cfg.MaxAttempts {
			return errors.Wrapf(exception.ErrExchangeRetryExhausted, "%s failed after %d attempts, last: %v", op, attempt, err)
		}
		cfg.Metrics.IncRetry()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(cfg.Delay):
		}
	}
}
