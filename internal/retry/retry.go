// Package retry runs fallible operations with exponential backoff. Delays come
// from an unrandomised backoff.ExponentialBackOff so attempt n waits exactly
// min(BaseDelay*Multiplier^(n-1), MaxDelay).
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-auction-settlement/internal/observability"
	"github.com/tbourn/go-auction-settlement/internal/recovery"
)

// Options configures Do. A zero MaxRetries means a single attempt.
type Options struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64

	// ShouldRetry decides whether err is worth another attempt. Nil means
	// recovery.IsRetryable.
	ShouldRetry func(err error, attempt int) bool
}

// DefaultOptions returns 3 retries, 1s base, 30s cap, doubling.
func DefaultOptions() Options {
	return Options{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   30 * time.Second,
		Multiplier: 2,
	}
}

// sleep waits for d or until ctx is done. Tests replace it.
var sleep = func(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Do runs op up to MaxRetries+1 times and returns nil on the first success.
// It stops early when ShouldRetry refuses or ctx is cancelled, returning the
// last operation error either way.
func Do(ctx context.Context, op func(ctx context.Context) error, opts Options) error {
	_, err := Value(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	}, opts)
	return err
}

// Value is Do for operations that produce a result.
func Value[T any](ctx context.Context, op func(ctx context.Context) (T, error), opts Options) (T, error) {
	opts = withDefaults(opts)
	bo := newBackOff(opts)

	var zero T
	var lastErr error
	for attempt := 1; attempt <= opts.MaxRetries+1; attempt++ {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err

		if attempt > opts.MaxRetries || !opts.ShouldRetry(err, attempt) {
			break
		}

		delay := bo.NextBackOff()
		category := recovery.Categorize(err).Category
		observability.RetryAttempts.WithLabelValues(string(category)).Inc()
		log.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("max_retries", opts.MaxRetries).
			Dur("delay", delay).
			Str("error_category", string(category)).
			Msg("operation failed, retrying")

		if werr := sleep(ctx, delay); werr != nil {
			return zero, errors.Join(werr, lastErr)
		}
	}
	return zero, lastErr
}

// ConfigFor returns the retry policy suited to err's category.
func ConfigFor(err error) Options {
	c := recovery.Categorize(err)
	switch c.Category {
	case recovery.CategoryNetwork:
		return Options{MaxRetries: 3, BaseDelay: 2 * time.Second, MaxDelay: 10 * time.Second, Multiplier: 2}
	case recovery.CategorySystem:
		if c.Severity == recovery.SeverityHigh {
			return Options{MaxRetries: 2, BaseDelay: 5 * time.Second, MaxDelay: 15 * time.Second, Multiplier: 2}
		}
		return Options{MaxRetries: 3, BaseDelay: time.Second, MaxDelay: 8 * time.Second, Multiplier: 2}
	}
	return Options{MaxRetries: 1, BaseDelay: time.Second, MaxDelay: 5 * time.Second, Multiplier: 1.5}
}

func withDefaults(opts Options) Options {
	def := DefaultOptions()
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = def.BaseDelay
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = def.MaxDelay
	}
	if opts.Multiplier < 1 {
		opts.Multiplier = def.Multiplier
	}
	if opts.ShouldRetry == nil {
		opts.ShouldRetry = func(err error, _ int) bool { return recovery.IsRetryable(err) }
	}
	return opts
}

func newBackOff(opts Options) *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = opts.BaseDelay
	bo.RandomizationFactor = 0
	bo.Multiplier = opts.Multiplier
	bo.MaxInterval = opts.MaxDelay
	bo.Reset()
	return bo
}
