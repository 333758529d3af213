package retry

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// Backoff computes exponential delays between attempts.
type Backoff struct {
	BaseWait    time.Duration
	MaxWait     time.Duration
	BackoffRate float64
	Jitter      bool
}

// Delay returns the wait before the given retry attempt (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	if b.BaseWait <= 0 || attempt < 1 {
		return 0
	}
	rate := b.BackoffRate
	if rate <= 0 {
		rate = 2.0
	}
	delay := float64(b.BaseWait) * math.Pow(rate, float64(attempt-1))
	if b.MaxWait > 0 && delay > float64(b.MaxWait) {
		delay = float64(b.MaxWait)
	}
	if b.Jitter && delay > 0 {
		delay = rand.Float64() * delay
	}
	return time.Duration(delay)
}

// Sleep waits for d or until the context is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type options struct {
	maxRetries int
	backoff    Backoff
	retryIf    func(error) bool
}

// Option configures Do.
type Option func(*options)

// WithMaxRetries sets the number of retries after the first attempt.
func WithMaxRetries(n int) Option {
	return func(o *options) { o.maxRetries = n }
}

// WithBaseWait sets the delay before the first retry.
func WithBaseWait(d time.Duration) Option {
	return func(o *options) { o.backoff.BaseWait = d }
}

// WithMaxWait caps the delay between retries.
func WithMaxWait(d time.Duration) Option {
	return func(o *options) { o.backoff.MaxWait = d }
}

// WithBackoffRate sets the delay multiplier.
func WithBackoffRate(rate float64) Option {
	return func(o *options) { o.backoff.BackoffRate = rate }
}

// WithJitter randomizes each delay between zero and its computed value.
func WithJitter(enabled bool) Option {
	return func(o *options) { o.backoff.Jitter = enabled }
}

// WithRetryIf overrides which errors are retried. Defaults to IsRecoverable.
func WithRetryIf(fn func(error) bool) Option {
	return func(o *options) { o.retryIf = fn }
}

// Do calls fn until it succeeds, returns an error that should not be
// retried, or the retry budget is spent. The last error is returned as-is.
func Do(ctx context.Context, fn func() error, opts ...Option) error {
	o := options{
		maxRetries: 3,
		backoff:    Backoff{BaseWait: time.Second, BackoffRate: 2.0},
		retryIf:    IsRecoverable,
	}
	for _, opt := range opts {
		opt(&o)
	}
	var err error
	for attempt := 0; attempt <= o.maxRetries; attempt++ {
		if attempt > 0 {
			if sleepErr := Sleep(ctx, o.backoff.Delay(attempt)); sleepErr != nil {
				return err
			}
		}
		if err = fn(); err == nil {
			return nil
		}
		if !o.retryIf(err) {
			return err
		}
	}
	return err
}
