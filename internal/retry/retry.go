// Package retry wraps network mutations in a bounded, fixed-delay retry
// loop. The controller is agnostic to error semantics: every failure is
// retried uniformly and the last error is surfaced. Whether a particular
// failure actually means "already in the desired state" is the caller's
// call to make, after Do returns.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/fathima-sithara/marketchat/internal/metrics"
)

type Options struct {
	// MaxRetries is the number of re-attempts after the first try.
	MaxRetries int
	// Delay is the fixed wait between attempts.
	Delay time.Duration
}

func DefaultOptions() Options {
	return Options{MaxRetries: 2, Delay: time.Second}
}

// Do runs op up to MaxRetries+1 times, waiting Delay between attempts, and
// returns the first success or the last error. Context cancellation aborts
// the wait between attempts.
func Do(ctx context.Context, op func() error, opts Options) error {
	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(opts.Delay), uint64(opts.MaxRetries)),
		ctx,
	)
	return backoff.Retry(func() error {
		metrics.RetryAttempts.Inc()
		return op()
	}, b)
}

// DoValue is Do for operations that produce a value.
func DoValue[T any](ctx context.Context, op func() (T, error), opts Options) (T, error) {
	var out T
	err := Do(ctx, func() error {
		v, err := op()
		if err != nil {
			return err
		}
		out = v
		return nil
	}, opts)
	return out, err
}
