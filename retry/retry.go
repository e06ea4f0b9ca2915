// Package retry runs an operation with backoff until it succeeds.
package retry

import (
	"context"
	"time"
)

// Do runs operation until it succeeds, the attempts run out or ctx ends.
func Do(ctx context.Context, operation func() error, opts ...Option) error {
	_, err := DoWithData(ctx, func() (struct{}, error) {
		return struct{}{}, operation()
	}, opts...)
	return err
}

// DoWithData is Do for operations that produce a value.
func DoWithData[T any](ctx context.Context, operation func() (T, error), opts ...Option) (T, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	var (
		result T
		errs   []error
	)
	for attempt := 1; attempt <= cfg.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		var err error
		result, err = operation()
		if err == nil {
			return result, nil
		}
		errs = append(errs, err)

		if attempt == cfg.maxAttempts || !cfg.retryIf(err) {
			return result, &MultiError{Errors: errs, Attempts: attempt}
		}
		if cfg.onRetry != nil {
			cfg.onRetry(attempt, err)
		}

		delay := cfg.backoff.Next(attempt)
		if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < delay {
			return result, &MultiError{Errors: append(errs, context.DeadlineExceeded), Attempts: attempt}
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return result, ctx.Err()
		}
	}
	return result, &MultiError{Errors: errs, Attempts: cfg.maxAttempts}
}
