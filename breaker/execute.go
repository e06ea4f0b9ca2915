package breaker

import (
	"context"
	"fmt"
)

// Execute runs op under cb. A rejected call never reaches op. op's error
// decides whether a success or a failure is recorded. When fallback is not
// nil it replaces the result of a rejected or failed call.
//
//	user, err := breaker.Execute(ctx, reg.Get("user-service"),
//	    func(ctx context.Context) (*User, error) { return client.Fetch(ctx, id) },
//	    func(ctx context.Context, err error) (*User, error) { return cachedUser(id), nil })
func Execute[T any](ctx context.Context, cb *CircuitBreaker, op func(context.Context) (T, error), fallback func(context.Context, error) (T, error)) (T, error) {
	if !cb.Allow() {
		err := fmt.Errorf("%w: %s", ErrCircuitOpen, cb.Name())
		if fallback != nil {
			return fallback(ctx, err)
		}
		var zero T
		return zero, err
	}

	v, err := op(ctx)
	if err != nil {
		cb.RecordFailure()
		if fallback != nil {
			return fallback(ctx, err)
		}
		return v, err
	}
	cb.RecordSuccess()
	return v, nil
}
