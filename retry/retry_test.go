package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDo_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	var retried []int
	err := Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("broker not ready")
		}
		return nil
	},
		MaxAttempts(5),
		Backoff(ConstantBackoff(time.Millisecond)),
		OnRetry(func(attempt int, err error) { retried = append(retried, attempt) }),
	)

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	err := Do(context.Background(), func() error {
		return errors.New("down")
	}, MaxAttempts(3), Backoff(ConstantBackoff(time.Millisecond)))

	var me *MultiError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, 3, me.Attempts)
	assert.Len(t, me.Errors, 3)
	assert.Contains(t, me.AllErrors(), "attempt 3: down")
}

func TestDo_RetryIfStops(t *testing.T) {
	fatal := errors.New("bad credentials")
	calls := 0
	err := Do(context.Background(), func() error {
		calls++
		return fatal
	}, MaxAttempts(5), RetryIf(func(err error) bool { return !errors.Is(err, fatal) }))

	assert.ErrorIs(t, err, fatal)
	assert.Equal(t, 1, calls)
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, func() error {
		calls++
		cancel()
		return errors.New("down")
	}, MaxAttempts(5), Backoff(ConstantBackoff(time.Second)))

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDo_DeadlineShorterThanBackoff(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := Do(ctx, func() error { return errors.New("down") },
		MaxAttempts(5), Backoff(ConstantBackoff(time.Second)))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestExponentialBackoff(t *testing.T) {
	b := ExponentialBackoff(100*time.Millisecond, WithJitter(0), WithMaxDelay(time.Second))
	assert.Equal(t, time.Duration(0), b.Next(0))
	assert.Equal(t, 100*time.Millisecond, b.Next(1))
	assert.Equal(t, 400*time.Millisecond, b.Next(3))
	assert.Equal(t, time.Second, b.Next(10))

	j := ExponentialBackoff(100*time.Millisecond, WithJitter(0.5))
	for i := 0; i < 20; i++ {
		d := j.Next(1)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.LessOrEqual(t, d, 150*time.Millisecond)
	}
}

func TestDoWithData(t *testing.T) {
	v, err := DoWithData(context.Background(), func() (int, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}
