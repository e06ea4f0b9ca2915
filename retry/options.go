package retry

import "time"

type config struct {
	maxAttempts int
	backoff     BackoffStrategy
	retryIf     func(error) bool
	onRetry     func(attempt int, err error)
}

func defaultConfig() *config {
	return &config{
		maxAttempts: 3,
		backoff:     ExponentialBackoff(time.Second),
		retryIf:     func(error) bool { return true },
	}
}

// Option configures Do.
type Option func(*config)

// MaxAttempts counts the first call. Values below 1 are ignored.
func MaxAttempts(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

func Backoff(b BackoffStrategy) Option {
	return func(c *config) {
		if b != nil {
			c.backoff = b
		}
	}
}

// RetryIf stops retrying as soon as f returns false.
func RetryIf(f func(error) bool) Option {
	return func(c *config) {
		if f != nil {
			c.retryIf = f
		}
	}
}

// OnRetry is called before each wait.
func OnRetry(f func(attempt int, err error)) Option {
	return func(c *config) {
		c.onRetry = f
	}
}
