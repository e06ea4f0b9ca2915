package limiter

import "errors"

var (
	// ErrLimitExceeded is returned by callers that turn a rejected Decision into an error.
	ErrLimitExceeded = errors.New("rate limit exceeded")

	// ErrStoreClosed is returned by a Store after Close.
	ErrStoreClosed = errors.New("store is closed")

	// ErrUnknownStore is returned for an unsupported Config.Store.
	ErrUnknownStore = errors.New("unknown store type")
)
