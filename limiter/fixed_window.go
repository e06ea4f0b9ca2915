package limiter

import (
	"fmt"
	"sync/atomic"
	"time"
)

// FixedWindow is the in-process limiter: every key gets Limit requests per
// Window, counted from the first request of the window.
type FixedWindow struct {
	limit  int
	length time.Duration
	now    func() time.Time
	table  *windowTable

	metrics atomic.Pointer[Metrics]
}

// Option configures a FixedWindow or a MemoryStore.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewFixedWindow builds a limiter of limit requests per length.
func NewFixedWindow(limit int, length time.Duration, opts ...Option) (*FixedWindow, error) {
	if limit < 1 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}
	if length <= 0 {
		return nil, fmt.Errorf("window must be positive, got %s", length)
	}
	o := buildOptions(opts)
	return &FixedWindow{
		limit:  limit,
		length: length,
		now:    o.now,
		table:  newWindowTable(),
	}, nil
}

// NewDefaultFixedWindow is 100 requests per minute.
func NewDefaultFixedWindow(opts ...Option) *FixedWindow {
	d := DefaultConfig()
	fw, _ := NewFixedWindow(d.Limit, d.Window, opts...)
	return fw
}

// Allow counts one request for key and reports whether it fits the window.
func (f *FixedWindow) Allow(key string) bool {
	return f.Check(key).Allowed
}

// Check counts one request for key and returns the full decision.
func (f *FixedWindow) Check(key string) Decision {
	d := f.table.get(key).take(f.now(), f.limit, f.length)
	if m := f.metrics.Load(); m != nil {
		m.record("local", d)
	}
	return d
}

// Sweep evicts windows idle for longer than maxIdle.
func (f *FixedWindow) Sweep(maxIdle time.Duration) int {
	return f.table.sweep(f.now(), maxIdle)
}

// Len is the number of tracked keys.
func (f *FixedWindow) Len() int {
	return f.table.len()
}

func (f *FixedWindow) Limit() int {
	return f.limit
}

func (f *FixedWindow) Window() time.Duration {
	return f.length
}
