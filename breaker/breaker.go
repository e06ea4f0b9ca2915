// Package breaker implements the per-service circuit breaker used by the
// gateway, its lazily populated registry and the HTTP and bus surfaces of
// the breaker service.
//
// A breaker is a three-state machine:
//
//	CLOSED --failures >= threshold--> OPEN
//	OPEN --first Allow after OpenTimeout--> HALF_OPEN
//	HALF_OPEN --successes >= threshold--> CLOSED
//	HALF_OPEN --any failure--> OPEN
//
// The OPEN to HALF_OPEN move happens lazily inside Allow; no timer runs per breaker.
package breaker

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrCircuitOpen is returned by Execute when the breaker rejects the call.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreaker guards one named resource. Transitions are serialized by mu;
// the state itself is read atomically so Allow does not lock unless OPEN.
type CircuitBreaker struct {
	name   string
	config ResourceConfig
	now    func() time.Time

	state atomic.Int32

	mu           sync.Mutex
	failureCount int
	successCount int
	lastFailure  time.Time

	onTransition func(name string, from, to State)
	metrics      *atomic.Pointer[Metrics]
}

// Snapshot is a consistent copy of a breaker's counters.
type Snapshot struct {
	Name             string `json:"breakerName"`
	State            State  `json:"state"`
	FailureCount     int    `json:"failureCount"`
	SuccessCount     int    `json:"successCount"`
	LastFailureTime  int64  `json:"lastFailureTime"`
	FailureThreshold int    `json:"failureThreshold"`
	OpenTimeoutMs    int64  `json:"openTimeoutMs"`
}

// New creates a closed breaker. Breakers are normally obtained from a Registry.
func New(name string, cfg ResourceConfig) *CircuitBreaker {
	return newCircuitBreaker(name, DefaultResourceConfig().Merge(cfg), time.Now, nil, nil)
}

func newCircuitBreaker(name string, cfg ResourceConfig, now func() time.Time, onTransition func(string, State, State), metrics *atomic.Pointer[Metrics]) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:         name,
		config:       cfg,
		now:          now,
		onTransition: onTransition,
		metrics:      metrics,
	}
	cb.state.Store(int32(StateClosed))
	return cb
}

func (cb *CircuitBreaker) Name() string {
	return cb.name
}

func (cb *CircuitBreaker) Config() ResourceConfig {
	return cb.config
}

func (cb *CircuitBreaker) State() State {
	return State(cb.state.Load())
}

// Allow reports whether a call may proceed. An OPEN breaker whose timeout has
// elapsed since the last failure moves to HALF_OPEN and admits the call.
func (cb *CircuitBreaker) Allow() bool {
	allowed := cb.allow()
	if m := cb.loadMetrics(); m != nil {
		m.recordDecision(cb.name, allowed)
	}
	return allowed
}

func (cb *CircuitBreaker) allow() bool {
	if cb.State() != StateOpen {
		return true
	}

	cb.mu.Lock()
	if cb.State() != StateOpen {
		cb.mu.Unlock()
		return true
	}
	if cb.now().Sub(cb.lastFailure) <= cb.config.OpenTimeout {
		cb.mu.Unlock()
		return false
	}
	cb.successCount = 0
	cb.state.Store(int32(StateHalfOpen))
	cb.mu.Unlock()

	cb.notify(StateOpen, StateHalfOpen)
	return true
}

func (cb *CircuitBreaker) RecordSuccess() {
	if m := cb.loadMetrics(); m != nil {
		m.recordOutcome(cb.name, true)
	}
	cb.mu.Lock()
	from := cb.State()
	to := from
	if from == StateHalfOpen {
		cb.successCount++
		if cb.successCount >= cb.config.FailureThreshold {
			cb.failureCount = 0
			to = StateClosed
			cb.state.Store(int32(to))
		}
	} else {
		cb.failureCount = 0
	}
	cb.mu.Unlock()

	if to != from {
		cb.notify(from, to)
	}
}

// RecordFailure counts a failure. A failure reported while already OPEN
// refreshes the last failure time, extending the open period.
func (cb *CircuitBreaker) RecordFailure() {
	if m := cb.loadMetrics(); m != nil {
		m.recordOutcome(cb.name, false)
	}
	cb.mu.Lock()
	from := cb.State()
	to := from
	cb.failureCount++
	cb.lastFailure = cb.now()
	switch from {
	case StateHalfOpen:
		to = StateOpen
	case StateClosed:
		if cb.failureCount >= cb.config.FailureThreshold {
			to = StateOpen
		}
	}
	if to != from {
		cb.state.Store(int32(to))
	}
	cb.mu.Unlock()

	if to != from {
		cb.notify(from, to)
	}
}

// Reset forces the breaker closed and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	from := cb.State()
	cb.failureCount = 0
	cb.successCount = 0
	cb.lastFailure = time.Time{}
	cb.state.Store(int32(StateClosed))
	cb.mu.Unlock()

	if from != StateClosed {
		cb.notify(from, StateClosed)
	}
}

func (cb *CircuitBreaker) Snapshot() Snapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	s := Snapshot{
		Name:             cb.name,
		State:            cb.State(),
		FailureCount:     cb.failureCount,
		SuccessCount:     cb.successCount,
		FailureThreshold: cb.config.FailureThreshold,
		OpenTimeoutMs:    cb.config.OpenTimeout.Milliseconds(),
	}
	if !cb.lastFailure.IsZero() {
		s.LastFailureTime = cb.lastFailure.UnixMilli()
	}
	return s
}

// notify runs outside mu so a listener may call back into the breaker.
func (cb *CircuitBreaker) notify(from, to State) {
	if cb.onTransition != nil {
		cb.onTransition(cb.name, from, to)
	}
}

func (cb *CircuitBreaker) loadMetrics() *Metrics {
	if cb.metrics == nil {
		return nil
	}
	return cb.metrics.Load()
}
