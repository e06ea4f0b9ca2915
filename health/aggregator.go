package health

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Aggregator runs every registered checker concurrently under one
// deadline.
type Aggregator struct {
	timeout time.Duration

	mu       sync.RWMutex
	checkers []Checker
	metadata map[string]any
}

func NewAggregator(timeout time.Duration) *Aggregator {
	if timeout <= 0 {
		timeout = DefaultConfig().Timeout
	}
	return &Aggregator{
		timeout:  timeout,
		metadata: make(map[string]any),
	}
}

func (a *Aggregator) Register(checkers ...Checker) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, c := range checkers {
		if c != nil {
			a.checkers = append(a.checkers, c)
		}
	}
}

func (a *Aggregator) SetMetadata(key string, value any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.metadata[key] = value
}

func (a *Aggregator) Check(ctx context.Context) *Response {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	a.mu.RLock()
	checkers := make([]Checker, len(a.checkers))
	copy(checkers, a.checkers)
	metadata := make(map[string]any, len(a.metadata))
	for k, v := range a.metadata {
		metadata[k] = v
	}
	a.mu.RUnlock()

	results := make(chan CheckResult, len(checkers))
	for _, c := range checkers {
		go func(c Checker) {
			results <- checkOne(ctx, c)
		}(c)
	}

	checks := make(map[string]CheckResult, len(checkers))
	for range checkers {
		r := <-results
		checks[r.Name] = r
	}

	return &Response{
		Status:    overall(checks),
		Timestamp: time.Now(),
		Duration:  time.Since(start),
		Checks:    checks,
		Metadata:  metadata,
	}
}

func checkOne(ctx context.Context, c Checker) (result CheckResult) {
	start := time.Now()
	result = CheckResult{Name: c.Name(), Timestamp: start}
	defer func() {
		if r := recover(); r != nil {
			result.Status = StatusUnhealthy
			result.Error = fmt.Sprintf("panic: %v", r)
			result.Message = "Health check failed"
			result.Duration = time.Since(start)
		}
	}()

	err := c.Check(ctx)
	result.Duration = time.Since(start)
	if err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		result.Message = "Health check failed"
		return result
	}
	result.Status = StatusHealthy
	result.Message = "OK"
	return result
}

func overall(checks map[string]CheckResult) Status {
	status := StatusHealthy
	for _, r := range checks {
		switch r.Status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusDegraded:
			status = StatusDegraded
		}
	}
	return status
}
