// Package limiter implements fixed-window rate limiting in three shapes: an
// in-process FixedWindow, a Coordinator that owns shared windows behind a
// Store and answers over the bus, and a DistributedLimiter that asks the
// coordinator and fails open when it does not answer in time.
package limiter

import (
	"sort"
	"sync"
	"time"
)

// Decision is the outcome of one counted request.
type Decision struct {
	Allowed   bool
	Remaining int
	Limit     int
	ResetAt   time.Time

	// FailOpen marks an allow that was assumed because no answer arrived.
	FailOpen bool
}

// ResetTime is ResetAt in epoch milliseconds, 0 when unknown.
func (d Decision) ResetTime() int64 {
	if d.ResetAt.IsZero() {
		return 0
	}
	return d.ResetAt.UnixMilli()
}

// failOpen is the decision used whenever the real answer is unavailable.
func failOpen(limit int) Decision {
	return Decision{Allowed: true, Remaining: limit, Limit: limit, FailOpen: true}
}

type window struct {
	mu         sync.Mutex
	count      int
	start      time.Time
	lastAccess time.Time
}

// take counts one request. The reset check and the increment share one
// critical section.
func (w *window) take(now time.Time, limit int, length time.Duration) Decision {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.start.IsZero() || now.Sub(w.start) > length {
		w.count = 0
		w.start = now
	}
	w.count++
	w.lastAccess = now

	remaining := limit - w.count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   w.count <= limit,
		Remaining: remaining,
		Limit:     limit,
		ResetAt:   w.start.Add(length),
	}
}

func (w *window) idleSince(now time.Time) time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return now.Sub(w.lastAccess)
}

// windowTable holds windows created lazily per key.
type windowTable struct {
	mu      sync.RWMutex
	windows map[string]*window
}

func newWindowTable() *windowTable {
	return &windowTable{windows: make(map[string]*window)}
}

func (t *windowTable) get(key string) *window {
	t.mu.RLock()
	w, ok := t.windows[key]
	t.mu.RUnlock()
	if ok {
		return w
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if w, ok := t.windows[key]; ok {
		return w
	}
	w = &window{}
	t.windows[key] = w
	return w
}

// sweep drops windows idle longer than maxIdle. Candidates come from a
// snapshot and each one is re-checked before removal.
func (t *windowTable) sweep(now time.Time, maxIdle time.Duration) int {
	t.mu.RLock()
	snapshot := make(map[string]*window, len(t.windows))
	for k, w := range t.windows {
		snapshot[k] = w
	}
	t.mu.RUnlock()

	removed := 0
	for key, w := range snapshot {
		if w.idleSince(now) <= maxIdle {
			continue
		}
		t.mu.Lock()
		if cur, ok := t.windows[key]; ok && cur == w && w.idleSince(now) > maxIdle {
			delete(t.windows, key)
			removed++
		}
		t.mu.Unlock()
	}
	return removed
}

func (t *windowTable) len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.windows)
}

func (t *windowTable) keys() []string {
	t.mu.RLock()
	keys := make([]string, 0, len(t.windows))
	for k := range t.windows {
		keys = append(keys, k)
	}
	t.mu.RUnlock()
	sort.Strings(keys)
	return keys
}
