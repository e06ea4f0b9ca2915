package limiter

import (
	"context"
	"sync/atomic"
	"time"
)

// MemoryStore keeps windows in process. State is lost on restart and not
// shared between coordinator replicas.
type MemoryStore struct {
	table  *windowTable
	now    func() time.Time
	closed atomic.Bool
}

func NewMemoryStore(opts ...Option) *MemoryStore {
	o := buildOptions(opts)
	return &MemoryStore{table: newWindowTable(), now: o.now}
}

func (s *MemoryStore) Take(_ context.Context, key string, limit int, window time.Duration) (Decision, error) {
	if s.closed.Load() {
		return Decision{}, ErrStoreClosed
	}
	return s.table.get(key).take(s.now(), limit, window), nil
}

func (s *MemoryStore) Sweep(_ context.Context, maxIdle time.Duration) (int, error) {
	if s.closed.Load() {
		return 0, ErrStoreClosed
	}
	return s.table.sweep(s.now(), maxIdle), nil
}

// Keys lists the tracked window keys, sorted.
func (s *MemoryStore) Keys() []string {
	return s.table.keys()
}

func (s *MemoryStore) Close() error {
	s.closed.Store(true)
	return nil
}
