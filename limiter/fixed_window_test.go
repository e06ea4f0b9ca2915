package limiter

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestNewFixedWindow_Validates(t *testing.T) {
	_, err := NewFixedWindow(0, time.Minute)
	assert.Error(t, err)
	_, err = NewFixedWindow(10, 0)
	assert.Error(t, err)

	fw := NewDefaultFixedWindow()
	assert.Equal(t, 100, fw.Limit())
	assert.Equal(t, time.Minute, fw.Window())
}

func TestFixedWindow_LimitThenReset(t *testing.T) {
	clock := newFakeClock()
	fw := NewDefaultFixedWindow(WithClock(clock.Now))

	for i := 0; i < 100; i++ {
		require.True(t, fw.Allow("c1"), "request %d", i+1)
	}
	d := fw.Check("c1")
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
	assert.Equal(t, clock.Now().Add(time.Minute), d.ResetAt)

	// other keys have their own window
	assert.True(t, fw.Allow("c2"))

	// the window resets only once strictly more than its length has passed
	clock.Advance(time.Minute)
	assert.False(t, fw.Allow("c1"))
	clock.Advance(time.Millisecond)
	d = fw.Check("c1")
	assert.True(t, d.Allowed)
	assert.Equal(t, 99, d.Remaining)
}

func TestFixedWindow_RemainingCountsDown(t *testing.T) {
	fw, err := NewFixedWindow(3, time.Second)
	require.NoError(t, err)

	var remaining []int
	for i := 0; i < 4; i++ {
		remaining = append(remaining, fw.Check("k").Remaining)
	}
	assert.Equal(t, []int{2, 1, 0, 0}, remaining)
}

func TestFixedWindow_ConcurrentNeverOverAdmits(t *testing.T) {
	fw, err := NewFixedWindow(50, time.Hour)
	require.NoError(t, err)

	var allowed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				if fw.Allow("shared") {
					allowed.Add(1)
				}
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(50), allowed.Load())
}

func TestFixedWindow_Sweep(t *testing.T) {
	clock := newFakeClock()
	fw := NewDefaultFixedWindow(WithClock(clock.Now))

	for i := 0; i < 5; i++ {
		fw.Allow(fmt.Sprintf("idle-%d", i))
	}
	clock.Advance(50 * time.Minute)
	fw.Allow("busy")
	clock.Advance(11 * time.Minute)

	assert.Equal(t, 5, fw.Sweep(time.Hour))
	assert.Equal(t, 1, fw.Len())
	assert.Equal(t, 0, fw.Sweep(time.Hour))
}
