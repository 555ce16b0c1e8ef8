package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixedClock lets tests move time forward explicitly.
type fixedClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fixedClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fixedClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestLimiter(max int, window time.Duration) (*Limiter, *fixedClock) {
	clock := &fixedClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	l := New(max, window)
	l.now = clock.now
	return l, clock
}

func TestAllow_UnderLimit(t *testing.T) {
	l, _ := newTestLimiter(5, time.Minute)

	for i := 0; i < 5; i++ {
		res := l.Allow("user-1", "unlock")
		require.True(t, res.Allowed, "attempt %d", i+1)
		assert.Equal(t, 4-i, res.Remaining)
	}
}

func TestAllow_SixthRejected(t *testing.T) {
	l, clock := newTestLimiter(5, time.Minute)

	for i := 0; i < 5; i++ {
		require.True(t, l.Allow("user-1", "unlock").Allowed)
	}

	res := l.Allow("user-1", "unlock")
	require.False(t, res.Allowed)
	assert.Equal(t, clock.now().Add(time.Minute), res.ResetAt)
	assert.Positive(t, res.RetryAfter(clock.now()))
}

func TestAllow_WindowSlides(t *testing.T) {
	l, clock := newTestLimiter(5, time.Minute)

	for i := 0; i < 5; i++ {
		require.True(t, l.Allow("user-1", "unlock").Allowed)
	}
	require.False(t, l.Allow("user-1", "unlock").Allowed)

	clock.advance(61 * time.Second)

	res := l.Allow("user-1", "unlock")
	assert.True(t, res.Allowed)
}

func TestAllow_KeysAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(1, time.Minute)

	require.True(t, l.Allow("user-1", "unlock").Allowed)
	require.False(t, l.Allow("user-1", "unlock").Allowed)

	// different user and different operation both have their own window
	assert.True(t, l.Allow("user-2", "unlock").Allowed)
	assert.True(t, l.Allow("user-1", "rotate").Allowed)
}

func TestAllow_ConcurrentCallersCannotExceedLimit(t *testing.T) {
	const max = 5
	l, _ := newTestLimiter(max, time.Minute)

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Allow("user-1", "unlock").Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, max, allowed)
}

func TestRetryAfter_AtLeastOneSecond(t *testing.T) {
	now := time.Now()
	r := Result{ResetAt: now.Add(10 * time.Millisecond)}
	assert.Equal(t, 1, r.RetryAfter(now))

	r = Result{ResetAt: now.Add(59*time.Second + 500*time.Millisecond)}
	assert.Equal(t, 60, r.RetryAfter(now))
}
