// Package ratelimit implements a sliding-window attempt counter used to
// bound vault unlock attempts per user. State is in-memory and process-local:
// it is created at startup and deliberately not persisted across restarts.
package ratelimit

import (
	"hash/fnv"
	"sync"
	"time"
)

// shardCount spreads keys over independent mutexes so concurrent callers
// for different users do not contend on a single global lock.
const shardCount = 16

// Result is the outcome of a single Allow check.
type Result struct {
	// Allowed reports whether the attempt may proceed. When true the
	// attempt has already been recorded.
	Allowed bool

	// Remaining is the number of attempts left in the window after this
	// one, valid only when Allowed is true.
	Remaining int

	// ResetAt is when the oldest in-window attempt expires and a new
	// attempt will be accepted, valid only when Allowed is false.
	ResetAt time.Time
}

// RetryAfter returns the number of whole seconds until ResetAt, at least 1.
func (r Result) RetryAfter(now time.Time) int {
	secs := 0
	if d := r.ResetAt.Sub(now); d > 0 {
		secs = int((d + time.Second - 1) / time.Second)
	}
	if secs < 1 {
		secs = 1
	}
	return secs
}

type shard struct {
	mu       sync.Mutex
	attempts map[string][]time.Time
}

// Limiter is a sliding-window rate limiter keyed by {userID}:{operation}.
type Limiter struct {
	maxAttempts int
	window      time.Duration
	shards      [shardCount]*shard

	now func() time.Time // swapped in tests
}

// New returns a limiter allowing maxAttempts per window for each key.
func New(maxAttempts int, window time.Duration) *Limiter {
	l := &Limiter{
		maxAttempts: maxAttempts,
		window:      window,
		now:         time.Now,
	}
	for i := range l.shards {
		l.shards[i] = &shard{attempts: make(map[string][]time.Time)}
	}
	return l
}

// Allow checks the window for (userID, operation) and, if under the limit,
// records the attempt. Prune, check and record happen in one critical
// section, so two concurrent callers can never both slip through the last
// remaining slot.
func (l *Limiter) Allow(userID, operation string) Result {
	key := userID + ":" + operation
	s := l.shards[shardFor(key)]
	now := l.now()
	cutoff := now.Add(-l.window)

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.attempts[key][:0]
	for _, ts := range s.attempts[key] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= l.maxAttempts {
		s.attempts[key] = kept
		return Result{
			Allowed: false,
			ResetAt: kept[0].Add(l.window),
		}
	}

	s.attempts[key] = append(kept, now)
	return Result{
		Allowed:   true,
		Remaining: l.maxAttempts - len(kept) - 1,
	}
}

func shardFor(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % shardCount)
}
