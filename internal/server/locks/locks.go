// Package locks hands out per-user advisory locks. Rotation takes the write
// side so it is serialized against concurrent entry writes for the same user;
// ordinary entry writes take the read side and run concurrently with each
// other. Locks are in-process only, like the rate limiter state.
package locks

import "sync"

type PerUser struct {
	mu sync.Mutex
	m  map[string]*sync.RWMutex
}

func NewPerUser() *PerUser {
	return &PerUser{m: make(map[string]*sync.RWMutex)}
}

// Get returns the lock for userID, creating it on first use. Locks are never
// evicted; the map grows with the number of distinct active users, which is
// acceptable for a per-process lifetime.
func (p *PerUser) Get(userID string) *sync.RWMutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.m[userID]
	if !ok {
		l = &sync.RWMutex{}
		p.m[userID] = l
	}
	return l
}
