package locks

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGet_SameUserSameLock(t *testing.T) {
	p := NewPerUser()
	assert.Same(t, p.Get("u1"), p.Get("u1"))
	assert.NotSame(t, p.Get("u1"), p.Get("u2"))
}

func TestGet_ConcurrentFirstUse(t *testing.T) {
	p := NewPerUser()

	var wg sync.WaitGroup
	results := make([]*sync.RWMutex, 20)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = p.Get("u1")
		}(i)
	}
	wg.Wait()

	for _, l := range results[1:] {
		assert.Same(t, results[0], l)
	}
}
