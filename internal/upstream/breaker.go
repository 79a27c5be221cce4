package upstream

import (
	"sync"
	"time"
)

// Breaker tracks consecutive failures per dependency. After threshold
// failures a dependency is open for the cooldown; one success closes it.
type Breaker struct {
	mu        sync.Mutex
	threshold int
	cooldown  time.Duration
	deps      map[string]*breakerState
	now       func() time.Time
}

type breakerState struct {
	consecutiveFails int
	openUntil        time.Time
}

// NewBreaker returns a breaker; non-positive values fall back to 5 failures and 30s
func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{
		threshold: threshold,
		cooldown:  cooldown,
		deps:      make(map[string]*breakerState),
		now:       time.Now,
	}
}

// Open reports whether any of the dependencies is in cooldown
func (b *Breaker) Open(dependencies ...string) bool {
	now := b.now()

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, dep := range dependencies {
		if st, ok := b.deps[dep]; ok && now.Before(st.openUntil) {
			return true
		}
	}
	return false
}

// Record registers the outcome of a call that used the dependencies
func (b *Breaker) Record(failed bool, dependencies ...string) {
	now := b.now()

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, dep := range dependencies {
		st, ok := b.deps[dep]
		if !ok {
			st = &breakerState{}
			b.deps[dep] = st
		}
		if !failed {
			st.consecutiveFails = 0
			st.openUntil = time.Time{}
			continue
		}
		st.consecutiveFails++
		if st.consecutiveFails >= b.threshold {
			st.openUntil = now.Add(b.cooldown)
			st.consecutiveFails = 0
		}
	}
}
