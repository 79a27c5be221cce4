package upstream

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Decision is the outcome of one rate-limit check
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration // zero when allowed
}

// Limiter admits or rejects a keyed request
type Limiter interface {
	Allow(key string, limit int) Decision
}

// InMemoryLimiter is a token bucket per key: limit requests per window with
// a burst of limit. Buckets idle for a full window are refilled anyway, so
// they are swept at most once per window.
type InMemoryLimiter struct {
	mu        sync.Mutex
	window    time.Duration
	items     map[string]*bucket
	lastSweep time.Time
	now       func() time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	limit    int
	lastSeen time.Time
}

// NewInMemory returns a limiter with the given window; non-positive means one minute
func NewInMemory(window time.Duration) *InMemoryLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &InMemoryLimiter{
		window: window,
		items:  make(map[string]*bucket),
		now:    time.Now,
	}
}

// Allow takes one token from key's bucket
func (l *InMemoryLimiter) Allow(key string, limit int) Decision {
	if limit <= 0 {
		limit = 1
	}
	now := l.now()
	every := rate.Every(l.window / time.Duration(limit))

	l.mu.Lock()
	defer l.mu.Unlock()

	l.sweep(now)
	b, ok := l.items[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(every, limit), limit: limit}
		l.items[key] = b
	} else if b.limit != limit {
		b.limiter.SetLimitAt(now, every)
		b.limiter.SetBurstAt(now, limit)
		b.limit = limit
	}
	b.lastSeen = now

	allowed := b.limiter.AllowN(now, 1)
	tokens := b.limiter.TokensAt(now)
	d := Decision{
		Allowed:   allowed,
		Limit:     limit,
		Remaining: max(int(tokens), 0),
	}
	if !allowed {
		d.RetryAfter = time.Duration((1 - tokens) / float64(every) * float64(time.Second))
	}
	return d
}

func (l *InMemoryLimiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < l.window {
		return
	}
	l.lastSweep = now
	for k, b := range l.items {
		if now.Sub(b.lastSeen) >= l.window {
			delete(l.items, k)
		}
	}
}
