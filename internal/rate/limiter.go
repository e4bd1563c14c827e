// Package rate provides a per-key fixed-window request limiter used to
// slow down challenge and verification abuse.
package rate

import (
	"sync"
	"time"
)

type window struct {
	start time.Time
	count int
}

// Limiter allows up to limit events per key per window. Stale keys are
// pruned opportunistically so the map does not grow with one-off
// callers.
type Limiter struct {
	mu        sync.Mutex
	limit     int
	window    time.Duration
	entries   map[string]*window
	lastPrune time.Time
	now       func() time.Time
}

func NewLimiter(limit int, windowSize time.Duration) *Limiter {
	return &Limiter{
		limit:   limit,
		window:  windowSize,
		entries: make(map[string]*window),
		now:     time.Now,
	}
}

// Allow reports whether an event for key fits in the current window and
// records it when it does.
func (l *Limiter) Allow(key string) bool {
	if l.limit <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.pruneLocked(now)

	e, ok := l.entries[key]
	if !ok || now.Sub(e.start) >= l.window {
		l.entries[key] = &window{start: now, count: 1}
		return true
	}
	if e.count >= l.limit {
		return false
	}
	e.count++
	return true
}

func (l *Limiter) pruneLocked(now time.Time) {
	if now.Sub(l.lastPrune) < l.window {
		return
	}
	for key, e := range l.entries {
		if now.Sub(e.start) >= l.window {
			delete(l.entries, key)
		}
	}
	l.lastPrune = now
}
