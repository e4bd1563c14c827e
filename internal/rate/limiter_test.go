package rate

import (
	"testing"
	"time"
)

func TestLimiterBlocksOverLimit(t *testing.T) {
	l := NewLimiter(2, time.Minute)
	if !l.Allow("a") || !l.Allow("a") {
		t.Fatalf("first two events should pass")
	}
	if l.Allow("a") {
		t.Fatalf("third event should be blocked")
	}
	if !l.Allow("b") {
		t.Fatalf("keys are limited independently")
	}
}

func TestLimiterWindowReset(t *testing.T) {
	l := NewLimiter(1, time.Minute)
	now := time.Unix(1000, 0)
	l.now = func() time.Time { return now }

	if !l.Allow("a") {
		t.Fatalf("first event should pass")
	}
	if l.Allow("a") {
		t.Fatalf("second event should be blocked")
	}

	now = now.Add(time.Minute)
	if !l.Allow("a") {
		t.Fatalf("new window should admit again")
	}
}

func TestLimiterPrunesStaleKeys(t *testing.T) {
	l := NewLimiter(1, time.Minute)
	now := time.Unix(1000, 0)
	l.now = func() time.Time { return now }

	for i := 0; i < 100; i++ {
		l.Allow(string(rune('a' + i%26)))
	}
	now = now.Add(2 * time.Minute)
	l.Allow("trigger")

	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.entries) != 1 {
		t.Fatalf("expected stale entries pruned, have %d", len(l.entries))
	}
}

func TestLimiterDisabled(t *testing.T) {
	l := NewLimiter(0, time.Minute)
	for i := 0; i < 10; i++ {
		if !l.Allow("a") {
			t.Fatalf("zero limit disables limiting")
		}
	}
}
