package gateapi

import (
	"sync"
	"time"
)

// ipThrottle counts login failures per source IP over a sliding window.
// Successful logins never count, so a busy gate with many devices behind
// one NAT is not penalized for volume alone.
type ipThrottle struct {
	max    int
	window time.Duration

	mu   sync.Mutex
	hits map[string][]time.Time
}

func newIPThrottle(max int, window time.Duration) *ipThrottle {
	return &ipThrottle{
		max:    max,
		window: window,
		hits:   make(map[string][]time.Time),
	}
}

// blocked reports whether key has exceeded the failure budget.
func (t *ipThrottle) blocked(key string, now time.Time) bool {
	if t == nil || t.max <= 0 {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	kept := t.prune(key, now)
	return len(kept) >= t.max
}

// fail records one login failure for key.
func (t *ipThrottle) fail(key string, now time.Time) {
	if t == nil || t.max <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hits[key] = append(t.prune(key, now), now)
}

// prune drops entries older than the window. Caller holds mu.
func (t *ipThrottle) prune(key string, now time.Time) []time.Time {
	cut := now.Add(-t.window)
	old := t.hits[key]
	kept := old[:0]
	for _, at := range old {
		if at.After(cut) {
			kept = append(kept, at)
		}
	}
	if len(kept) == 0 {
		delete(t.hits, key)
		return nil
	}
	t.hits[key] = kept
	return kept
}
