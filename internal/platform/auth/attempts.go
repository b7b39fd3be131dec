package auth

import (
	"sync"
	"time"
)

// AttemptTracker counts failed authentication attempts per source within a
// sliding window and blocks sources that exceed the threshold. It is a shared
// in-process store keyed by source, not per-connection state, so all requests
// through one instance see the same counters.
type AttemptTracker struct {
	mu        sync.Mutex
	window    time.Duration
	threshold int
	failures  map[string][]time.Time
	now       func() time.Time
}

// NewAttemptTracker blocks a source after threshold failures inside window.
func NewAttemptTracker(threshold int, window time.Duration) *AttemptTracker {
	return &AttemptTracker{
		window:    window,
		threshold: threshold,
		failures:  make(map[string][]time.Time),
		now:       time.Now,
	}
}

// RecordFailure notes a failed attempt for source.
func (t *AttemptTracker) RecordFailure(source string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures[source] = append(t.prune(source), t.now())
}

// RecordSuccess clears the source's failure history.
func (t *AttemptTracker) RecordSuccess(source string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.failures, source)
}

// Blocked reports whether source has exceeded the failure threshold inside
// the current window.
func (t *AttemptTracker) Blocked(source string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	recent := t.prune(source)
	if len(recent) == 0 {
		delete(t.failures, source)
	} else {
		t.failures[source] = recent
	}
	return len(recent) >= t.threshold
}

// prune drops failures older than the window. Caller holds the lock.
func (t *AttemptTracker) prune(source string) []time.Time {
	cutoff := t.now().Add(-t.window)
	var recent []time.Time
	for _, at := range t.failures[source] {
		if at.After(cutoff) {
			recent = append(recent, at)
		}
	}
	return recent
}
