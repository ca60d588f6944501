package sso

import (
	"sync"
	"time"
)

// lockoutTracker counts failed login completions per origin address and
// locks an address out after too many failures in the window
type lockoutTracker struct {
	mu          sync.Mutex
	maxAttempts int
	duration    time.Duration
	entries     map[string]*lockoutEntry
	now         func() time.Time
}

type lockoutEntry struct {
	failures    int
	windowStart time.Time
	lockedUntil time.Time
}

func newLockoutTracker(maxAttempts int, duration time.Duration) *lockoutTracker {
	return &lockoutTracker{
		maxAttempts: maxAttempts,
		duration:    duration,
		entries:     make(map[string]*lockoutEntry),
		now:         time.Now,
	}
}

// locked reports whether the address is currently locked out
func (t *lockoutTracker) locked(address string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.entries[address]
	return ok && t.now().Before(entry.lockedUntil)
}

// recordFailure counts a failed attempt and reports whether this failure
// tripped the lockout
func (t *lockoutTracker) recordFailure(address string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()

	entry, ok := t.entries[address]
	if !ok || now.Sub(entry.windowStart) > t.duration {
		entry = &lockoutEntry{windowStart: now}
		t.entries[address] = entry
	}

	entry.failures++
	if entry.failures >= t.maxAttempts && now.After(entry.lockedUntil) {
		entry.lockedUntil = now.Add(t.duration)
		return true
	}
	return false
}

// reset clears the failure count for an address after a successful login
func (t *lockoutTracker) reset(address string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, address)
}
