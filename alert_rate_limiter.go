package main

import (
	"sync"
	"time"
)

// The limiter is best-effort abuse protection for the manual alert endpoint,
// so per-key ordering does not matter and the map is simply capped.
const manualAlertMaxEntries = 1024

type manualAlertRateLimiter struct {
	mu      sync.Mutex
	entries map[string]*manualAlertEntry
	max     int
	window  time.Duration
}

type manualAlertEntry struct {
	count int
	reset time.Time
}

func newManualAlertRateLimiter(max int, window time.Duration) *manualAlertRateLimiter {
	return &manualAlertRateLimiter{
		entries: make(map[string]*manualAlertEntry),
		max:     max,
		window:  window,
	}
}

// cleanupLocked drops entries quiet for a full extra window past their reset
// and trims arbitrary entries when the map outgrows the cap. Expects l.mu to
// be held by the caller.
func (l *manualAlertRateLimiter) cleanupLocked(now time.Time) {
	if len(l.entries) == 0 {
		return
	}
	for k, entry := range l.entries {
		if now.After(entry.reset.Add(l.window)) {
			delete(l.entries, k)
		}
	}
	if len(l.entries) <= manualAlertMaxEntries {
		return
	}
	excess := len(l.entries) - manualAlertMaxEntries
	for k := range l.entries {
		delete(l.entries, k)
		excess--
		if excess <= 0 {
			break
		}
	}
}

func (l *manualAlertRateLimiter) allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cleanupLocked(now)
	if key == "" {
		key = "unknown"
	}
	entry, ok := l.entries[key]
	if !ok || now.After(entry.reset) {
		entry = &manualAlertEntry{
			reset: now.Add(l.window),
		}
		l.entries[key] = entry
	}
	if entry.count >= l.max {
		return false
	}
	entry.count++
	return true
}
