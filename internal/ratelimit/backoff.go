package ratelimit

import (
	"sync"
	"time"
)

// BackoffLimiter penalizes repeated failures per key with a progressively
// longer lockout: each failure past the threshold doubles the penalty up to
// a cap. Intended for authentication endpoints.
type BackoffLimiter struct {
	threshold int
	baseDelay time.Duration
	maxDelay  time.Duration
	now       func() time.Time

	mu      sync.Mutex
	entries map[string]*backoffEntry
}

type backoffEntry struct {
	failures   int
	lockedTill time.Time
}

// NewBackoffLimiter starts penalizing after threshold consecutive failures.
func NewBackoffLimiter(threshold int, baseDelay, maxDelay time.Duration) *BackoffLimiter {
	return &BackoffLimiter{
		threshold: threshold,
		baseDelay: baseDelay,
		maxDelay:  maxDelay,
		now:       time.Now,
		entries:   make(map[string]*backoffEntry),
	}
}

// Allowed reports whether key is currently locked out.
func (b *BackoffLimiter) Allowed(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[key]
	if !ok {
		return true
	}
	return !b.now().Before(e.lockedTill)
}

// RecordFailure bumps the failure count and extends the lockout when past
// the threshold.
func (b *BackoffLimiter) RecordFailure(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[key]
	if !ok {
		e = &backoffEntry{}
		b.entries[key] = e
	}
	e.failures++
	over := e.failures - b.threshold
	if over < 0 {
		return
	}
	delay := b.baseDelay << uint(over)
	if delay > b.maxDelay || delay <= 0 {
		delay = b.maxDelay
	}
	e.lockedTill = b.now().Add(delay)
}

// RecordSuccess clears the failure history for key.
func (b *BackoffLimiter) RecordSuccess(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.entries, key)
}
