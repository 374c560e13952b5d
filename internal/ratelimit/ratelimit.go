// Package ratelimit provides sliding-window counters keyed by arbitrary
// strings (source IP, client ID) plus a progressive-backoff variant for
// abuse-prone endpoints such as registration.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter tracks event timestamps per key inside a sliding window. A
// background janitor evicts keys that have gone quiet.
type Limiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	buckets map[string][]time.Time

	done    chan struct{}
	stopped bool
	wg      sync.WaitGroup
}

// NewLimiter allows limit events per key within window.
func NewLimiter(limit int, window time.Duration) *Limiter {
	return &Limiter{
		limit:   limit,
		window:  window,
		now:     time.Now,
		buckets: make(map[string][]time.Time),
		done:    make(chan struct{}),
	}
}

// Allow records an attempt for key and reports whether it fits in the
// window. Denied attempts are not recorded, so a client cannot lock itself
// out forever by hammering.
func (l *Limiter) Allow(key string) bool {
	now := l.now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	recent := prune(l.buckets[key], cutoff)
	if len(recent) >= l.limit {
		l.buckets[key] = recent
		return false
	}
	l.buckets[key] = append(recent, now)
	return true
}

// Remaining reports how many attempts key has left in the current window.
func (l *Limiter) Remaining(key string) int {
	cutoff := l.now().Add(-l.window)
	l.mu.Lock()
	defer l.mu.Unlock()
	recent := prune(l.buckets[key], cutoff)
	l.buckets[key] = recent
	if n := l.limit - len(recent); n > 0 {
		return n
	}
	return 0
}

// Reset forgets a key entirely.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, key)
}

func prune(stamps []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(stamps) && !stamps[i].After(cutoff) {
		i++
	}
	return stamps[i:]
}

// StartJanitor launches periodic eviction of idle keys.
func (l *Limiter) StartJanitor(interval time.Duration) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				l.evictIdle()
			case <-l.done:
				return
			}
		}
	}()
}

func (l *Limiter) evictIdle() {
	cutoff := l.now().Add(-l.window)
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, stamps := range l.buckets {
		if recent := prune(stamps, cutoff); len(recent) == 0 {
			delete(l.buckets, key)
		} else {
			l.buckets[key] = recent
		}
	}
}

// Stop halts the janitor.
func (l *Limiter) Stop() {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.stopped = true
	l.mu.Unlock()
	close(l.done)
	l.wg.Wait()
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
