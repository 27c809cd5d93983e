// Package ratelimit implements a per-identifier sliding-window request
// counter. State is in-memory and single-process: it is advisory, provides
// no cross-replica guarantee, and resets on restart.
package ratelimit

import (
	"sync"
	"time"
)

const (
	// DefaultWindow is the trailing window requests are counted over.
	DefaultWindow = 60 * time.Second
	// sweepInterval bounds how often the opportunistic full sweep runs.
	sweepInterval = 60 * time.Second
)

// Limiter tracks request timestamps per identifier (client address or
// credential-qualified key). All access is serialized by one mutex; every
// critical section is bounded bookkeeping over in-memory slices.
type Limiter struct {
	mu        sync.Mutex
	buckets   map[string][]time.Time
	lastSweep time.Time

	now func() time.Time // injectable for tests
}

func New() *Limiter {
	return &Limiter{
		buckets:   make(map[string][]time.Time),
		lastSweep: time.Now(),
		now:       time.Now,
	}
}

// Check prunes the identifier's window, then either denies (reporting when
// the window next admits a request) or records the request and allows it.
//
// On deny, reset is the timestamp of the oldest retained request plus the
// window; on allow it is now plus the window. Reset is reported in epoch
// seconds to match the X-RateLimit-Reset header convention.
func (l *Limiter) Check(identifier string, limit int, window time.Duration) (allowed bool, remaining int, reset int64) {
	if window <= 0 {
		window = DefaultWindow
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweepLocked(now)

	cutoff := now.Add(-window)
	requests := l.buckets[identifier]
	kept := requests[:0]
	for _, ts := range requests {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= limit {
		l.buckets[identifier] = kept
		return false, 0, kept[0].Add(window).Unix()
	}

	kept = append(kept, now)
	l.buckets[identifier] = kept

	remaining = limit - len(kept)
	if remaining < 0 {
		remaining = 0
	}
	return true, remaining, now.Add(window).Unix()
}

// Sweep drops empty and fully expired buckets. It is called opportunistically
// from Check (at most once per sweepInterval) and periodically by the
// server's background sweeper thread.
func (l *Limiter) Sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastSweep = time.Time{}
	l.sweepLocked(l.now())
}

func (l *Limiter) sweepLocked(now time.Time) {
	if now.Sub(l.lastSweep) < sweepInterval {
		return
	}
	cutoff := now.Add(-DefaultWindow)
	for id, requests := range l.buckets {
		kept := requests[:0]
		for _, ts := range requests {
			if ts.After(cutoff) {
				kept = append(kept, ts)
			}
		}
		if len(kept) == 0 {
			delete(l.buckets, id)
			continue
		}
		l.buckets[id] = kept
	}
	l.lastSweep = now
}
