// Package ratelimit enforces fixed-window request limits keyed by
// (endpoint class, principal). The principal is the authenticated DID
// when available, otherwise the client IP.
package ratelimit

import (
	"sync"
	"time"
)

// garbageCollectInterval controls how often idle buckets are swept.
const garbageCollectInterval = time.Minute

// Limit describes one endpoint class's budget: at most Requests per
// Window per principal.
type Limit struct {
	Requests int
	Window   time.Duration
}

// Decision is the outcome of one Allow call, carrying everything the
// HTTP layer needs for X-RateLimit-* and Retry-After headers.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
	// RetryAfter is how long until the window resets. Meaningful only
	// when Allowed is false.
	RetryAfter time.Duration
}

// Limiter tracks fixed windows per (endpoint, principal) pair.
type Limiter struct {
	mu       sync.Mutex
	limits   map[string]Limit
	fallback Limit
	buckets  map[bucketKey]*bucket

	stopOnce sync.Once
	stopCh   chan struct{}
}

type bucketKey struct {
	endpoint  string
	principal string
}

type bucket struct {
	count       int
	windowStart time.Time
}

// New creates a limiter with per-endpoint limits and a fallback for
// endpoints not listed. A background goroutine sweeps idle buckets; call
// Close to stop it.
func New(limits map[string]Limit, fallback Limit) *Limiter {
	l := &Limiter{
		limits:   limits,
		fallback: fallback,
		buckets:  make(map[bucketKey]*bucket),
		stopCh:   make(chan struct{}),
	}
	go l.garbageCollectLoop()
	return l
}

// limitFor returns the configured limit for the endpoint class.
func (l *Limiter) limitFor(endpoint string) Limit {
	if limit, ok := l.limits[endpoint]; ok {
		return limit
	}
	return l.fallback
}

// Allow records one request against the (endpoint, principal) window and
// reports whether it fits the budget.
func (l *Limiter) Allow(endpoint, principal string) Decision {
	return l.allowAt(endpoint, principal, time.Now())
}

func (l *Limiter) allowAt(endpoint, principal string, now time.Time) Decision {
	limit := l.limitFor(endpoint)
	key := bucketKey{endpoint: endpoint, principal: principal}

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok || now.Sub(b.windowStart) >= limit.Window {
		b = &bucket{windowStart: now}
		l.buckets[key] = b
	}

	resetAt := b.windowStart.Add(limit.Window)
	if b.count >= limit.Requests {
		return Decision{
			Allowed:    false,
			Limit:      limit.Requests,
			Remaining:  0,
			ResetAt:    resetAt,
			RetryAfter: resetAt.Sub(now),
		}
	}

	b.count++
	return Decision{
		Allowed:   true,
		Limit:     limit.Requests,
		Remaining: limit.Requests - b.count,
		ResetAt:   resetAt,
	}
}

// garbageCollectLoop periodically drops buckets whose window has long
// passed, bounding memory under churning principals.
func (l *Limiter) garbageCollectLoop() {
	ticker := time.NewTicker(garbageCollectInterval)
	defer ticker.Stop()
	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			l.garbageCollect(time.Now())
		}
	}
}

func (l *Limiter) garbageCollect(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, b := range l.buckets {
		window := l.limitFor(key.endpoint).Window
		if now.Sub(b.windowStart) >= 2*window {
			delete(l.buckets, key)
		}
	}
}

// Close stops the background sweeper.
func (l *Limiter) Close() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}
