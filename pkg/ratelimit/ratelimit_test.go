package ratelimit

import (
	"testing"
	"time"
)

func testLimiter() *Limiter {
	l := New(map[string]Limit{
		"send": {Requests: 3, Window: time.Minute},
	}, Limit{Requests: 2, Window: time.Minute})
	l.Close() // tests drive the clock themselves
	return l
}

func TestAllow(t *testing.T) {
	t.Run("budget enforced per window", func(t *testing.T) {
		l := testLimiter()
		now := time.Now()

		for i := 0; i < 3; i++ {
			d := l.allowAt("send", "did:phone:abc", now)
			if !d.Allowed {
				t.Fatalf("request %d should be allowed", i+1)
			}
			if d.Remaining != 3-i-1 {
				t.Errorf("expected remaining %d, got %d", 3-i-1, d.Remaining)
			}
		}

		d := l.allowAt("send", "did:phone:abc", now)
		if d.Allowed {
			t.Error("fourth request should be rejected")
		}
		if d.RetryAfter <= 0 || d.RetryAfter > time.Minute {
			t.Errorf("unexpected RetryAfter %v", d.RetryAfter)
		}
	})

	t.Run("window resets", func(t *testing.T) {
		l := testLimiter()
		now := time.Now()

		for i := 0; i < 3; i++ {
			l.allowAt("send", "p", now)
		}
		if l.allowAt("send", "p", now).Allowed {
			t.Fatal("should be exhausted")
		}

		d := l.allowAt("send", "p", now.Add(time.Minute))
		if !d.Allowed {
			t.Error("request after window reset should be allowed")
		}
		if d.Remaining != 2 {
			t.Errorf("fresh window should have 2 remaining, got %d", d.Remaining)
		}
	})

	t.Run("principals are independent", func(t *testing.T) {
		l := testLimiter()
		now := time.Now()

		for i := 0; i < 3; i++ {
			l.allowAt("send", "alice", now)
		}
		if !l.allowAt("send", "bob", now).Allowed {
			t.Error("bob must not be throttled by alice's traffic")
		}
	})

	t.Run("endpoints are independent", func(t *testing.T) {
		l := testLimiter()
		now := time.Now()

		for i := 0; i < 3; i++ {
			l.allowAt("send", "p", now)
		}
		if !l.allowAt("inbox", "p", now).Allowed {
			t.Error("other endpoint class must have its own budget")
		}
	})

	t.Run("fallback limit applies to unknown endpoints", func(t *testing.T) {
		l := testLimiter()
		now := time.Now()

		d := l.allowAt("unknown", "p", now)
		if d.Limit != 2 {
			t.Errorf("expected fallback limit 2, got %d", d.Limit)
		}
	})
}

func TestGarbageCollect(t *testing.T) {
	l := testLimiter()
	now := time.Now()

	l.allowAt("send", "stale", now)
	l.allowAt("send", "fresh", now.Add(90*time.Second))

	l.garbageCollect(now.Add(2 * time.Minute))

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.buckets[bucketKey{"send", "stale"}]; ok {
		t.Error("stale bucket survived garbage collection")
	}
	if _, ok := l.buckets[bucketKey{"send", "fresh"}]; !ok {
		t.Error("fresh bucket was swept")
	}
}
