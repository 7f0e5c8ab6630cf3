package rate

import (
	"math"
	"sync"
	"time"
)

type bucket struct {
	tokens float64
	last   time.Time
}

// Guard enforces a Policy per key with one token bucket each.
type Guard struct {
	policy Policy
	mu     sync.Mutex
	// buckets is mutated under mu
	buckets map[string]*bucket
}

func NewGuard(policy Policy) *Guard {
	return &Guard{
		policy:  policy,
		buckets: make(map[string]*bucket),
	}
}

func (g *Guard) Policy() Policy {
	return g.policy
}

// ShouldCall consumes a token for key when one is available.
func (g *Guard) ShouldCall(key string, now time.Time) Decision {
	if !g.policy.Enabled() {
		return Decision{Allowed: true}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	b, ok := g.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(g.policy.Capacity()), last: now}
		g.buckets[key] = b
		trackedKeys.WithLabelValues(g.policy.Name()).Set(float64(len(g.buckets)))
	}
	if consumeToken(b, g.policy.Capacity(), g.policy.Interval(), now) {
		allowedTotal.WithLabelValues(g.policy.Name()).Inc()
		return Decision{Allowed: true}
	}
	throttledTotal.WithLabelValues(g.policy.Name()).Inc()
	missing := 1 - b.tokens
	retryAt := now.Add(time.Duration(math.Round(missing * float64(g.policy.Interval()))))
	return Decision{Allowed: false, Reason: "min_interval", RetryAt: retryAt}
}

// Check is ShouldCall that returns a ThrottledError when blocked.
func (g *Guard) Check(key string, now time.Time) error {
	d := g.ShouldCall(key, now)
	if d.Allowed {
		return nil
	}
	return ThrottledError{Key: key, Reason: d.Reason, RetryAt: d.RetryAt}
}

// Forget drops state for keys not seen since before cutoff.
func (g *Guard) Forget(cutoff time.Time) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	removed := 0
	for key, b := range g.buckets {
		if b.last.Before(cutoff) {
			delete(g.buckets, key)
			removed++
		}
	}
	trackedKeys.WithLabelValues(g.policy.Name()).Set(float64(len(g.buckets)))
	return removed
}

func consumeToken(b *bucket, capacity int, interval time.Duration, now time.Time) bool {
	if elapsed := now.Sub(b.last); elapsed > 0 {
		b.tokens = minFloat(float64(capacity), b.tokens+elapsed.Seconds()/interval.Seconds())
		b.last = now
	}
	if b.tokens >= 1 {
		b.tokens -= 1
		return true
	}
	return false
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
