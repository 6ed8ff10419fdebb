// Package tokenbucket is a small auxiliary refill/consume primitive with a
// smoother admission curve than the CC limiter's hard window. No other
// package in this module uses it.
package tokenbucket

import (
	"sync"
	"time"
)

// Bucket is a single token bucket: capacity tokens, refilled continuously
// at rate tokens/sec, consumed one at a time by Allow.
type Bucket struct {
	mu         sync.Mutex
	capacity   float64
	tokens     float64
	refillRate float64 // tokens per second
	updatedAt  time.Time
}

// NewBucket creates a bucket starting full.
func NewBucket(capacity, refillPerSecond float64) *Bucket {
	return &Bucket{
		capacity:   capacity,
		tokens:     capacity,
		refillRate: refillPerSecond,
		updatedAt:  time.Now(),
	}
}

// Allow consumes one token if available and reports whether it did.
func (b *Bucket) Allow() bool {
	return b.AllowN(time.Now(), 1)
}

// AllowN consumes n tokens at the given instant (injectable for tests).
func (b *Bucket) AllowN(now time.Time, n float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	elapsed := now.Sub(b.updatedAt).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * b.refillRate
		if b.tokens > b.capacity {
			b.tokens = b.capacity
		}
		b.updatedAt = now
	}

	if b.tokens < n {
		return false
	}
	b.tokens -= n
	return true
}

// Registry keys independent buckets by an arbitrary string, the way the CC
// limiter keys its windows by rule+key.
type Registry struct {
	mu       sync.Mutex
	buckets  map[string]*Bucket
	capacity float64
	rate     float64
}

// NewRegistry builds a Registry whose buckets all share the same
// capacity/refill-rate parameters.
func NewRegistry(capacity, refillPerSecond float64) *Registry {
	return &Registry{
		buckets:  make(map[string]*Bucket),
		capacity: capacity,
		rate:     refillPerSecond,
	}
}

// Allow consumes one token from the bucket for key, creating it on first use.
func (r *Registry) Allow(key string) bool {
	r.mu.Lock()
	b, ok := r.buckets[key]
	if !ok {
		b = NewBucket(r.capacity, r.rate)
		r.buckets[key] = b
	}
	r.mu.Unlock()
	return b.Allow()
}
