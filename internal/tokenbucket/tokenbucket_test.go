package tokenbucket

import (
	"testing"
	"time"
)

func TestBucketRefillAndConsume(t *testing.T) {
	start := time.Now()
	b := NewBucket(2, 1) // capacity 2, refills 1/sec

	if !b.AllowN(start, 1) {
		t.Fatal("first token should be available")
	}
	if !b.AllowN(start, 1) {
		t.Fatal("second token should be available")
	}
	if b.AllowN(start, 1) {
		t.Fatal("bucket should be empty")
	}

	later := start.Add(1500 * time.Millisecond)
	if !b.AllowN(later, 1) {
		t.Fatal("expected a token to have refilled after 1.5s")
	}
}

func TestRegistryIsolatesKeys(t *testing.T) {
	r := NewRegistry(1, 0)
	if !r.Allow("a") {
		t.Fatal("key a should have its own token")
	}
	if !r.Allow("b") {
		t.Fatal("key b should have its own token, independent of a")
	}
	if r.Allow("a") {
		t.Fatal("key a should be exhausted")
	}
}
