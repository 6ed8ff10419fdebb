package cclimiter

import (
	"strings"
	"testing"
	"time"
)

func TestCheckAtBlocksOverLimitThenResetsAfterBlockExpiry(t *testing.T) {
	l := New()
	p := Params{WindowSecs: 1, MaxRequests: 3, BlockSecs: 10}
	start := time.Now()

	// Five requests within 500ms: first three allow, 4th and 5th block.
	for i := 0; i < 3; i++ {
		if hit := l.CheckAt(start, "r1", "1.2.3.4", p); hit != nil {
			t.Fatalf("request %d should be allowed, got hit %q", i+1, hit.Reason)
		}
	}
	hit4 := l.CheckAt(start.Add(100*time.Millisecond), "r1", "1.2.3.4", p)
	if hit4 == nil || !strings.Contains(hit4.Reason, "cc exceeded 3 req/1s") {
		t.Fatalf("4th request should block with exceeded reason, got %+v", hit4)
	}
	hit5 := l.CheckAt(start.Add(200*time.Millisecond), "r1", "1.2.3.4", p)
	if hit5 == nil {
		t.Fatal("5th request should also block")
	}

	// 5s later, still within the 10s block window.
	hit6 := l.CheckAt(start.Add(5*time.Second), "r1", "1.2.3.4", p)
	if hit6 == nil || !strings.HasPrefix(hit6.Reason, "cc blocked:") {
		t.Fatalf("6th request should be blocked-reason, got %+v", hit6)
	}

	// 11s later, block has expired and the window resets.
	hit11 := l.CheckAt(start.Add(11*time.Second), "r1", "1.2.3.4", p)
	if hit11 != nil {
		t.Fatalf("after block expiry, request should allow, got %+v", hit11)
	}
}

func TestMonotonicityNoCounterMutationWhileBlocked(t *testing.T) {
	l := New()
	p := Params{WindowSecs: 1, MaxRequests: 1, BlockSecs: 5}
	now := time.Now()

	if hit := l.CheckAt(now, "r", "k", p); hit != nil {
		t.Fatal("first request should be allowed")
	}
	hit := l.CheckAt(now.Add(10*time.Millisecond), "r", "k", p)
	if hit == nil {
		t.Fatal("second request should exceed and block")
	}

	for i := 0; i < 5; i++ {
		h := l.CheckAt(now.Add(time.Duration(20+i)*time.Millisecond), "r", "k", p)
		if h == nil || !strings.HasPrefix(h.Reason, "cc blocked:") {
			t.Fatalf("call %d while blocked should report blocked without incrementing", i)
		}
	}
}

func TestParamsClampedToMinimumOne(t *testing.T) {
	l := New()
	p := Params{WindowSecs: 0, MaxRequests: 0, BlockSecs: 0}
	now := time.Now()
	// max_requests clamps to 1, so the very first call is already count==1,
	// not exceeding; the second call exceeds.
	if hit := l.CheckAt(now, "r", "k", p); hit != nil {
		t.Fatalf("first call with clamped params should allow, got %+v", hit)
	}
	if hit := l.CheckAt(now, "r", "k", p); hit == nil {
		t.Fatal("second call should exceed the clamped max of 1")
	}
}

func TestPrune(t *testing.T) {
	l := New()
	now := time.Now()
	l.CheckAt(now, "r", "stale", Params{WindowSecs: 60, MaxRequests: 10, BlockSecs: 10})
	l.CheckAt(now, "r", "fresh", Params{WindowSecs: 60, MaxRequests: 10, BlockSecs: 10})

	removed := l.Prune(now.Add(-time.Minute))
	if removed != 0 {
		t.Fatalf("nothing should be pruned yet, removed=%d", removed)
	}

	removed = l.Prune(now.Add(time.Second))
	if removed != 2 {
		t.Fatalf("both entries should be pruned, removed=%d", removed)
	}
	if l.Len() != 0 {
		t.Fatalf("expected empty table after prune, len=%d", l.Len())
	}
}
