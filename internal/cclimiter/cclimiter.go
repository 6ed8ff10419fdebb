// Package cclimiter implements the CC (request-rate) limiter: a windowed
// counter with a timed block, keyed by rule id plus an arbitrary key body.
//
// The table is sharded the way a production concurrent map is, so that a
// read-modify-write on one key never blocks callers touching a different
// shard. Entry identity is preserved across a Limiter's lifetime -- a
// policy reload is expected to carry the same *Limiter forward by
// reference rather than rebuild it, so in-flight windows and blocks
// survive config changes.
package cclimiter

import (
	"fmt"
	"hash/fnv"
	"sync"
	"time"
)

const numShards = 32

// Params configures one CC rule's evaluation. All fields are clamped to a
// minimum of 1 by Check.
type Params struct {
	WindowSecs    int
	MaxRequests   int
	BlockSecs     int
}

// Hit describes a triggered limiter, carrying the reason text callers
// should surface verbatim.
type Hit struct {
	Reason string
}

type entry struct {
	windowStart time.Time
	count       int
	blockedUntil time.Time // zero value means "not blocked"
	lastSeen    time.Time
}

type shard struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// Limiter is the concurrent (rule_id, key_body) -> entry table.
type Limiter struct {
	shards [numShards]*shard
}

// New builds an empty Limiter.
func New() *Limiter {
	l := &Limiter{}
	for i := range l.shards {
		l.shards[i] = &shard{entries: make(map[string]*entry)}
	}
	return l
}

func key(ruleID, keyBody string) string {
	return "rule=" + ruleID + "|" + keyBody
}

func (l *Limiter) shardFor(k string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(k))
	return l.shards[h.Sum32()%numShards]
}

func clampMin1(n int) int {
	if n < 1 {
		return 1
	}
	return n
}

// Check runs one evaluation of the rate-limit state machine against the
// entry for (ruleID, keyBody), using time.Now() as the current instant.
// Tests inject a clock through CheckAt instead.
func (l *Limiter) Check(ruleID, keyBody string, p Params) *Hit {
	return l.CheckAt(time.Now(), ruleID, keyBody, p)
}

// CheckAt is Check with an explicit "now", used by tests.
func (l *Limiter) CheckAt(now time.Time, ruleID, keyBody string, p Params) *Hit {
	window := time.Duration(clampMin1(p.WindowSecs)) * time.Second
	maxReq := clampMin1(p.MaxRequests)
	blockDur := time.Duration(clampMin1(p.BlockSecs)) * time.Second

	k := key(ruleID, keyBody)
	sh := l.shardFor(k)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.entries[k]
	if !ok {
		e = &entry{windowStart: now}
		sh.entries[k] = e
	}

	// 1. Still inside a timed block: hit, no counter mutation.
	if !e.blockedUntil.IsZero() && now.Before(e.blockedUntil) {
		e.lastSeen = now
		return &Hit{Reason: fmt.Sprintf("cc blocked: %s", ruleID)}
	}

	// 2. Block just expired: clear it and restart the window.
	if !e.blockedUntil.IsZero() && !now.Before(e.blockedUntil) {
		e.blockedUntil = time.Time{}
		e.windowStart = now
		e.count = 0
	}

	// 3. Window expired: restart it.
	if now.Sub(e.windowStart) >= window {
		e.windowStart = now
		e.count = 0
	}

	// 4. Increment and check the threshold.
	e.count++
	e.lastSeen = now

	if e.count > maxReq {
		e.blockedUntil = now.Add(blockDur)
		return &Hit{Reason: fmt.Sprintf("cc exceeded %d req/%ds on %s", maxReq, p.WindowSecs, ruleID)}
	}

	return nil
}

// Prune removes entries whose last activity is older than olderThan,
// across all shards. Intended to run on a periodic background tick so the
// table doesn't grow unbounded under a large, churning client population.
func (l *Limiter) Prune(olderThan time.Time) int {
	removed := 0
	for _, sh := range l.shards {
		sh.mu.Lock()
		for k, e := range sh.entries {
			if e.lastSeen.Before(olderThan) {
				delete(sh.entries, k)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

// Len reports the total number of live entries, for tests and status
// reporting.
func (l *Limiter) Len() int {
	n := 0
	for _, sh := range l.shards {
		sh.mu.Lock()
		n += len(sh.entries)
		sh.mu.Unlock()
	}
	return n
}
