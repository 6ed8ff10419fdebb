// Package scanner implements the streaming body scanner: a per-request,
// per-chunk tail-retention algorithm that lets deferred WAF body rules be
// evaluated without ever buffering a whole request or response body in
// order to check it, avoiding the unbounded-memory/latency cost of
// reading an entire body before running any rule.
package scanner

import (
	"minishield.tech/waf-core/internal/waf"
)

// State is the mutable per-request (or per-response) scanning state
// threaded across chunk calls. Its zero value is ready to use. A request
// and its response use independent States, since each carries its own
// deferred rule list and tail.
type State struct {
	tail []byte
}

// Result is the outcome of scanning one chunk.
type Result struct {
	Blocked bool
	RuleID  string
	Status  int
	Reason  string
}

// Feed runs one chunk through the deferred rule set: form window = tail ||
// chunk, check every deferred rule's body matcher against window, and on a
// miss retain the last body_keep_len bytes of window as the new tail.
//
// On a match (Result.Blocked), the caller must suppress the chunk, emit
// the rule's action as a terminal decision, and stop calling Feed for this
// request/response -- the streaming-boundary invariant only guarantees
// detecting a straddling match once, not that scanning remains meaningful
// after the exchange has already been terminated.
func (s *State) Feed(ruleset []waf.Rule, deferredIdx []int, chunk []byte) Result {
	if len(deferredIdx) == 0 {
		return Result{}
	}

	window := make([]byte, 0, len(s.tail)+len(chunk))
	window = append(window, s.tail...)
	window = append(window, chunk...)

	for _, idx := range deferredIdx {
		rule := ruleset[idx]
		if rule.BodyMatcher == nil || rule.BodyMatcher.Empty() {
			continue
		}
		if rule.BodyMatcher.IsMatch(window) {
			return Result{Blocked: true, RuleID: rule.ID, Status: rule.Status, Reason: rule.Reason}
		}
	}

	keep := maxKeepLen(ruleset, deferredIdx)
	s.tail = tailBytes(window, keep)
	return Result{}
}

func maxKeepLen(ruleset []waf.Rule, deferredIdx []int) int {
	max := 0
	for _, idx := range deferredIdx {
		if n := ruleset[idx].BodyKeepLen(); n > max {
			max = n
		}
	}
	return max
}

func tailBytes(window []byte, keep int) []byte {
	if keep <= 0 {
		return nil
	}
	if len(window) <= keep {
		out := make([]byte, len(window))
		copy(out, window)
		return out
	}
	out := make([]byte, keep)
	copy(out, window[len(window)-keep:])
	return out
}
