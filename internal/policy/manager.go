package policy

import (
	"fmt"
	"sync/atomic"

	"minishield.tech/waf-core/internal/cclimiter"
	"minishield.tech/waf-core/internal/domainmatch"
)

// Manager owns the atomically-swapped policy State: the domain matcher,
// compiled policies, and cc_limiter are published together behind a single
// atomic pointer so a reader never observes a matcher compiled against one
// domain map and policies compiled against another. State is built off to
// the side and only then swapped in, so in-flight readers always see a
// fully-consistent snapshot.
type Manager struct {
	state atomic.Pointer[State]
}

// NewManager returns a Manager with no state loaded; callers must call
// Reload before Current returns anything useful.
func NewManager() *Manager {
	return &Manager{}
}

// Current returns the most recently published State, or nil if Reload has
// never succeeded.
func (m *Manager) Current() *State {
	return m.state.Load()
}

// Reload compiles the domain map and policies directory from scratch and
// publishes the result, carrying the previous State's CC limiter forward by
// identity: a fresh limiter on every reload would silently reset every
// client's rate-limit window and block state on every config change.
func (m *Manager) Reload(domainMapPath, policiesDir string) error {
	policies, err := LoadPoliciesDir(policiesDir)
	if err != nil {
		return fmt.Errorf("loading policies: %w", err)
	}
	if err := ValidateCompiledPolicies(policies); err != nil {
		return fmt.Errorf("validating policies: %w", err)
	}

	exact, wildcard, defaultPolicyID, err := LoadDomainMapFile(domainMapPath)
	if err != nil {
		return fmt.Errorf("loading domain map: %w", err)
	}

	known := make(map[string]bool, len(policies))
	for id := range policies {
		known[id] = true
	}
	matcher, err := domainmatch.Build(exact, wildcard, defaultPolicyID, known)
	if err != nil {
		return fmt.Errorf("building domain matcher: %w", err)
	}

	limiter := m.limiterOrNew()

	m.state.Store(&State{
		Matcher:  matcher,
		Policies: policies,
		Limiter:  limiter,
	})
	return nil
}

// limiterOrNew returns the currently published limiter, or a fresh one if
// this is the first load.
func (m *Manager) limiterOrNew() *cclimiter.Limiter {
	if s := m.state.Load(); s != nil && s.Limiter != nil {
		return s.Limiter
	}
	return cclimiter.New()
}
