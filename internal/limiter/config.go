package limiter

import (
	"fmt"
	"sync"
)

// FailurePolicy decides the outcome when the counter store is unreachable.
type FailurePolicy string

const (
	// FailOpen lets traffic through when the store is unavailable.
	FailOpen FailurePolicy = "allow"
	// FailClosed denies traffic when the store is unavailable.
	FailClosed FailurePolicy = "deny"
)

// LimitPolicy holds the base limits and failure behavior for one limit type.
type LimitPolicy struct {
	Minute int64
	Hour   int64
	Day    int64
	// OnStoreUnavailable picks fail-open or fail-closed for this limit type.
	OnStoreUnavailable FailurePolicy
}

// BaseLimit returns the unadjusted limit for a window.
func (p LimitPolicy) BaseLimit(window Window) int64 {
	switch window {
	case WindowMinute:
		return p.Minute
	case WindowHour:
		return p.Hour
	case WindowDay:
		return p.Day
	default:
		return 0
	}
}

// Validate checks that every window has a positive base limit.
func (p LimitPolicy) Validate() error {
	for _, w := range Windows {
		if p.BaseLimit(w) <= 0 {
			return fmt.Errorf("base %s limit must be positive, got %d", w, p.BaseLimit(w))
		}
	}
	switch p.OnStoreUnavailable {
	case FailOpen, FailClosed, "":
	default:
		return fmt.Errorf("unknown failure policy %q", p.OnStoreUnavailable)
	}
	return nil
}

// Policies maps limit types to their policies and answers lookups with a
// default for unknown types. It is safe for concurrent use; the config
// watcher replaces the set at runtime.
type Policies struct {
	mu       sync.RWMutex
	byType   map[string]LimitPolicy
	fallback LimitPolicy
}

// DefaultPolicies returns the policy set used when no configuration is given.
// Security-sensitive limit types fail closed, everything else fails open.
func DefaultPolicies() *Policies {
	return NewPolicies(map[string]LimitPolicy{
		LimitTypeAuthentication: {Minute: 5, Hour: 30, Day: 100, OnStoreUnavailable: FailClosed},
		LimitTypePasswordReset:  {Minute: 3, Hour: 10, Day: 20, OnStoreUnavailable: FailClosed},
		LimitTypeAPICalls:       {Minute: 60, Hour: 1000, Day: 10000, OnStoreUnavailable: FailOpen},
	}, LimitPolicy{Minute: 30, Hour: 500, Day: 5000, OnStoreUnavailable: FailOpen})
}

// NewPolicies builds a policy set from explicit entries plus a fallback for
// limit types with no entry of their own.
func NewPolicies(byType map[string]LimitPolicy, fallback LimitPolicy) *Policies {
	copied := make(map[string]LimitPolicy, len(byType))
	for k, v := range byType {
		copied[k] = v
	}
	return &Policies{byType: copied, fallback: fallback}
}

// For returns the policy for a limit type.
func (p *Policies) For(limitType string) LimitPolicy {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if policy, ok := p.byType[limitType]; ok {
		return policy
	}
	return p.fallback
}

// Replace swaps in a new policy set. Used by config hot reload.
func (p *Policies) Replace(byType map[string]LimitPolicy, fallback LimitPolicy) {
	copied := make(map[string]LimitPolicy, len(byType))
	for k, v := range byType {
		copied[k] = v
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.byType = copied
	p.fallback = fallback
}

// Validate checks every policy including the fallback.
func (p *Policies) Validate() error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for limitType, policy := range p.byType {
		if err := policy.Validate(); err != nil {
			return fmt.Errorf("limit type %q: %w", limitType, err)
		}
	}
	if err := p.fallback.Validate(); err != nil {
		return fmt.Errorf("default policy: %w", err)
	}
	return nil
}
