package circuitbreaker

import (
	"log/slog"
	"sync"
	"time"
)

// Registry manages named circuit breakers and creates them on first use.
// It satisfies the limiter's BreakerTripper interface.
type Registry struct {
	config Config
	logger *slog.Logger

	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
}

// NewRegistry creates a registry whose breakers start from config
func NewRegistry(config Config, logger *slog.Logger) *Registry {
	return &Registry{
		config:   config,
		logger:   logger.With("component", "circuit-breakers"),
		breakers: make(map[string]*CircuitBreaker),
	}
}

// Trip opens the named breaker, creating it if needed
func (r *Registry) Trip(name string, failureThreshold float64, recoveryTimeout time.Duration) {
	breaker := r.get(name)
	breaker.Trip(failureThreshold, recoveryTimeout)
	r.logger.Warn("circuit breaker tripped",
		"breaker", name,
		"recovery_timeout", recoveryTimeout,
	)
}

// IsOpen reports whether the named breaker is currently open
func (r *Registry) IsOpen(name string) bool {
	r.mu.RLock()
	breaker, ok := r.breakers[name]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	return breaker.State() == StateOpen
}

// Allow checks the named breaker; an unknown breaker allows everything
func (r *Registry) Allow(name string) bool {
	r.mu.RLock()
	breaker, ok := r.breakers[name]
	r.mu.RUnlock()
	if !ok {
		return true
	}
	return breaker.Allow()
}

// Breaker returns the named breaker, creating it if needed
func (r *Registry) Breaker(name string) *CircuitBreaker {
	return r.get(name)
}

// Reset closes the named breaker
func (r *Registry) Reset(name string) {
	r.mu.RLock()
	breaker, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		breaker.Reset()
		r.logger.Info("circuit breaker reset", "breaker", name)
	}
}

// Stats returns statistics for every known breaker
func (r *Registry) Stats() map[string]Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := make(map[string]Stats, len(r.breakers))
	for name, breaker := range r.breakers {
		stats[name] = breaker.Stats()
	}
	return stats
}

func (r *Registry) get(name string) *CircuitBreaker {
	r.mu.RLock()
	breaker, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return breaker
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if breaker, ok = r.breakers[name]; ok {
		return breaker
	}
	breaker = New(r.config)
	r.breakers[name] = breaker
	return breaker
}
