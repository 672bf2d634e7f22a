package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

// State represents the state of the circuit breaker
type State int

const (
	// StateClosed allows requests to pass through
	StateClosed State = iota
	// StateOpen blocks all requests
	StateOpen
	// StateHalfOpen allows limited requests to test if load has subsided
	StateHalfOpen
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config holds circuit breaker configuration
type Config struct {
	// FailureThreshold is the failure ratio that opened the breaker; kept
	// for reporting
	FailureThreshold float64
	// RecoveryTimeout is the duration of the open state before half-open
	RecoveryTimeout time.Duration
	// MaxRequests is the number of probe requests allowed in half-open state
	MaxRequests int
	// OnStateChange is called when the state changes
	OnStateChange func(from, to State)
}

// DefaultConfig returns a default configuration
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 0.5,
		RecoveryTimeout:  30 * time.Second,
		MaxRequests:      1,
	}
}

// CircuitBreaker implements the circuit breaker pattern. Unlike a
// failure-counting breaker, it is opened externally via Trip; the rate
// limiter's denial-rate trigger decides when that happens.
type CircuitBreaker struct {
	config Config

	mu              sync.RWMutex
	state           State
	requests        int
	halfOpenSuccess int
	lastStateChange time.Time
	trips           uint64
}

// New creates a new circuit breaker
func New(config Config) *CircuitBreaker {
	if config.FailureThreshold <= 0 || config.FailureThreshold > 1 {
		config.FailureThreshold = 0.5
	}
	if config.RecoveryTimeout <= 0 {
		config.RecoveryTimeout = 30 * time.Second
	}
	if config.MaxRequests <= 0 {
		config.MaxRequests = 1
	}

	return &CircuitBreaker{
		config:          config,
		state:           StateClosed,
		lastStateChange: time.Now(),
	}
}

// State returns the current state
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.updateState()
	return cb.state
}

// Trip forces the breaker open with a new recovery timeout
func (cb *CircuitBreaker) Trip(failureThreshold float64, recoveryTimeout time.Duration) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if failureThreshold > 0 && failureThreshold <= 1 {
		cb.config.FailureThreshold = failureThreshold
	}
	if recoveryTimeout > 0 {
		cb.config.RecoveryTimeout = recoveryTimeout
	}
	cb.trips++
	cb.changeState(StateOpen)
}

// Allow checks if a request is allowed to proceed
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.updateState()

	switch cb.state {
	case StateClosed:
		return true

	case StateOpen:
		return false

	case StateHalfOpen:
		if cb.requests < cb.config.MaxRequests {
			cb.requests++
			return true
		}
		return false

	default:
		return false
	}
}

// Success records a successful probe; in half-open state enough successes
// close the breaker
func (cb *CircuitBreaker) Success() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.updateState()

	if cb.state == StateHalfOpen {
		cb.halfOpenSuccess++
		if cb.halfOpenSuccess >= cb.config.MaxRequests {
			cb.changeState(StateClosed)
		}
	}
}

// Failure records a failed probe; in half-open state any failure reopens
// the breaker
func (cb *CircuitBreaker) Failure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.updateState()

	if cb.state == StateHalfOpen {
		cb.changeState(StateOpen)
	}
}

// Reset manually closes the circuit breaker
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.requests = 0
	cb.halfOpenSuccess = 0
	if cb.state != StateClosed {
		cb.changeState(StateClosed)
	}
}

// Stats returns current statistics
func (cb *CircuitBreaker) Stats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.updateState()

	return Stats{
		State:           cb.state,
		Trips:           cb.trips,
		LastStateChange: cb.lastStateChange,
		RecoveryTimeout: cb.config.RecoveryTimeout,
	}
}

// updateState moves an expired open state to half-open
func (cb *CircuitBreaker) updateState() {
	if cb.state == StateOpen {
		if time.Since(cb.lastStateChange) > cb.config.RecoveryTimeout {
			cb.changeState(StateHalfOpen)
		}
	}
}

// changeState changes the circuit breaker state
func (cb *CircuitBreaker) changeState(newState State) {
	if cb.state == newState {
		return
	}

	from := cb.state
	cb.state = newState
	cb.lastStateChange = time.Now()

	switch newState {
	case StateClosed, StateHalfOpen:
		cb.requests = 0
		cb.halfOpenSuccess = 0
	}

	if cb.config.OnStateChange != nil {
		// Call in goroutine to avoid blocking
		go cb.config.OnStateChange(from, newState)
	}
}

// Stats holds circuit breaker statistics
type Stats struct {
	State           State         `json:"state"`
	Trips           uint64        `json:"trips"`
	LastStateChange time.Time     `json:"lastStateChange"`
	RecoveryTimeout time.Duration `json:"recoveryTimeout"`
}

// Errors
var (
	// ErrCircuitOpen is returned when the circuit is open
	ErrCircuitOpen = errors.New("circuit breaker is open")
)
