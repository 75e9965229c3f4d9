package engine

import (
	"sync"
	"time"

	"github.com/rendis/orgimpact/pkg/schema"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // calls flow
	CircuitOpen                         // calls rejected until cooldown
	CircuitHalfOpen                     // probing recovery
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig configures the circuit breaker behavior.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the circuit.
	FailureThreshold int
	// Cooldown is how long the circuit stays open before probing.
	Cooldown time.Duration
	// HalfOpenMax is the number of probe calls allowed while half-open.
	HalfOpenMax int
}

// DefaultCircuitBreakerConfig returns the configuration used when none is given.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
		HalfOpenMax:      1,
	}
}

// BreakerStats is a diagnostic snapshot of one breaker.
type BreakerStats struct {
	Key                 string `json:"key"`
	State               string `json:"state"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
	FailureThreshold    int    `json:"failure_threshold"`
	Cooldown            string `json:"cooldown"`
}

type circuitBreaker struct {
	mu                  sync.Mutex
	state               CircuitState
	consecutiveFailures int
	lastFailure         time.Time
	halfOpenAttempts    int
}

// CircuitBreakerRegistry keeps one breaker per generator endpoint so a failing
// generator stops consuming run attempts.
type CircuitBreakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]*circuitBreaker
	config   CircuitBreakerConfig
	now      func() time.Time
}

// NewCircuitBreakerRegistry creates a registry with the given config.
func NewCircuitBreakerRegistry(config CircuitBreakerConfig) *CircuitBreakerRegistry {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultCircuitBreakerConfig().FailureThreshold
	}
	if config.HalfOpenMax <= 0 {
		config.HalfOpenMax = 1
	}
	return &CircuitBreakerRegistry{
		breakers: make(map[string]*circuitBreaker),
		config:   config,
		now:      time.Now,
	}
}

// Allow returns nil when a call to key may proceed, or a CIRCUIT_OPEN error.
func (r *CircuitBreakerRegistry) Allow(key string) error {
	cb := r.get(key)
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitOpen:
		elapsed := r.now().Sub(cb.lastFailure)
		if elapsed >= r.config.Cooldown {
			cb.state = CircuitHalfOpen
			cb.halfOpenAttempts = 1
			return nil
		}
		return schema.NewErrorf(schema.ErrCodeCircuitOpen,
			"generator %q unavailable after %d consecutive failures", key, cb.consecutiveFailures).
			WithDetails(map[string]any{
				"generator":          key,
				"retry_after":        (r.config.Cooldown - elapsed).Round(time.Second).String(),
				"consecutive_errors": cb.consecutiveFailures,
			})
	case CircuitHalfOpen:
		if cb.halfOpenAttempts >= r.config.HalfOpenMax {
			return schema.NewErrorf(schema.ErrCodeCircuitOpen,
				"generator %q is recovering, probe already in flight", key)
		}
		cb.halfOpenAttempts++
	}
	return nil
}

// RecordSuccess closes the circuit for key. It returns the state before the
// call so callers can tell when a circuit recovered.
func (r *CircuitBreakerRegistry) RecordSuccess(key string) CircuitState {
	cb := r.get(key)
	cb.mu.Lock()
	defer cb.mu.Unlock()

	prev := cb.state
	cb.consecutiveFailures = 0
	cb.halfOpenAttempts = 0
	cb.state = CircuitClosed
	return prev
}

// RecordFailure counts a failed call and returns the resulting state.
// Any failure while half-open reopens the circuit.
func (r *CircuitBreakerRegistry) RecordFailure(key string) CircuitState {
	cb := r.get(key)
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures++
	cb.lastFailure = r.now()
	if cb.state == CircuitHalfOpen || cb.consecutiveFailures >= r.config.FailureThreshold {
		cb.state = CircuitOpen
	}
	return cb.state
}

// State returns the current state for key, moving open circuits whose cooldown
// has elapsed to half-open.
func (r *CircuitBreakerRegistry) State(key string) CircuitState {
	cb := r.get(key)
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitOpen && r.now().Sub(cb.lastFailure) >= r.config.Cooldown {
		cb.state = CircuitHalfOpen
		cb.halfOpenAttempts = 0
	}
	return cb.state
}

// Stats returns a diagnostic snapshot for key.
func (r *CircuitBreakerRegistry) Stats(key string) BreakerStats {
	cb := r.get(key)
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return BreakerStats{
		Key:                 key,
		State:               cb.state.String(),
		ConsecutiveFailures: cb.consecutiveFailures,
		FailureThreshold:    r.config.FailureThreshold,
		Cooldown:            r.config.Cooldown.String(),
	}
}

func (r *CircuitBreakerRegistry) get(key string) *circuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	cb, ok := r.breakers[key]
	if !ok {
		cb = &circuitBreaker{state: CircuitClosed}
		r.breakers[key] = cb
	}
	return cb
}
