package publisher

import (
	"sync"
	"time"
)

// CircuitBreaker stops the publisher from hammering a failing audit store.
// While open, entries skip the store and go straight to the fallback channel.
type CircuitBreaker struct {
	mu  sync.Mutex
	now func() time.Time

	threshold int           // consecutive failures to open
	cooldown  time.Duration // how long to stay open

	failures  int
	openUntil time.Time
	isOpen    bool
}

// NewCircuitBreaker creates a circuit breaker. Non-positive arguments fall
// back to 5 failures and a one minute cooldown.
func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = time.Minute
	}
	return &CircuitBreaker{
		now:       time.Now,
		threshold: threshold,
		cooldown:  cooldown,
	}
}

// Allow reports whether a store write may be attempted. After the cooldown
// the circuit half-opens: the next attempt decides whether it closes again.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if !cb.isOpen {
		return true
	}
	if cb.now().After(cb.openUntil) {
		cb.isOpen = false
		cb.failures = cb.threshold - 1
		return true
	}
	return false
}

func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.isOpen = false
}

// RecordFailure counts a failed write and reports whether the circuit is
// now open.
func (cb *CircuitBreaker) RecordFailure() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	if cb.failures >= cb.threshold {
		cb.isOpen = true
		cb.openUntil = cb.now().Add(cb.cooldown)
	}
	return cb.isOpen
}

func (cb *CircuitBreaker) IsOpen() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.isOpen
}

func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.isOpen = false
}
