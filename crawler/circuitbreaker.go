package crawler

import (
	"sync"
	"time"

	"github.com/MunishMummadi/web-scrapper/model"
)

// CircuitBreaker implements the per-host three-state circuit breaker:
// CLOSED while consecutive failures stay under the threshold, OPEN once
// they cross it, HALF_OPEN after the open duration elapses (permitting a
// single probing request), then back to CLOSED on success or OPEN on
// failure.
type CircuitBreaker struct {
	hosts            map[string]*hostCircuit
	mu               sync.Mutex
	failureThreshold int
	openDuration     time.Duration
}

// hostCircuit tracks the breaker state for a specific host
type hostCircuit struct {
	state               model.BreakerState
	consecutiveFailures int
	openedAt            time.Time
	probeInFlight       bool
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(failureThreshold int, openDuration time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		hosts:            make(map[string]*hostCircuit),
		failureThreshold: failureThreshold,
		openDuration:     openDuration,
	}
}

func (cb *CircuitBreaker) circuit(host string) *hostCircuit {
	circuit, exists := cb.hosts[host]
	if !exists {
		circuit = &hostCircuit{state: model.BreakerClosed}
		cb.hosts[host] = circuit
	}
	return circuit
}

// IsOpen reports whether requests to host are currently short-circuited.
// True only in OPEN with the cooldown not yet elapsed; once it elapses the
// circuit moves to HALF_OPEN and a single probing request is allowed
// through.
func (cb *CircuitBreaker) IsOpen(host string) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	circuit := cb.circuit(host)
	switch circuit.state {
	case model.BreakerClosed:
		return false
	case model.BreakerOpen:
		if time.Since(circuit.openedAt) >= cb.openDuration {
			// The transitioning request is the half-open probe.
			circuit.state = model.BreakerHalfOpen
			circuit.probeInFlight = true
			return false
		}
		return true
	case model.BreakerHalfOpen:
		// Exactly one probing request may pass while half-open.
		if circuit.probeInFlight {
			return true
		}
		circuit.probeInFlight = true
		return false
	default:
		return false
	}
}

// RecordSuccess records a successful request to the host, closing the
// circuit and resetting the failure count.
func (cb *CircuitBreaker) RecordSuccess(host string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	circuit := cb.circuit(host)
	circuit.state = model.BreakerClosed
	circuit.consecutiveFailures = 0
	circuit.probeInFlight = false
}

// RecordFailure records a failed request to the host. Returns true when
// this failure tripped the circuit to OPEN.
func (cb *CircuitBreaker) RecordFailure(host string) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	circuit := cb.circuit(host)
	circuit.consecutiveFailures++

	switch circuit.state {
	case model.BreakerHalfOpen:
		// Any failure while probing re-opens the circuit.
		circuit.state = model.BreakerOpen
		circuit.openedAt = time.Now()
		circuit.probeInFlight = false
		return true
	case model.BreakerClosed:
		if circuit.consecutiveFailures >= cb.failureThreshold {
			circuit.state = model.BreakerOpen
			circuit.openedAt = time.Now()
			return true
		}
	}
	return false
}

// State returns the current breaker state for a host.
func (cb *CircuitBreaker) State(host string) model.BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	circuit, exists := cb.hosts[host]
	if !exists {
		return model.BreakerClosed
	}
	return circuit.state
}

// ConsecutiveFailures returns the current failure streak for a host.
func (cb *CircuitBreaker) ConsecutiveFailures(host string) int {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	circuit, exists := cb.hosts[host]
	if !exists {
		return 0
	}
	return circuit.consecutiveFailures
}

// OpenCount returns how many hosts currently have an open circuit.
func (cb *CircuitBreaker) OpenCount() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	count := 0
	for _, circuit := range cb.hosts {
		if circuit.state == model.BreakerOpen {
			count++
		}
	}
	return count
}

// UpdateConfig atomically replaces the breaker thresholds. Existing
// per-host state is preserved.
func (cb *CircuitBreaker) UpdateConfig(failureThreshold int, openDuration time.Duration) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureThreshold = failureThreshold
	cb.openDuration = openDuration
}

// Reset resets the circuit for a host to closed state
func (cb *CircuitBreaker) Reset(host string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	circuit, exists := cb.hosts[host]
	if exists {
		circuit.state = model.BreakerClosed
		circuit.consecutiveFailures = 0
		circuit.probeInFlight = false
	}
}
