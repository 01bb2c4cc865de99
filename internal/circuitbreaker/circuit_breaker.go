// Package circuitbreaker guards upstream provider calls. After a run of
// consecutive failures the breaker opens and new calls are short-circuited
// until a cooldown elapses, so a degraded provider is not hammered by the
// cache-miss path.
//
// State transitions:
//
//	Closed → Open      when consecutive failures ≥ failure threshold
//	Open   → HalfOpen  after the cooldown elapses
//	HalfOpen → Closed  when consecutive successes ≥ success threshold
//	HalfOpen → Open    on any failure
package circuitbreaker

import (
	"sync"
	"time"
)

// State represents the breaker's current state.
type State int

const (
	// StateClosed — normal operation; calls pass through.
	StateClosed State = iota
	// StateOpen — the provider is considered failing; calls are rejected.
	StateOpen
	// StateHalfOpen — the breaker is probing recovery.
	StateHalfOpen
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Breaker guards a single upstream provider.
type Breaker struct {
	mu               sync.Mutex
	state            State
	failureCount     int
	successCount     int
	failureThreshold int
	successThreshold int
	cooldown         time.Duration
	openUntil        time.Time
}

// New creates a Breaker. Defaults are applied for zero or negative values:
// failureThreshold=5, successThreshold=1, cooldown=30s.
func New(failureThreshold, successThreshold int, cooldown time.Duration) *Breaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if successThreshold <= 0 {
		successThreshold = 1
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{
		state:            StateClosed,
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		cooldown:         cooldown,
	}
}

// State returns the current state, transitioning Open→HalfOpen once the
// cooldown has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.resolveState()
}

// resolveState must be called with b.mu held.
func (b *Breaker) resolveState() State {
	if b.state == StateOpen && time.Now().After(b.openUntil) {
		b.state = StateHalfOpen
		b.successCount = 0
	}
	return b.state
}

// Allow returns true if the call should proceed.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.resolveState() != StateOpen
}

// RecordSuccess notifies the breaker that a call succeeded.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateHalfOpen:
		b.successCount++
		if b.successCount >= b.successThreshold {
			b.state = StateClosed
			b.failureCount = 0
			b.successCount = 0
		}
	case StateClosed:
		b.failureCount = 0
	}
}

// RecordFailure notifies the breaker that a call failed.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateClosed:
		b.failureCount++
		if b.failureCount >= b.failureThreshold {
			b.state = StateOpen
			b.openUntil = time.Now().Add(b.cooldown)
		}
	case StateHalfOpen:
		b.state = StateOpen
		b.openUntil = time.Now().Add(b.cooldown)
		b.successCount = 0
	}
}
