// Package circuitbreaker stops calling a failing backend for a while.
//
// Failures are counted per key. Once a key reaches the threshold of
// consecutive failures its circuit opens and calls fail fast until the
// cooldown has passed; then a single probe call is let through, whose outcome
// closes or re-opens the circuit.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"github.com/djlord-it/deploytrigger/internal/clock"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

type state int

const (
	stateClosed state = iota
	stateOpen
	stateHalfOpen
)

func (s state) String() string {
	switch s {
	case stateOpen:
		return "open"
	case stateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

type keyState struct {
	state               state
	consecutiveFailures int
	openedAt            time.Time
}

type CircuitBreaker struct {
	mu        sync.Mutex
	states    map[string]*keyState
	threshold int
	cooldown  time.Duration
	clock     clock.Clock
	onChange  func(key string, state string)
}

func New(threshold int, cooldown time.Duration, c clock.Clock) *CircuitBreaker {
	return &CircuitBreaker{
		states:    make(map[string]*keyState),
		threshold: threshold,
		cooldown:  cooldown,
		clock:     c,
	}
}

// OnStateChange registers fn to be called, under the breaker's lock, whenever
// a key's circuit changes state.
func (cb *CircuitBreaker) OnStateChange(fn func(key string, state string)) *CircuitBreaker {
	cb.onChange = fn
	return cb
}

func (cb *CircuitBreaker) Allow(key string) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	s, ok := cb.states[key]
	if !ok {
		return nil
	}

	switch s.state {
	case stateClosed:
		return nil
	case stateOpen:
		if cb.clock.Now().Sub(s.openedAt) >= cb.cooldown {
			cb.transition(key, s, stateHalfOpen)
			return nil
		}
		return ErrCircuitOpen
	case stateHalfOpen:
		return ErrCircuitOpen
	default:
		return nil
	}
}

func (cb *CircuitBreaker) RecordSuccess(key string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	s, ok := cb.states[key]
	if !ok {
		return
	}
	s.consecutiveFailures = 0
	cb.transition(key, s, stateClosed)
}

func (cb *CircuitBreaker) RecordFailure(key string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	s, ok := cb.states[key]
	if !ok {
		s = &keyState{}
		cb.states[key] = s
	}

	s.consecutiveFailures++
	if s.state == stateHalfOpen || s.consecutiveFailures >= cb.threshold {
		s.openedAt = cb.clock.Now()
		cb.transition(key, s, stateOpen)
	}
}

// Do runs fn unless the circuit for key is open, and records its outcome.
func (cb *CircuitBreaker) Do(key string, fn func() error) error {
	if err := cb.Allow(key); err != nil {
		return err
	}
	if err := fn(); err != nil {
		cb.RecordFailure(key)
		return err
	}
	cb.RecordSuccess(key)
	return nil
}

func (cb *CircuitBreaker) transition(key string, s *keyState, to state) {
	if s.state == to {
		return
	}
	s.state = to
	if cb.onChange != nil {
		cb.onChange(key, to.String())
	}
}
