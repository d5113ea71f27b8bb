package resilience

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when a tool's breaker rejects the call without
// attempting the upstream.
var ErrCircuitOpen = errors.New("circuit open")

// Breaker states.
const (
	StateClosed   = "closed"
	StateOpen     = "open"
	StateHalfOpen = "half_open"
)

// breakerState holds one tool's circuit. State is process-local and starts
// closed on restart.
type breakerState struct {
	state               string
	consecutiveFailures int
	openedAt            time.Time
	probing             bool
}

// BreakerSet tracks an independent circuit breaker per tool, so one
// upstream's degradation never fast-fails calls to another.
type BreakerSet struct {
	mu        sync.Mutex
	breakers  map[string]*breakerState
	threshold int
	cooldown  time.Duration
	now       func() time.Time // injectable clock for testing

	onTransition func(tool, state string)
}

// NewBreakerSet creates a set where threshold consecutive failures open a
// tool's circuit and cooldown must elapse before a half-open probe.
func NewBreakerSet(threshold int, cooldown time.Duration) *BreakerSet {
	return &BreakerSet{
		breakers:  make(map[string]*breakerState),
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// OnTransition registers a hook invoked whenever a tool's state changes. The
// hook runs with the set's lock held and must not block.
func (s *BreakerSet) OnTransition(fn func(tool, state string)) {
	s.onTransition = fn
}

func (s *BreakerSet) get(tool string) *breakerState {
	b, ok := s.breakers[tool]
	if !ok {
		b = &breakerState{state: StateClosed}
		s.breakers[tool] = b
	}
	return b
}

func (s *BreakerSet) transition(tool string, b *breakerState, state string) {
	b.state = state
	if s.onTransition != nil {
		s.onTransition(tool, state)
	}
}

// Allow reports whether a call to tool may proceed. In the open state it
// fails fast until the cooldown elapses, then admits exactly one probe.
func (s *BreakerSet) Allow(tool string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.get(tool)
	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if s.now().Sub(b.openedAt) <= s.cooldown {
			return ErrCircuitOpen
		}
		s.transition(tool, b, StateHalfOpen)
		b.probing = true
		return nil
	case StateHalfOpen:
		if b.probing {
			return ErrCircuitOpen
		}
		b.probing = true
		return nil
	}
	return nil
}

// Success records a successful call. A half-open probe success closes the
// circuit and resets the failure count.
func (s *BreakerSet) Success(tool string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.get(tool)
	b.consecutiveFailures = 0
	b.probing = false
	if b.state != StateClosed {
		s.transition(tool, b, StateClosed)
	}
}

// Failure records a failed call. Reaching the threshold while closed opens
// the circuit; a failed half-open probe reopens it.
func (s *BreakerSet) Failure(tool string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.get(tool)
	switch b.state {
	case StateClosed:
		b.consecutiveFailures++
		if b.consecutiveFailures >= s.threshold {
			b.openedAt = s.now()
			s.transition(tool, b, StateOpen)
		}
	case StateHalfOpen:
		b.probing = false
		b.openedAt = s.now()
		s.transition(tool, b, StateOpen)
	}
}

// State returns the current state of a tool's circuit.
func (s *BreakerSet) State(tool string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(tool).state
}
