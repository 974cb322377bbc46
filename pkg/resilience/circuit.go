// Package resilience implements the memory core's protective layer: a
// per-service circuit breaker and a keyed TTL/LRU cache.
package resilience

import (
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// State is the three-state circuit vocabulary (Closed/Open/HalfOpen),
// translated from gobreaker's own State constants so callers never need
// to import gobreaker directly.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// CircuitConfig configures one named circuit.
type CircuitConfig struct {
	FailureThreshold  uint32
	SuccessThreshold  uint32
	Timeout           time.Duration
	HalfOpenMaxCalls  uint32
}

// CircuitStats reports cumulative counters for one circuit.
type CircuitStats struct {
	Total          uint64
	Successful     uint64
	Failed         uint64
	Rejected       uint64
	StateChanges   uint64
	LastFailureAt  time.Time
	LastSuccessAt  time.Time
}

// Circuit wraps a gobreaker.CircuitBreaker, exposing the Closed/Open/
// HalfOpen vocabulary and statistics instead of gobreaker's generic
// Execute API. It additionally gates half-open concurrency itself, since
// CanExecute/RecordSuccess/RecordFailure calls gobreaker.Execute once per
// probe rather than holding one call open across the two, which bypasses
// gobreaker's own MaxRequests enforcement.
type Circuit struct {
	name             string
	cb               *gobreaker.CircuitBreaker[any]
	maxHalfOpenCalls uint32

	mu               sync.Mutex
	stats            CircuitStats
	halfOpenInFlight uint32
}

// NewCircuit creates a named circuit with the given configuration.
func NewCircuit(name string, cfg CircuitConfig) *Circuit {
	c := &Circuit{name: name, maxHalfOpenCalls: cfg.HalfOpenMaxCalls}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.HalfOpenMaxCalls,
		Interval:    0,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(_ string, _ gobreaker.State, to gobreaker.State) {
			c.mu.Lock()
			c.stats.StateChanges++
			if to != gobreaker.StateHalfOpen {
				c.halfOpenInFlight = 0
			}
			c.mu.Unlock()
		},
	}
	// SuccessThreshold: gobreaker transitions HalfOpen->Closed once
	// MaxRequests consecutive successes occur, so when the configured
	// success threshold differs from the half-open call cap we clamp
	// MaxRequests to the larger of the two to avoid closing early.
	if cfg.SuccessThreshold > settings.MaxRequests {
		settings.MaxRequests = cfg.SuccessThreshold
	}

	c.cb = gobreaker.NewCircuitBreaker[any](settings)
	return c
}

// CanExecute reports whether a call may proceed right now. It does not
// reserve a slot by itself in the closed or open states, but in the
// half-open state it admits at most maxHalfOpenCalls concurrent callers,
// matching the half-open probe cap — callers must still call
// RecordSuccess/RecordFailure after the call completes to release the
// slot they were granted.
func (c *Circuit) CanExecute() bool {
	state := c.cb.State()
	c.mu.Lock()
	defer c.mu.Unlock()

	switch state {
	case gobreaker.StateOpen:
		c.stats.Rejected++
		return false
	case gobreaker.StateHalfOpen:
		if c.halfOpenInFlight >= c.maxHalfOpenCalls {
			c.stats.Rejected++
			return false
		}
		c.halfOpenInFlight++
		return true
	default:
		return true
	}
}

// releaseHalfOpenSlot returns one admitted half-open slot, called from
// RecordSuccess/RecordFailure once the caller's probe finishes.
func (c *Circuit) releaseHalfOpenSlot() {
	if c.halfOpenInFlight > 0 {
		c.halfOpenInFlight--
	}
}

// RecordSuccess reports a successful call outcome.
func (c *Circuit) RecordSuccess() {
	c.cb.Execute(func() (any, error) { return nil, nil })
	c.mu.Lock()
	c.stats.Total++
	c.stats.Successful++
	c.stats.LastSuccessAt = time.Now()
	c.releaseHalfOpenSlot()
	c.mu.Unlock()
}

// RecordFailure reports a failed call outcome.
func (c *Circuit) RecordFailure() {
	c.cb.Execute(func() (any, error) { return nil, errSentinel })
	c.mu.Lock()
	c.stats.Total++
	c.stats.Failed++
	c.stats.LastFailureAt = time.Now()
	c.releaseHalfOpenSlot()
	c.mu.Unlock()
}

// State returns the current circuit state.
func (c *Circuit) State() State {
	switch c.cb.State() {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

// Stats returns a snapshot of cumulative counters.
func (c *Circuit) Stats() CircuitStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Name returns the circuit's service name.
func (c *Circuit) Name() string { return c.name }

var errSentinel = &circuitSentinelError{}

type circuitSentinelError struct{}

func (*circuitSentinelError) Error() string { return "circuit: recorded failure" }

// Registry caches named circuits so repeated lookups return the same
// instance. It is an explicit value (not a package-level global) so
// tests construct a fresh one per case.
type Registry struct {
	mu       sync.Mutex
	circuits map[string]*Circuit
}

// NewRegistry creates an empty circuit registry.
func NewRegistry() *Registry {
	return &Registry{circuits: make(map[string]*Circuit)}
}

// GetCircuit returns the named circuit, creating it with cfg on first call.
// Subsequent calls ignore cfg and return the existing instance.
func (r *Registry) GetCircuit(name string, cfg CircuitConfig) *Circuit {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.circuits[name]; ok {
		return c
	}
	c := NewCircuit(name, cfg)
	r.circuits[name] = c
	return c
}

// DefaultRegistry builds a registry pre-populated with the three circuits
// the memory core's outbound calls protect — llm, research, embedding —
// each with distinct thresholds.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.GetCircuit("llm", CircuitConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
		HalfOpenMaxCalls: 2,
	})
	r.GetCircuit("research", CircuitConfig{
		FailureThreshold: 3,
		SuccessThreshold: 1,
		Timeout:          60 * time.Second,
		HalfOpenMaxCalls: 1,
	})
	r.GetCircuit("embedding", CircuitConfig{
		FailureThreshold: 8,
		SuccessThreshold: 3,
		Timeout:          15 * time.Second,
		HalfOpenMaxCalls: 3,
	})
	return r
}
