// Package circuitbreaker guards outbound calls to risk data sources.
// Each source (explorer API, security API) is tracked under its own key
// and moves through closed → open → half-open as calls fail and recover.
package circuitbreaker

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// State represents the circuit breaker state.
type State int

const (
	StateClosed   State = iota // Normal: requests flow through
	StateOpen                  // Tripped: requests are rejected
	StateHalfOpen              // Probing: one request allowed to test recovery
)

// String returns the state name.
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

var cbStateTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "chainguard",
	Subsystem: "circuitbreaker",
	Name:      "state_transitions_total",
	Help:      "Circuit breaker state transitions by key, from-state, and to-state.",
}, []string{"key", "from_state", "to_state"})

func init() {
	prometheus.MustRegister(cbStateTransitions)
}

// circuit tracks the state of a single keyed data source.
type circuit struct {
	state       State
	failures    int
	lastFailure time.Time
}

// Breaker is a per-key circuit breaker. A key's circuit trips open when
// consecutive failures reach the threshold, rejects calls for
// openDuration, then lets a single probe through.
type Breaker struct {
	mu           sync.Mutex
	circuits     map[string]*circuit
	threshold    int
	openDuration time.Duration
	onTransition func(key string, from, to State)
}

// New creates a circuit breaker that opens after threshold consecutive
// failures and stays open for openDuration before probing.
func New(threshold int, openDuration time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if openDuration <= 0 {
		openDuration = 30 * time.Second
	}
	return &Breaker{
		circuits:     make(map[string]*circuit),
		threshold:    threshold,
		openDuration: openDuration,
	}
}

// OnTransition sets a callback invoked on state changes.
func (b *Breaker) OnTransition(fn func(key string, from, to State)) {
	b.mu.Lock()
	b.onTransition = fn
	b.mu.Unlock()
}

// Allow reports whether a call to key should proceed. An open circuit
// whose openDuration has elapsed moves to half-open and admits one probe.
func (b *Breaker) Allow(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[key]
	if !ok {
		// Never-seen keys are closed.
		return true
	}

	switch c.state {
	case StateOpen:
		if time.Since(c.lastFailure) < b.openDuration {
			return false
		}
		b.transition(c, key, StateHalfOpen)
		return true
	case StateHalfOpen:
		// A probe is already in flight.
		return false
	default:
		return true
	}
}

// RecordSuccess resets the failure count for key and closes a
// half-open circuit.
func (b *Breaker) RecordSuccess(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[key]
	if !ok {
		return
	}
	if c.state == StateHalfOpen {
		b.transition(c, key, StateClosed)
	}
	c.failures = 0
}

// RecordFailure counts a failed call against key. Reaching the threshold
// trips the circuit; a failed half-open probe reopens it immediately.
func (b *Breaker) RecordFailure(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[key]
	if !ok {
		c = &circuit{state: StateClosed}
		b.circuits[key] = c
	}

	c.failures++
	c.lastFailure = time.Now()

	switch {
	case c.state == StateHalfOpen:
		b.transition(c, key, StateOpen)
	case c.state == StateClosed && c.failures >= b.threshold:
		b.transition(c, key, StateOpen)
	}
}

// State returns the current state for a key. Unknown keys are closed.
func (b *Breaker) State(key string) State {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[key]
	if !ok {
		return StateClosed
	}
	return c.state
}

// transition changes state, records the metric, and fires the callback.
// Caller must hold b.mu.
func (b *Breaker) transition(c *circuit, key string, to State) {
	from := c.state
	if from == to {
		return
	}
	c.state = to
	cbStateTransitions.WithLabelValues(key, from.String(), to.String()).Inc()
	if b.onTransition != nil {
		fn := b.onTransition
		go fn(key, from, to)
	}
}
