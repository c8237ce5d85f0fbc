package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/mailgun/holster/v4/clock"
	"github.com/mailgun/holster/v4/setter"
)

// State is the position of a CircuitBreaker.
type State int

const (
	// StateClosed lets every call through.
	StateClosed State = iota
	// StateOpen rejects calls with ErrCircuitOpen until the open period ends.
	StateOpen
	// StateHalfOpen admits a limited number of probe calls.
	StateHalfOpen
)

// String returns the string representation of the state.
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

// CircuitBreakerConfig configures the circuit breaker.
type CircuitBreakerConfig struct {
	// MaxFailures is the number of consecutive failures that opens the
	// circuit.
	// Default: 5
	MaxFailures int

	// ResetTimeout is the minimum time the circuit stays open. A failure
	// carrying a longer Retry-After hint keeps it open for the hint instead.
	// Default: 30 seconds
	ResetTimeout time.Duration

	// HalfOpenMaxRequests is the number of concurrent probes allowed while
	// half-open.
	// Default: 1
	HalfOpenMaxRequests int

	// OnStateChange is called after every transition, outside the breaker
	// lock.
	OnStateChange func(from, to State)

	// IsFailure reports whether err counts against the upstream.
	// Default: IsTransient, so "not found" answers never trip the breaker.
	IsFailure func(err error) bool
}

// CircuitBreaker stops calling an upstream that keeps failing and lets a
// probe through once the open period has passed.
type CircuitBreaker struct {
	config CircuitBreakerConfig

	mu        sync.Mutex
	state     State
	failures  int
	trips     int
	openUntil time.Time
	probes    int
}

// transition is a state change waiting to be reported.
type transition struct {
	from, to State
}

// NewCircuitBreaker creates a closed circuit breaker.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	setter.SetDefault(&config.MaxFailures, 5)
	setter.SetDefault(&config.ResetTimeout, 30*time.Second)
	setter.SetDefault(&config.HalfOpenMaxRequests, 1)
	if config.IsFailure == nil {
		config.IsFailure = IsTransient
	}

	return &CircuitBreaker{config: config}
}

// Execute runs op unless the circuit is open.
// Cancellation of the caller's context is neither a success nor a failure.
func (cb *CircuitBreaker) Execute(ctx context.Context, op func(context.Context) error) error {
	if err := cb.admit(); err != nil {
		return err
	}

	err := op(ctx)
	if ctxErr := ctx.Err(); ctxErr != nil && err == ctxErr {
		cb.abandon()
		return err
	}
	cb.record(err)
	return err
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	state, changes := cb.refreshLocked()
	cb.mu.Unlock()

	cb.notify(changes)
	return state
}

// Reset closes the circuit and forgets recorded failures.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	var changes []transition
	if cb.state != StateClosed {
		changes = append(changes, transition{cb.state, StateClosed})
	}
	cb.state = StateClosed
	cb.failures = 0
	cb.probes = 0
	cb.openUntil = time.Time{}
	cb.mu.Unlock()

	cb.notify(changes)
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	state, changes := cb.refreshLocked()
	var err error
	switch state {
	case StateOpen:
		err = ErrCircuitOpen
	case StateHalfOpen:
		if cb.probes >= cb.config.HalfOpenMaxRequests {
			err = ErrCircuitOpen
		} else {
			cb.probes++
		}
	}
	cb.mu.Unlock()

	cb.notify(changes)
	return err
}

// abandon frees a half-open probe slot without judging the upstream.
func (cb *CircuitBreaker) abandon() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateHalfOpen && cb.probes > 0 {
		cb.probes--
	}
}

func (cb *CircuitBreaker) record(err error) {
	failed := cb.config.IsFailure(err)

	cb.mu.Lock()
	var changes []transition
	switch cb.state {
	case StateClosed:
		if !failed {
			cb.failures = 0
			break
		}
		cb.failures++
		if cb.failures >= cb.config.MaxFailures {
			changes = append(changes, cb.openLocked(err))
		}
	case StateHalfOpen:
		if failed {
			changes = append(changes, cb.openLocked(err))
			break
		}
		cb.state = StateClosed
		cb.failures = 0
		cb.probes = 0
		changes = append(changes, transition{StateHalfOpen, StateClosed})
	}
	cb.mu.Unlock()

	cb.notify(changes)
}

// openLocked opens the circuit for ResetTimeout or the upstream's
// Retry-After hint, whichever is longer.
func (cb *CircuitBreaker) openLocked(err error) transition {
	wait := max(cb.config.ResetTimeout, RetryAfterOf(err))
	from := cb.state
	cb.state = StateOpen
	cb.trips++
	cb.probes = 0
	cb.openUntil = clock.Now().Add(wait)
	return transition{from, StateOpen}
}

// refreshLocked moves an expired open circuit to half-open.
func (cb *CircuitBreaker) refreshLocked() (State, []transition) {
	if cb.state != StateOpen || clock.Now().Before(cb.openUntil) {
		return cb.state, nil
	}
	cb.state = StateHalfOpen
	cb.probes = 0
	return cb.state, []transition{{StateOpen, StateHalfOpen}}
}

func (cb *CircuitBreaker) notify(changes []transition) {
	if cb.config.OnStateChange == nil {
		return
	}
	for _, c := range changes {
		cb.config.OnStateChange(c.from, c.to)
	}
}

// Metrics returns a snapshot of the breaker.
func (cb *CircuitBreaker) Metrics() CircuitBreakerMetrics {
	cb.mu.Lock()
	state, changes := cb.refreshLocked()
	m := CircuitBreakerMetrics{
		State:    state,
		Failures: cb.failures,
		Trips:    cb.trips,
	}
	if state == StateOpen {
		m.OpenUntil = cb.openUntil
	}
	cb.mu.Unlock()

	cb.notify(changes)
	return m
}

// CircuitBreakerMetrics is a snapshot of a CircuitBreaker.
type CircuitBreakerMetrics struct {
	State State

	// Failures is the current run of consecutive failures.
	Failures int

	// Trips counts how often the circuit has opened.
	Trips int

	// OpenUntil is when an open circuit starts probing again.
	OpenUntil time.Time
}
