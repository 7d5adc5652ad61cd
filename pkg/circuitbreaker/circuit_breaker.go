package circuitbreaker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// State represents the state of a circuit breaker
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// StateChange is emitted on every phase transition for observability.
type StateChange struct {
	Name string
	From State
	To   State
	At   time.Time
}

// Config tunes the trip and recovery behavior.
type Config struct {
	// FailureRatePct is the failure percentage at or above which the
	// breaker opens, once MinSamples calls have been observed.
	FailureRatePct int
	// MinSamples is the minimum number of calls in the current window
	// before the failure rate is evaluated.
	MinSamples uint32
	// ResetTimeout is how long an open breaker waits before allowing a
	// single half-open probe.
	ResetTimeout time.Duration
	// CallTimeout hard-bounds every call let through; a timeout counts
	// as a failure.
	CallTimeout time.Duration
}

// DefaultConfig returns the standard production tuning.
func DefaultConfig() Config {
	return Config{
		FailureRatePct: 50,
		MinSamples:     5,
		ResetTimeout:   30 * time.Second,
		CallTimeout:    15 * time.Second,
	}
}

// windowSize bounds the rolling failure window; counters reset once this
// many calls have been observed so stale history cannot mask an outage.
const windowSize = 20

// eventBufferSize bounds the state change channel. Sends never block the
// delivery path; events are dropped if no consumer keeps up.
const eventBufferSize = 16

// CircuitBreaker guards an unreliable transport: it tracks the failure
// rate of calls and fails fast while the transport is deemed down.
type CircuitBreaker struct {
	name   string
	config Config

	mu            sync.Mutex
	state         State
	failureCount  uint32
	totalCount    uint32
	openedAt      time.Time
	probeInFlight bool

	events chan StateChange
	logger *logrus.Logger
}

// New creates a new circuit breaker
func New(name string, config Config, logger *logrus.Logger) *CircuitBreaker {
	if logger == nil {
		logger = logrus.New()
	}
	if config.FailureRatePct <= 0 {
		config.FailureRatePct = DefaultConfig().FailureRatePct
	}
	if config.MinSamples == 0 {
		config.MinSamples = DefaultConfig().MinSamples
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = DefaultConfig().ResetTimeout
	}
	if config.CallTimeout <= 0 {
		config.CallTimeout = DefaultConfig().CallTimeout
	}

	return &CircuitBreaker{
		name:   name,
		config: config,
		state:  StateClosed,
		events: make(chan StateChange, eventBufferSize),
		logger: logger,
	}
}

// Events exposes phase-change notifications. The channel is buffered and
// never closed; consumers should drain it for the life of the breaker.
func (cb *CircuitBreaker) Events() <-chan StateChange {
	return cb.events
}

// Execute runs fn if the breaker allows it, bounded by the configured call
// timeout. When the breaker is open it returns *CircuitOpenError without
// invoking fn.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	probe, err := cb.acquire()
	if err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, cb.config.CallTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- fn(callCtx)
	}()

	select {
	case callErr := <-done:
		cb.record(callErr == nil, probe)
		return callErr
	case <-callCtx.Done():
		cb.record(false, probe)
		return fmt.Errorf("call timed out after %s: %w", cb.config.CallTimeout, callCtx.Err())
	}
}

// acquire decides whether a call may proceed, and whether it is the
// half-open probe.
func (cb *CircuitBreaker) acquire() (probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return false, nil
	case StateOpen:
		if time.Since(cb.openedAt) < cb.config.ResetTimeout {
			return false, &CircuitOpenError{
				Name:       cb.name,
				RetryAfter: cb.config.ResetTimeout - time.Since(cb.openedAt),
			}
		}
		cb.transition(StateHalfOpen)
		cb.probeInFlight = true
		return true, nil
	case StateHalfOpen:
		if cb.probeInFlight {
			return false, &CircuitOpenError{Name: cb.name}
		}
		cb.probeInFlight = true
		return true, nil
	default:
		return false, &CircuitOpenError{Name: cb.name}
	}
}

// record folds a call outcome into the breaker state.
func (cb *CircuitBreaker) record(success, probe bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if probe {
		cb.probeInFlight = false
		if success {
			cb.resetWindow()
			cb.transition(StateClosed)
		} else {
			cb.openedAt = time.Now()
			cb.transition(StateOpen)
		}
		return
	}

	if cb.state != StateClosed {
		// Late result from a call admitted before a transition.
		return
	}

	cb.totalCount++
	if !success {
		cb.failureCount++
	}

	if cb.totalCount >= cb.config.MinSamples &&
		cb.failureCount*100 >= uint32(cb.config.FailureRatePct)*cb.totalCount {
		cb.openedAt = time.Now()
		cb.transition(StateOpen)
		return
	}

	if cb.totalCount >= windowSize {
		cb.resetWindow()
	}
}

func (cb *CircuitBreaker) resetWindow() {
	cb.failureCount = 0
	cb.totalCount = 0
}

// transition moves to a new state and emits the change. Callers hold cb.mu.
func (cb *CircuitBreaker) transition(to State) {
	if cb.state == to {
		return
	}
	from := cb.state
	cb.state = to

	change := StateChange{Name: cb.name, From: from, To: to, At: time.Now()}
	select {
	case cb.events <- change:
	default:
	}

	entry := cb.logger.WithFields(logrus.Fields{
		"circuit_breaker": cb.name,
		"from":            from.String(),
		"to":              to.String(),
	})
	switch to {
	case StateOpen:
		entry.WithFields(logrus.Fields{
			"failures": cb.failureCount,
			"total":    cb.totalCount,
		}).Warn("Circuit breaker opened")
	case StateHalfOpen:
		entry.Info("Circuit breaker half-opened for probe")
	case StateClosed:
		entry.Info("Circuit breaker closed")
	}
}

// GetState returns the current state of the circuit breaker
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Stats represents circuit breaker statistics
type Stats struct {
	Name     string    `json:"name"`
	State    string    `json:"state"`
	Failures uint32    `json:"failures"`
	Total    uint32    `json:"total"`
	OpenedAt time.Time `json:"openedAt,omitempty"`
}

// GetStats returns statistics about the circuit breaker
func (cb *CircuitBreaker) GetStats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return Stats{
		Name:     cb.name,
		State:    cb.state.String(),
		Failures: cb.failureCount,
		Total:    cb.totalCount,
		OpenedAt: cb.openedAt,
	}
}

// Reset forces the breaker back to closed with empty counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.resetWindow()
	cb.probeInFlight = false
	cb.transition(StateClosed)
}

// CircuitOpenError is returned when a call is rejected without touching
// the transport.
type CircuitOpenError struct {
	Name       string
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("circuit breaker '%s' is open, retry after %s", e.Name, e.RetryAfter.Round(time.Millisecond))
	}
	return fmt.Sprintf("circuit breaker '%s' is open", e.Name)
}

// IsCircuitOpenError checks if an error is a circuit open rejection
func IsCircuitOpenError(err error) bool {
	_, ok := err.(*CircuitOpenError)
	return ok
}
