package infra

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/tesserahq/toolgate/pkg/models"
)

// CircuitState is the breaker position for one upstream key.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

// TransitionReason explains why a breaker changed state.
type TransitionReason string

const (
	ReasonFailureThreshold TransitionReason = "failure_threshold_reached"
	ReasonRecoveryTimeout  TransitionReason = "recovery_timeout_elapsed"
	ReasonTestCallSuccess  TransitionReason = "test_call_succeeded"
	ReasonTestCallFailure  TransitionReason = "test_call_failed"
	ReasonManualReset      TransitionReason = "manual_reset"
)

// CircuitEvent describes one state transition. A manual reset emits an
// event even when the breaker was already closed, so audit trails see
// every reset.
type CircuitEvent struct {
	CircuitID    string           `json:"circuit_id"`
	CircuitType  string           `json:"circuit_type"`
	SourceID     string           `json:"source_id"`
	From         CircuitState     `json:"from"`
	To           CircuitState     `json:"to"`
	Reason       TransitionReason `json:"reason"`
	FailureCount int              `json:"failure_count"`
	At           time.Time        `json:"at"`
}

// CircuitObserver receives transition events. Observers run
// synchronously in registration order; a panicking observer is logged
// and skipped so events are never lost to a bad listener.
type CircuitObserver func(CircuitEvent)

// CircuitConfig tunes one breaker.
type CircuitConfig struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
	HalfOpenMaxCalls int
}

func (c CircuitConfig) withDefaults() CircuitConfig {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = 30 * time.Second
	}
	if c.HalfOpenMaxCalls <= 0 {
		c.HalfOpenMaxCalls = 3
	}
	return c
}

// CircuitBreaker isolates one upstream key. The mutex guards admission
// and result recording only; the wrapped call always runs outside it.
type CircuitBreaker struct {
	circuitType string
	sourceID    string
	config      CircuitConfig
	observers   []CircuitObserver
	logger      *slog.Logger
	now         func() time.Time

	mu               sync.Mutex
	state            CircuitState
	failures         int
	lastFailure      time.Time
	lastStateChange  time.Time
	halfOpenInFlight int
}

// NewCircuitBreaker builds a closed breaker for circuitType/sourceID.
func NewCircuitBreaker(circuitType, sourceID string, config CircuitConfig, observers []CircuitObserver) *CircuitBreaker {
	return &CircuitBreaker{
		circuitType: circuitType,
		sourceID:    sourceID,
		config:      config.withDefaults(),
		observers:   observers,
		logger:      slog.Default().With("component", "circuit", "circuit_type", circuitType, "source_id", sourceID),
		now:         time.Now,
		state:       CircuitClosed,
	}
}

// ID returns the composite circuit identifier.
func (cb *CircuitBreaker) ID() string {
	return cb.circuitType + "|" + cb.sourceID
}

// Call runs fn under breaker protection. When the breaker is open the
// callee is never invoked and the returned error is retryable.
func (cb *CircuitBreaker) Call(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.admit(); err != nil {
		return err
	}
	err := fn(ctx)
	cb.record(err)
	return err
}

// Do runs a value-returning fn under breaker protection.
func Do[T any](ctx context.Context, cb *CircuitBreaker, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := cb.admit(); err != nil {
		return zero, err
	}
	result, err := fn(ctx)
	cb.record(err)
	if err != nil {
		return zero, err
	}
	return result, nil
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return nil

	case CircuitOpen:
		if cb.now().Sub(cb.lastStateChange) >= cb.config.RecoveryTimeout {
			cb.transition(CircuitHalfOpen, ReasonRecoveryTimeout)
			cb.halfOpenInFlight = 1
			return nil
		}
		return &models.ToolError{
			Code:      models.ErrCodeCircuitOpen,
			Message:   "circuit open for " + cb.sourceID,
			Retryable: true,
			Details:   map[string]any{"circuit_id": cb.ID(), "retry_after_seconds": cb.retryAfterLocked()},
		}

	case CircuitHalfOpen:
		if cb.halfOpenInFlight >= cb.config.HalfOpenMaxCalls {
			return &models.ToolError{
				Code:      models.ErrCodeCircuitTesting,
				Message:   "circuit testing recovery for " + cb.sourceID,
				Retryable: true,
				Details:   map[string]any{"circuit_id": cb.ID()},
			}
		}
		cb.halfOpenInFlight++
		return nil

	default:
		return nil
	}
}

func (cb *CircuitBreaker) retryAfterLocked() float64 {
	remaining := cb.config.RecoveryTimeout - cb.now().Sub(cb.lastStateChange)
	if remaining < 0 {
		return 0
	}
	return remaining.Seconds()
}

func (cb *CircuitBreaker) record(err error) {
	// Client cancellation says nothing about upstream health.
	if err != nil && errors.Is(err, context.Canceled) {
		cb.releaseHalfOpen()
		return
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitHalfOpen && cb.halfOpenInFlight > 0 {
		cb.halfOpenInFlight--
	}

	if err != nil {
		cb.failures++
		cb.lastFailure = cb.now()
		switch cb.state {
		case CircuitClosed:
			if cb.failures >= cb.config.FailureThreshold {
				cb.transition(CircuitOpen, ReasonFailureThreshold)
			}
		case CircuitHalfOpen:
			cb.transition(CircuitOpen, ReasonTestCallFailure)
		}
		return
	}

	switch cb.state {
	case CircuitClosed:
		cb.failures = 0
	case CircuitHalfOpen:
		cb.transition(CircuitClosed, ReasonTestCallSuccess)
	}
}

func (cb *CircuitBreaker) releaseHalfOpen() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == CircuitHalfOpen && cb.halfOpenInFlight > 0 {
		cb.halfOpenInFlight--
	}
}

// Reset forces the breaker closed. The MANUAL_RESET event fires even
// when the breaker was already closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transition(CircuitClosed, ReasonManualReset)
}

// transition must run with the mutex held.
func (cb *CircuitBreaker) transition(to CircuitState, reason TransitionReason) {
	from := cb.state
	cb.state = to
	cb.lastStateChange = cb.now()
	cb.halfOpenInFlight = 0

	event := CircuitEvent{
		CircuitID:    cb.ID(),
		CircuitType:  cb.circuitType,
		SourceID:     cb.sourceID,
		From:         from,
		To:           to,
		Reason:       reason,
		FailureCount: cb.failures,
		At:           cb.lastStateChange,
	}
	if to == CircuitClosed {
		cb.failures = 0
	}

	for _, obs := range cb.observers {
		cb.notify(obs, event)
	}
}

func (cb *CircuitBreaker) notify(obs CircuitObserver, event CircuitEvent) {
	defer func() {
		if r := recover(); r != nil {
			cb.logger.Error("circuit observer panicked", "reason", event.Reason, "panic", r)
		}
	}()
	obs(event)
}

// State returns the current breaker position.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// CircuitSnapshot is a point-in-time view of one breaker.
type CircuitSnapshot struct {
	CircuitID        string       `json:"circuit_id"`
	CircuitType      string       `json:"circuit_type"`
	SourceID         string       `json:"source_id"`
	State            CircuitState `json:"state"`
	FailureCount     int          `json:"failure_count"`
	LastFailureTime  time.Time    `json:"last_failure_time,omitempty"`
	HalfOpenInFlight int          `json:"half_open_call_count"`
}

// Snapshot returns the breaker's current counters.
func (cb *CircuitBreaker) Snapshot() CircuitSnapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return CircuitSnapshot{
		CircuitID:        cb.ID(),
		CircuitType:      cb.circuitType,
		SourceID:         cb.sourceID,
		State:            cb.state,
		FailureCount:     cb.failures,
		LastFailureTime:  cb.lastFailure,
		HalfOpenInFlight: cb.halfOpenInFlight,
	}
}

// CircuitRegistry hands out one breaker per circuitType/key pair.
type CircuitRegistry struct {
	mu        sync.RWMutex
	breakers  map[string]*CircuitBreaker
	defaults  CircuitConfig
	observers []CircuitObserver
}

// NewCircuitRegistry creates a registry. Observers registered here are
// attached to every breaker the registry creates.
func NewCircuitRegistry(defaults CircuitConfig, observers ...CircuitObserver) *CircuitRegistry {
	return &CircuitRegistry{
		breakers:  make(map[string]*CircuitBreaker),
		defaults:  defaults.withDefaults(),
		observers: observers,
	}
}

// Get returns or creates the breaker for circuitType/sourceID.
func (r *CircuitRegistry) Get(circuitType, sourceID string) *CircuitBreaker {
	key := circuitType + "|" + sourceID

	r.mu.RLock()
	cb, ok := r.breakers[key]
	r.mu.RUnlock()
	if ok {
		return cb
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[key]; ok {
		return cb
	}
	cb = NewCircuitBreaker(circuitType, sourceID, r.defaults, r.observers)
	r.breakers[key] = cb
	return cb
}

// Reset closes the breaker for circuitType/sourceID if it exists.
func (r *CircuitRegistry) Reset(circuitType, sourceID string) bool {
	r.mu.RLock()
	cb, ok := r.breakers[circuitType+"|"+sourceID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	cb.Reset()
	return true
}

// ResetAll closes every breaker.
func (r *CircuitRegistry) ResetAll() int {
	r.mu.RLock()
	breakers := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, cb := range r.breakers {
		breakers = append(breakers, cb)
	}
	r.mu.RUnlock()

	for _, cb := range breakers {
		cb.Reset()
	}
	return len(breakers)
}

// Snapshots returns the state of every breaker.
func (r *CircuitRegistry) Snapshots() []CircuitSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snaps := make([]CircuitSnapshot, 0, len(r.breakers))
	for _, cb := range r.breakers {
		snaps = append(snaps, cb.Snapshot())
	}
	return snaps
}

// OpenCircuits returns ids of breakers currently open.
func (r *CircuitRegistry) OpenCircuits() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var open []string
	for key, cb := range r.breakers {
		if cb.State() == CircuitOpen {
			open = append(open, key)
		}
	}
	return open
}
