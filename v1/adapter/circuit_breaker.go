package adapter

import (
	"context"
	stdErrors "errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/clearmind/pledge/v1/checkin"
	pledgeerrors "github.com/clearmind/pledge/v1/errors"
)

type state int

const (
	stateClosed state = iota
	stateOpen
	stateHalfOpen
)

// CircuitBreakerStore decorates a checkin.Store so that a failing backend is
// not hammered by every sync run. After threshold consecutive push failures
// pushes fail fast with errors.ErrCircuitOpen until cooldown has passed; then
// a single probe push decides whether the circuit closes again.
type CircuitBreakerStore struct {
	store     checkin.Store
	clock     clock.Clock
	threshold int
	cooldown  time.Duration

	mu       sync.Mutex
	state    state
	failures int
	lastFail time.Time
}

var _ checkin.Store = (*CircuitBreakerStore)(nil)

// NewCircuitBreaker wraps store. A nil clk selects the wall clock.
func NewCircuitBreaker(store checkin.Store, threshold int, cooldown time.Duration, clk clock.Clock) *CircuitBreakerStore {
	if threshold <= 0 {
		threshold = 1
	}
	if clk == nil {
		clk = clock.New()
	}
	return &CircuitBreakerStore{store: store, clock: clk, threshold: threshold, cooldown: cooldown}
}

// IsHealthy reports whether pushes would currently be attempted.
func (cb *CircuitBreakerStore) IsHealthy() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case stateOpen:
		return cb.clock.Since(cb.lastFail) >= cb.cooldown
	case stateHalfOpen:
		return false
	}
	return true
}

// allow moves an open circuit to half-open once the cooldown has passed and
// lets exactly one probe through.
func (cb *CircuitBreakerStore) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case stateClosed:
		return true
	case stateOpen:
		if cb.clock.Since(cb.lastFail) >= cb.cooldown {
			cb.state = stateHalfOpen
			return true
		}
	}
	return false
}

func (cb *CircuitBreakerStore) onSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = stateClosed
	cb.failures = 0
}

func (cb *CircuitBreakerStore) onFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.lastFail = cb.clock.Now()
	cb.failures++
	if cb.state == stateHalfOpen || cb.failures >= cb.threshold {
		cb.state = stateOpen
	}
}

// Push implements checkin.Store.Push with circuit breaker logic. Invalid
// check-ins and canceled contexts do not count as backend failures.
func (cb *CircuitBreakerStore) Push(ctx context.Context, batch []checkin.CheckIn) error {
	if !cb.allow() {
		return pledgeerrors.ErrCircuitOpen
	}
	err := cb.store.Push(ctx, batch)
	switch {
	case err == nil:
		cb.onSuccess()
	case isCallerError(err):
		cb.release()
	default:
		cb.onFailure()
	}
	return err
}

// List implements checkin.Store.List. Reads pass through unguarded.
func (cb *CircuitBreakerStore) List(ctx context.Context, habitID string) ([]checkin.CheckIn, error) {
	return cb.store.List(ctx, habitID)
}

// release returns a half-open circuit to open without counting a failure,
// so the next call after the cooldown can probe again.
func (cb *CircuitBreakerStore) release() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == stateHalfOpen {
		cb.state = stateOpen
	}
}

func isCallerError(err error) bool {
	return stdErrors.Is(err, checkin.ErrInvalidCheckIn) || stdErrors.Is(err, context.Canceled)
}
