package k8s

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/akmukhi/developer-self-service/internal/pkg/metrics"
)

// ErrCircuitOpen is returned without calling the cluster while the breaker is open.
var ErrCircuitOpen = fmt.Errorf("circuit breaker is open: %w", ErrUnavailable)

// CircuitBreakerState represents the state of a circuit breaker.
type CircuitBreakerState int

const (
	StateClosed   CircuitBreakerState = iota // Normal operation
	StateOpen                                // Failing fast
	StateHalfOpen                            // Probing for recovery
)

// CircuitBreaker fails fast after repeated connectivity failures.
// After 5 consecutive failures the circuit opens for 30 seconds, then lets one probe through.
type CircuitBreaker struct {
	mu sync.Mutex

	failureThreshold int
	openDuration     time.Duration
	halfOpenMaxCalls int
	cluster          string

	state             CircuitBreakerState
	failureCount      int
	lastFailureTime   time.Time
	halfOpenCallCount int
	now               func() time.Time
}

// NewCircuitBreaker creates a new circuit breaker with default settings.
func NewCircuitBreaker(cluster string) *CircuitBreaker {
	cb := &CircuitBreaker{
		failureThreshold: 5,
		openDuration:     30 * time.Second,
		halfOpenMaxCalls: 1,
		state:            StateClosed,
		cluster:          cluster,
		now:              time.Now,
	}
	metrics.CircuitBreakerState.WithLabelValues(cluster).Set(float64(StateClosed))
	return cb
}

// setState must be called with mu held.
func (cb *CircuitBreaker) setState(newState CircuitBreakerState) {
	if cb.state == newState {
		return
	}
	metrics.CircuitBreakerTransitionsTotal.WithLabelValues(cb.cluster, stateToString(cb.state), stateToString(newState)).Inc()
	metrics.CircuitBreakerState.WithLabelValues(cb.cluster).Set(float64(newState))
	cb.state = newState
}

func stateToString(state CircuitBreakerState) string {
	switch state {
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

// Execute runs fn unless the circuit is open. Only connectivity failures count toward opening.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	cb.mu.Lock()
	if cb.state == StateOpen {
		if cb.now().Sub(cb.lastFailureTime) < cb.openDuration {
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
		cb.setState(StateHalfOpen)
		cb.halfOpenCallCount = 0
	}
	if cb.state == StateHalfOpen {
		if cb.halfOpenCallCount >= cb.halfOpenMaxCalls {
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
		cb.halfOpenCallCount++
	}
	cb.mu.Unlock()

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil && isRetryableError(err) && !errors.Is(ctx.Err(), context.Canceled) {
		cb.failureCount++
		cb.lastFailureTime = cb.now()
		metrics.CircuitBreakerFailuresTotal.WithLabelValues(cb.cluster).Inc()

		if cb.state == StateHalfOpen || cb.failureCount >= cb.failureThreshold {
			cb.setState(StateOpen)
			cb.halfOpenCallCount = 0
		}
		return err
	}

	// Success, or a definitive answer from a reachable API (404, 409, 422).
	cb.failureCount = 0
	if cb.state != StateClosed {
		cb.setState(StateClosed)
		cb.halfOpenCallCount = 0
	}
	return err
}

// State returns the current state of the circuit breaker.
func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// FailureCount returns the current consecutive failure count.
func (cb *CircuitBreaker) FailureCount() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failureCount
}

var networkErrorFragments = []string{
	"connection refused",
	"connection reset",
	"timeout",
	"network",
	"unreachable",
	"no such host",
	"dial tcp",
	"i/o timeout",
	"EOF",
}

// isRetryableError reports connectivity failures: timeouts, 5xx, 429 and network errors.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrCircuitOpen) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if isRetryable(err) {
		return true
	}
	msg := err.Error()
	for _, frag := range networkErrorFragments {
		if strings.Contains(msg, frag) {
			return true
		}
	}
	return false
}
