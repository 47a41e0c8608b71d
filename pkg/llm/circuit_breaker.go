package llm

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ncolesummers/multi-research/pkg/domain"
)

// CircuitBreakerState represents the state of the circuit breaker
type CircuitBreakerState string

const (
	// CircuitClosed allows requests to pass through
	CircuitClosed CircuitBreakerState = "closed"
	// CircuitOpen blocks all requests
	CircuitOpen CircuitBreakerState = "open"
	// CircuitHalfOpen allows a trial request
	CircuitHalfOpen CircuitBreakerState = "half-open"
)

// ErrCircuitOpen is returned while the breaker rejects calls
var ErrCircuitOpen = errors.New("circuit breaker open")

// CircuitBreaker trips after consecutive failures and lets a single
// trial call through once the open period has elapsed.
type CircuitBreaker struct {
	mu          sync.Mutex
	failures    int
	lastFailure time.Time
	state       CircuitBreakerState
	now         func() time.Time

	failureThreshold  int
	openStateDuration time.Duration
}

// NewCircuitBreaker creates a circuit breaker
func NewCircuitBreaker(failureThreshold int, openStateDuration time.Duration) *CircuitBreaker {
	if failureThreshold < 1 {
		failureThreshold = 3
	}
	if openStateDuration <= 0 {
		openStateDuration = time.Minute
	}
	return &CircuitBreaker{
		state:             CircuitClosed,
		failureThreshold:  failureThreshold,
		openStateDuration: openStateDuration,
		now:               time.Now,
	}
}

// RecordSuccess records a successful operation
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = CircuitClosed
	cb.failures = 0
}

// RecordFailure records a failed operation
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailure = cb.now()

	if cb.state == CircuitHalfOpen || cb.failures >= cb.failureThreshold {
		cb.state = CircuitOpen
	}
}

// CanExecute checks if an operation can be executed
func (cb *CircuitBreaker) CanExecute() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return true
	case CircuitOpen:
		if cb.now().Sub(cb.lastFailure) > cb.openStateDuration {
			cb.state = CircuitHalfOpen
			return true
		}
	}
	// half-open: a trial call is already in flight
	return false
}

// State returns the current state of the circuit breaker
func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset resets the circuit breaker to closed state
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = CircuitClosed
	cb.failures = 0
	cb.lastFailure = time.Time{}
}

// GuardedGateway short-circuits calls to a gateway whose breaker is open
type GuardedGateway struct {
	gateway domain.ProviderGateway
	breaker *CircuitBreaker
}

// NewGuardedGateway wraps gateway with breaker
func NewGuardedGateway(gateway domain.ProviderGateway, breaker *CircuitBreaker) *GuardedGateway {
	return &GuardedGateway{gateway: gateway, breaker: breaker}
}

// ID returns the wrapped gateway's provider
func (g *GuardedGateway) ID() domain.ProviderID {
	return g.gateway.ID()
}

// Breaker exposes the breaker for status reporting
func (g *GuardedGateway) Breaker() *CircuitBreaker {
	return g.breaker
}

// Generate calls through when the breaker allows it
func (g *GuardedGateway) Generate(ctx context.Context, req domain.GenerateRequest) (*domain.GenerateResult, error) {
	if !g.breaker.CanExecute() {
		return nil, ErrCircuitOpen
	}

	result, err := g.gateway.Generate(ctx, req)
	if err != nil {
		// a caller giving up is not the gateway's fault, unless it was the trial call
		if ctx.Err() == nil || g.breaker.State() == CircuitHalfOpen {
			g.breaker.RecordFailure()
		}
		return nil, err
	}

	g.breaker.RecordSuccess()
	return result, nil
}
