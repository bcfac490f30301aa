package resilience

import (
	"sync"
	"time"
)

// CircuitBreakerState represents the state of the circuit breaker
type CircuitBreakerState int32

const (
	StateClosed CircuitBreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitBreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	}
	return "unknown"
}

// CircuitBreakerConfig holds configuration for the circuit breaker
type CircuitBreakerConfig struct {
	FailureThreshold int           `json:"failure_threshold"`
	RecoveryTimeout  time.Duration `json:"recovery_timeout"`
	SuccessThreshold int           `json:"success_threshold"`
	// OnStateChange is called after the breaker opens or closes
	OnStateChange func(from, to CircuitBreakerState) `json:"-"`
}

// CircuitBreaker stops calling a failing dependency until a recovery timeout passes
type CircuitBreaker struct {
	mu          sync.Mutex
	config      CircuitBreakerConfig
	state       CircuitBreakerState
	failures    int
	successes   int
	nextAttempt time.Time
	now         func() time.Time
}

// NewCircuitBreaker creates a circuit breaker, filling zero config values with defaults
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 5
	}
	if config.RecoveryTimeout == 0 {
		config.RecoveryTimeout = 30 * time.Second
	}
	if config.SuccessThreshold == 0 {
		config.SuccessThreshold = 1
	}

	return &CircuitBreaker{
		config: config,
		state:  StateClosed,
		now:    time.Now,
	}
}

// Call executes fn with circuit breaker protection
func (cb *CircuitBreaker) Call(fn func() error) error {
	cb.mu.Lock()
	if cb.state == StateOpen {
		if cb.now().Before(cb.nextAttempt) {
			cb.mu.Unlock()
			return &CircuitBreakerError{Message: "circuit breaker is open", State: StateOpen}
		}
		cb.state = StateHalfOpen
		cb.successes = 0
	}
	cb.mu.Unlock()

	err := fn()
	var from, to CircuitBreakerState
	if err != nil {
		from, to = cb.onFailure()
	} else {
		from, to = cb.onSuccess()
	}
	if from != to && cb.config.OnStateChange != nil {
		cb.config.OnStateChange(from, to)
	}
	return err
}

func (cb *CircuitBreaker) onFailure() (CircuitBreakerState, CircuitBreakerState) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	from := cb.state
	cb.failures++
	cb.successes = 0

	if cb.state == StateHalfOpen || cb.failures >= cb.config.FailureThreshold {
		cb.state = StateOpen
		cb.nextAttempt = cb.now().Add(cb.config.RecoveryTimeout)
	}
	return from, cb.state
}

func (cb *CircuitBreaker) onSuccess() (CircuitBreakerState, CircuitBreakerState) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	from := cb.state
	cb.failures = 0

	if cb.state == StateHalfOpen {
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			cb.state = StateClosed
		}
	}
	return from, cb.state
}

// State returns the current state of the circuit breaker
func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Failures returns the current consecutive failure count
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// Reset resets the circuit breaker to closed state
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.failures = 0
	cb.successes = 0
}

// CircuitBreakerError is returned while the breaker is open
type CircuitBreakerError struct {
	Message string
	State   CircuitBreakerState
}

func (e *CircuitBreakerError) Error() string {
	return e.Message
}
