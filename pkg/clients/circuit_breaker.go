package clients

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/humangenomedb/hgd/pkg/metrics"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int32

const (
	// StateClosed allows all requests to pass through
	StateClosed CircuitState = iota
	// StateOpen blocks all requests
	StateOpen
	// StateHalfOpen lets probe requests test whether the host recovered
	StateHalfOpen
)

func (s CircuitState) String() string {
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

// CircuitBreakerConfig configures a CircuitBreaker.
type CircuitBreakerConfig struct {
	FailureThreshold int           // Consecutive failures before opening
	SuccessThreshold int           // Half-open successes before closing
	OpenTimeout      time.Duration // Time spent open before probing
	HalfOpenLimit    int           // Probe requests allowed while half-open
}

// CircuitBreaker stops sending requests to a host after repeated transient
// failures, then probes it again after OpenTimeout.
type CircuitBreaker struct {
	config CircuitBreakerConfig
	host   string
	logger *zap.Logger

	mu                   sync.Mutex
	state                CircuitState
	consecutiveFailures  int
	consecutiveSuccesses int
	halfOpenInFlight     int
	nextRetryTime        time.Time
	now                  func() time.Time
}

// NewCircuitBreaker creates a closed breaker for host.
func NewCircuitBreaker(config CircuitBreakerConfig, host string, logger *zap.Logger) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 1
	}
	if config.OpenTimeout <= 0 {
		config.OpenTimeout = 30 * time.Second
	}
	if config.HalfOpenLimit <= 0 {
		config.HalfOpenLimit = 1
	}
	return &CircuitBreaker{
		config: config,
		host:   host,
		logger: logger.With(zap.String("component", "circuit_breaker"), zap.String("host", host)),
		state:  StateClosed,
		now:    time.Now,
	}
}

// Allow determines if a request should be sent.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if cb.now().Before(cb.nextRetryTime) {
			return false
		}
		cb.setState(StateHalfOpen)
		cb.consecutiveSuccesses = 0
		cb.halfOpenInFlight = 0
		fallthrough
	case StateHalfOpen:
		if cb.halfOpenInFlight >= cb.config.HalfOpenLimit {
			return false
		}
		cb.halfOpenInFlight++
		return true
	default:
		return false
	}
}

// RecordSuccess records a successful request.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures = 0
	if cb.state != StateHalfOpen {
		return
	}
	cb.consecutiveSuccesses++
	cb.halfOpenInFlight--
	if cb.consecutiveSuccesses >= cb.config.SuccessThreshold {
		cb.setState(StateClosed)
	}
}

// RecordFailure records a transient failure. Any failure while half-open
// reopens the circuit.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures++
	switch cb.state {
	case StateClosed:
		if cb.consecutiveFailures >= cb.config.FailureThreshold {
			cb.open()
		}
	case StateHalfOpen:
		cb.open()
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) open() {
	cb.setState(StateOpen)
	cb.nextRetryTime = cb.now().Add(cb.config.OpenTimeout)
	cb.consecutiveSuccesses = 0
	cb.halfOpenInFlight = 0
	cb.logger.Warn("circuit breaker opened",
		zap.Time("retry_after", cb.nextRetryTime),
		zap.Int("consecutive_failures", cb.consecutiveFailures))
}

func (cb *CircuitBreaker) setState(s CircuitState) {
	if cb.state != s {
		cb.logger.Info("circuit breaker state change",
			zap.Stringer("from", cb.state), zap.Stringer("to", s))
	}
	cb.state = s
	metrics.CircuitState.WithLabelValues(cb.host).Set(float64(s))
}
