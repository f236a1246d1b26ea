// Package circuitbreaker stops calling a failing dependency for a while so
// callers fail fast instead of stacking up behind timeouts.
package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

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

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

var ErrOpen = errors.New("circuit breaker is open")

type Config struct {
	Name string
	// MaxFailures consecutive failures open the breaker.
	MaxFailures int
	// Timeout is how long the breaker stays open before probing.
	Timeout time.Duration
	// MaxRequests is the number of trials allowed while half-open.
	MaxRequests int
}

func (c *Config) sanitize(logger *logrus.Logger) {
	if c.Name == "" {
		c.Name = "unnamed"
	}
	fix := func(field string, invalid, def interface{}) {
		logger.WithFields(logrus.Fields{
			"circuit_breaker": c.Name,
			"field":           field,
			"invalid_value":   invalid,
			"default_value":   def,
		}).Warn("Invalid circuit breaker setting, using default")
	}
	if c.MaxFailures <= 0 {
		fix("MaxFailures", c.MaxFailures, 5)
		c.MaxFailures = 5
	}
	if c.Timeout <= 0 {
		fix("Timeout", c.Timeout, "30s")
		c.Timeout = 30 * time.Second
	}
	if c.MaxRequests <= 0 {
		fix("MaxRequests", c.MaxRequests, 1)
		c.MaxRequests = 1
	}
}

// Stats is a point-in-time snapshot of a breaker.
type Stats struct {
	Name            string    `json:"name"`
	State           State     `json:"state"`
	Failures        int       `json:"failures"`
	TotalRequests   int64     `json:"total_requests"`
	TotalFailures   int64     `json:"total_failures"`
	TotalSuccesses  int64     `json:"total_successes"`
	TotalRejected   int64     `json:"total_rejected"`
	StateChanges    int64     `json:"state_changes"`
	LastFailure     time.Time `json:"last_failure,omitempty"`
	LastStateChange time.Time `json:"last_state_change,omitempty"`
}

type CircuitBreaker struct {
	cfg    Config
	logger *logrus.Logger
	now    func() time.Time

	mutex    sync.Mutex
	state    State
	failures int
	trials   int
	openedAt time.Time
	stats    Stats
}

func New(cfg Config, logger *logrus.Logger) *CircuitBreaker {
	cfg.sanitize(logger)
	return &CircuitBreaker{
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		state:  StateClosed,
		stats:  Stats{Name: cfg.Name},
	}
}

// Execute runs fn unless the breaker is open. Cancellation of ctx by the
// caller is not counted against the dependency.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.admit(); err != nil {
		return err
	}

	err := fn(ctx)

	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	switch {
	case err == nil:
		cb.stats.TotalSuccesses++
		cb.failures = 0
		if cb.state == StateHalfOpen {
			cb.setState(StateClosed)
		}
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		if cb.state == StateHalfOpen && cb.trials > 0 {
			cb.trials--
		}
	default:
		cb.stats.TotalFailures++
		cb.stats.LastFailure = cb.now()
		cb.failures++
		if cb.state == StateHalfOpen || cb.failures >= cb.cfg.MaxFailures {
			cb.setState(StateOpen)
		}
	}
	return err
}

func (cb *CircuitBreaker) admit() error {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.cfg.Timeout {
		cb.setState(StateHalfOpen)
	}
	if cb.state == StateOpen || (cb.state == StateHalfOpen && cb.trials >= cb.cfg.MaxRequests) {
		cb.stats.TotalRejected++
		return fmt.Errorf("%w: %s", ErrOpen, cb.cfg.Name)
	}
	if cb.state == StateHalfOpen {
		cb.trials++
	}
	cb.stats.TotalRequests++
	return nil
}

// setState must be called with the mutex held.
func (cb *CircuitBreaker) setState(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	cb.trials = 0
	now := cb.now()
	if to == StateOpen {
		cb.openedAt = now
	}
	if to == StateClosed {
		cb.failures = 0
	}
	cb.stats.StateChanges++
	cb.stats.LastStateChange = now

	cb.logger.WithFields(logrus.Fields{
		"circuit_breaker": cb.cfg.Name,
		"from_state":      from.String(),
		"to_state":        to.String(),
	}).Info("Circuit breaker state changed")
}

// State is the state the next call would see: an open breaker whose timeout
// has passed reports half-open.
func (cb *CircuitBreaker) State() State {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.cfg.Timeout {
		return StateHalfOpen
	}
	return cb.state
}

func (cb *CircuitBreaker) Stats() Stats {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	s := cb.stats
	s.State = cb.state
	s.Failures = cb.failures
	return s
}
