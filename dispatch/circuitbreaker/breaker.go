package circuitbreaker

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrOpen is returned when a call is rejected because the breaker is OPEN
// and the cooldown has not elapsed. The wrapped function is never invoked.
var ErrOpen = errors.New("circuitbreaker: open")

// State is the breaker position for one backend.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// String returns the lowercase state name.
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

// OpenError reports a rejected call with the remaining cooldown, for
// diagnostics. It unwraps to ErrOpen.
type OpenError struct {
	Name      string
	Remaining time.Duration
	Failures  int
	Threshold int
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker %s is OPEN, retry in %s (failures: %d/%d)",
		e.Name, e.Remaining.Round(time.Second), e.Failures, e.Threshold)
}

func (e *OpenError) Unwrap() error { return ErrOpen }

// Snapshot is a consistent read of one breaker's state for observability.
type Snapshot struct {
	Name        string
	State       State
	Failures    int
	Successes   int
	LastFailure time.Time
}

// Breaker is the failure state machine for a single backend.
//
// All state mutation happens under one mutex, which is never held across
// the wrapped call.
type Breaker struct {
	name   string
	cfg    Config
	logger *zap.Logger
	now    func() time.Time

	mu          sync.Mutex
	state       State
	failures    int
	successes   int
	lastFailure time.Time
}

// New creates a closed breaker for the named backend. Zero config fields
// fall back to DefaultConfig values.
func New(name string, cfg Config, logger *zap.Logger) *Breaker {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Breaker{
		name:   name,
		cfg:    cfg.withDefaults(),
		logger: logger,
		now:    time.Now,
	}
}

// State returns the current raw state. An elapsed cooldown is only acted on
// by a call attempt, not by reads.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.state
}

// CanExecute reports whether a call attempted now would be allowed through.
// True in CLOSED and HALF_OPEN; in OPEN only once the cooldown has elapsed.
func (b *Breaker) CanExecute() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateOpen {
		return true
	}

	return b.now().Sub(b.lastFailure) >= b.cfg.OpenTimeout
}

// Call runs fn through the breaker. In OPEN with an unexpired cooldown it
// fails immediately with an *OpenError and fn is never invoked. An elapsed
// cooldown transitions to HALF_OPEN and lets this call through as a trial.
func (b *Breaker) Call(fn func() (any, error)) (any, error) {
	if err := b.beforeCall(); err != nil {
		return nil, err
	}

	result, err := fn()
	if err != nil {
		b.onFailure()

		return nil, err
	}

	b.onSuccess()

	return result, nil
}

// Snapshot returns a consistent copy of the breaker's counters and state.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Snapshot{
		Name:        b.name,
		State:       b.state,
		Failures:    b.failures,
		Successes:   b.successes,
		LastFailure: b.lastFailure,
	}
}

func (b *Breaker) beforeCall() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateOpen {
		return nil
	}

	elapsed := b.now().Sub(b.lastFailure)
	if elapsed < b.cfg.OpenTimeout {
		return &OpenError{
			Name:      b.name,
			Remaining: b.cfg.OpenTimeout - elapsed,
			Failures:  b.failures,
			Threshold: b.cfg.FailureThreshold,
		}
	}

	b.state = StateHalfOpen
	b.successes = 0
	b.logger.Info("circuit breaker trying recovery",
		zap.String("backend", b.name),
		zap.String("state", b.state.String()))

	return nil
}

func (b *Breaker) onSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.state = StateClosed
			b.failures = 0
			b.successes = 0
			b.logger.Info("circuit breaker recovered",
				zap.String("backend", b.name),
				zap.String("state", b.state.String()))
		}
	case StateClosed:
		// Decay the failure run so a lone transient failure does not
		// linger toward the threshold forever.
		if b.failures > 0 {
			b.failures--
		}
	case StateOpen:
		// Unreachable: a successful call implies beforeCall moved us out
		// of OPEN already.
	}
}

func (b *Breaker) onFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailure = b.now()
	b.failures++

	switch b.state {
	case StateHalfOpen:
		b.state = StateOpen
		b.logger.Warn("circuit breaker recovery failed, reopening",
			zap.String("backend", b.name))
	case StateClosed:
		if b.failures >= b.cfg.FailureThreshold {
			b.state = StateOpen
			b.logger.Error("circuit breaker opened",
				zap.String("backend", b.name),
				zap.Int("failures", b.failures))
		}
	case StateOpen:
	}
}
