// Package circuitbreaker guards the upstream weather API: after repeated
// failures the circuit opens and calls fail fast, then a probe window
// decides whether to close it again.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

// State is the circuit state.
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
		return "half_open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned by Call while the circuit is open and the cool-off
// period has not elapsed.
var ErrOpen = errors.New("circuit breaker open")

// Config holds breaker parameters. Zero values fall back to defaults.
type Config struct {
	FailureThreshold int           // consecutive failures before opening (default 5)
	SuccessThreshold int           // half-open successes before closing (default 2)
	CoolOff          time.Duration // open duration before allowing a probe (default 30s)
	OnStateChange    func(from, to State)
}

// Breaker is a mutex-guarded three-state circuit breaker.
type Breaker struct {
	mu           sync.Mutex
	state        State
	failures     int
	successes    int
	openedAt     time.Time
	failureLimit int
	successLimit int
	coolOff      time.Duration
	onChange     func(from, to State)
}

// New creates a Breaker from cfg, applying defaults for unset fields.
func New(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.CoolOff <= 0 {
		cfg.CoolOff = 30 * time.Second
	}
	return &Breaker{
		state:        StateClosed,
		failureLimit: cfg.FailureThreshold,
		successLimit: cfg.SuccessThreshold,
		coolOff:      cfg.CoolOff,
		onChange:     cfg.OnStateChange,
	}
}

// Call runs fn when the circuit allows it. When open, returns ErrOpen until
// the cool-off elapses, then lets one probe through in half-open state.
// fn's outcome drives the state machine.
func (b *Breaker) Call(fn func() error) error {
	b.mu.Lock()
	if b.state == StateOpen {
		if time.Since(b.openedAt) < b.coolOff {
			b.mu.Unlock()
			return ErrOpen
		}
		b.transition(StateHalfOpen)
		b.successes = 0
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.failures++
		if b.state == StateHalfOpen || b.failures >= b.failureLimit {
			b.openedAt = time.Now()
			b.failures = 0
			b.transition(StateOpen)
		}
		return err
	}
	b.failures = 0
	if b.state == StateHalfOpen {
		b.successes++
		if b.successes >= b.successLimit {
			b.successes = 0
			b.transition(StateClosed)
		}
	}
	return nil
}

// transition moves to the target state and fires the callback. Caller holds mu.
func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if b.onChange != nil {
		b.onChange(from, to)
	}
}

// State returns the current state, for metrics and tests.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
