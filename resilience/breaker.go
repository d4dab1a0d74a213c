package resilience

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
)

// ErrOpen is returned without calling the protected function while the
// breaker is open.
var ErrOpen = errors.New("circuit breaker is open")

// State represents the state of a circuit breaker
type State int32

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateHalfOpen:
		return "HALF_OPEN"
	case StateOpen:
		return "OPEN"
	default:
		return "UNKNOWN"
	}
}

// Config defines configuration for the circuit breaker
type Config struct {
	// MaxFailures is the number of consecutive failures that opens the circuit
	MaxFailures int

	// Cooldown is how long the circuit stays open before a trial call is let through
	Cooldown time.Duration

	// SuccessThreshold is the number of trial successes needed to close the circuit again
	SuccessThreshold int
}

// DefaultConfig returns a default configuration
func DefaultConfig() Config {
	return Config{
		MaxFailures:      5,
		Cooldown:         30 * time.Second,
		SuccessThreshold: 1,
	}
}

// Breaker guards calls to a backend that may become unavailable. While open
// it fails fast so callers can degrade instead of waiting on timeouts.
type Breaker struct {
	config Config
	now    func() time.Time

	state     atomic.Int32
	failures  atomic.Int32
	successes atomic.Int32
	openedAt  atomic.Int64
	trial     atomic.Bool

	mu sync.Mutex
}

// NewBreaker creates a breaker. Zero config fields fall back to DefaultConfig.
func NewBreaker(config Config) *Breaker {
	def := DefaultConfig()
	if config.MaxFailures <= 0 {
		config.MaxFailures = def.MaxFailures
	}
	if config.Cooldown <= 0 {
		config.Cooldown = def.Cooldown
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = def.SuccessThreshold
	}
	return &Breaker{config: config, now: time.Now}
}

// Do runs fn unless the breaker is open and records its outcome.
func (b *Breaker) Do(fn func() error) error {
	if err := b.allow(); err != nil {
		return err
	}
	err := fn()
	b.record(err)
	return err
}

func (b *Breaker) allow() error {
	switch State(b.state.Load()) {
	case StateClosed:
		return nil
	case StateOpen:
		if b.now().Sub(time.Unix(0, b.openedAt.Load())) < b.config.Cooldown {
			return ErrOpen
		}
		b.transition(StateHalfOpen)
		fallthrough
	case StateHalfOpen:
		// one trial call at a time
		if !b.trial.CompareAndSwap(false, true) {
			return ErrOpen
		}
		return nil
	}
	return ErrOpen
}

func (b *Breaker) record(err error) {
	state := State(b.state.Load())
	if state == StateHalfOpen {
		defer b.trial.Store(false)
	}
	if err != nil {
		failures := b.failures.Add(1)
		if state == StateHalfOpen || int(failures) >= b.config.MaxFailures {
			b.transition(StateOpen)
		}
		return
	}
	switch state {
	case StateClosed:
		b.failures.Store(0)
	case StateHalfOpen:
		if int(b.successes.Add(1)) >= b.config.SuccessThreshold {
			b.transition(StateClosed)
		}
	}
}

func (b *Breaker) transition(to State) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if State(b.state.Load()) == to {
		return
	}
	b.state.Store(int32(to))
	b.successes.Store(0)
	switch to {
	case StateOpen:
		b.openedAt.Store(b.now().UnixNano())
	case StateClosed:
		b.failures.Store(0)
	}
}

// State returns the current state of the circuit breaker
func (b *Breaker) State() State {
	return State(b.state.Load())
}

// Failures returns the consecutive failure count
func (b *Breaker) Failures() int {
	return int(b.failures.Load())
}

// Reset manually closes the circuit
func (b *Breaker) Reset() {
	b.transition(StateClosed)
	b.failures.Store(0)
	b.trial.Store(false)
}
