package resilience

import (
	"fmt"
	"sync"
	"time"

	"github.com/GriffinCanCode/AgentOS/ipcore/internal/shared/errno"
)

var (
	ErrCircuitOpen     = fmt.Errorf("circuit breaker is open: %w", errno.ErrNotReady)
	ErrTooManyRequests = fmt.Errorf("circuit breaker trial call in flight: %w", errno.ErrNotReady)
)

// State represents the circuit breaker state
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Settings configures a Breaker. Zero fields take defaults.
type Settings struct {
	// Threshold is the number of consecutive failures that opens the breaker. Default 5.
	Threshold uint32
	// Cooldown is how long the breaker stays open before admitting a trial call. Default 30s.
	Cooldown time.Duration
	// Trials is the number of successful half-open trial calls needed to close again. Default 1.
	Trials uint32
	// IsFailure decides which errors count against the target. Errors it rejects are
	// returned to the caller but recorded as successes.
	IsFailure func(err error) bool
	// OnStateChange runs under the breaker's lock on every transition.
	OnStateChange func(name string, from, to State)
	// Now is the clock; tests replace it.
	Now func() time.Time
}

func (s Settings) withDefaults() Settings {
	if s.Threshold == 0 {
		s.Threshold = 5
	}
	if s.Cooldown == 0 {
		s.Cooldown = 30 * time.Second
	}
	if s.Trials == 0 {
		s.Trials = 1
	}
	if s.IsFailure == nil {
		s.IsFailure = DefaultIsFailure
	}
	if s.Now == nil {
		s.Now = time.Now
	}
	return s
}

// Stats counts outcomes since the breaker was created.
type Stats struct {
	Successes uint32 `json:"successes"`
	Failures  uint32 `json:"failures"`
	Rejected  uint32 `json:"rejected"`
	// Streak is the current run of consecutive failures.
	Streak uint32 `json:"streak"`
}

// Breaker guards calls to one target
type Breaker struct {
	name     string
	settings Settings

	mu       sync.Mutex
	state    State
	epoch    uint64 // bumped on every transition; stale outcomes are ignored
	openedAt time.Time
	inFlight uint32 // half-open trial calls admitted in this epoch
	passed   uint32 // half-open trial calls that succeeded in this epoch
	stats    Stats
}

// DefaultIsFailure treats only liveness and readiness errors as target failures.
// Validation and permission errors are the caller's fault, not the target's.
func DefaultIsFailure(err error) bool {
	switch errno.ClassOf(err) {
	case errno.ClassAddressing, errno.ClassConcurrency, errno.ClassUnknown:
		return true
	default:
		return false
	}
}

// New creates a closed breaker.
func New(name string, settings Settings) *Breaker {
	return &Breaker{name: name, settings: settings.withDefaults()}
}

func (b *Breaker) Name() string { return b.name }

// State returns the current state, moving an expired open breaker to half-open.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refresh()
	return b.state
}

// Stats returns a copy of the outcome counters.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

// Execute runs req if the breaker admits it and records the outcome.
func (b *Breaker) Execute(req func() error) error {
	epoch, err := b.admit()
	if err != nil {
		return fmt.Errorf("%s: %w", b.name, err)
	}

	ok := false
	defer func() { b.record(epoch, ok) }()

	err = req()
	ok = err == nil || !b.settings.IsFailure(err)
	return err
}

func (b *Breaker) admit() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refresh()
	switch b.state {
	case StateOpen:
		b.stats.Rejected++
		return b.epoch, ErrCircuitOpen
	case StateHalfOpen:
		if b.inFlight >= b.settings.Trials {
			b.stats.Rejected++
			return b.epoch, ErrTooManyRequests
		}
		b.inFlight++
	}
	return b.epoch, nil
}

func (b *Breaker) record(epoch uint64, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ok {
		b.stats.Successes++
		b.stats.Streak = 0
	} else {
		b.stats.Failures++
		b.stats.Streak++
	}

	b.refresh()
	if epoch != b.epoch {
		return
	}
	switch b.state {
	case StateClosed:
		if b.stats.Streak >= b.settings.Threshold {
			b.transition(StateOpen)
		}
	case StateHalfOpen:
		if !ok {
			b.transition(StateOpen)
			return
		}
		b.passed++
		if b.passed >= b.settings.Trials {
			b.transition(StateClosed)
		}
	}
}

func (b *Breaker) refresh() {
	if b.state == StateOpen && !b.settings.Now().Before(b.openedAt.Add(b.settings.Cooldown)) {
		b.transition(StateHalfOpen)
	}
}

func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	b.epoch++
	b.inFlight, b.passed = 0, 0
	if to == StateOpen {
		b.openedAt = b.settings.Now()
	}
	if b.settings.OnStateChange != nil {
		b.settings.OnStateChange(b.name, from, to)
	}
}
