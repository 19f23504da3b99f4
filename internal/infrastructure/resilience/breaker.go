package resilience

import (
	"errors"
	"sync"
	"time"

	"github.com/juju/clock"
)

var (
	ErrCircuitOpen     = errors.New("circuit breaker is open")
	ErrTooManyRequests = errors.New("too many requests")
)

// State of a Breaker.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

var stateNames = [...]string{StateClosed: "closed", StateHalfOpen: "half-open", StateOpen: "open"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Settings configures a Breaker. Zero values take the defaults noted.
type Settings struct {
	MaxRequests uint32        // trial calls while half-open (1)
	Interval    time.Duration // closed state counts reset after this (1m)
	Timeout     time.Duration // open state lasts this long (1m)

	// ReadyToTrip is asked after each failure while closed
	// (ConsecutiveFailures(5)).
	ReadyToTrip func(counts Counts) bool
	// IsSuccessful classifies a call's error (err == nil).
	IsSuccessful  func(err error) bool
	OnStateChange func(name string, from, to State)
	Clock         clock.Clock
}

// Counts are the calls seen in the current generation.
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

func (c *Counts) record(success bool) {
	if success {
		c.TotalSuccesses++
		c.ConsecutiveSuccesses++
		c.ConsecutiveFailures = 0
		return
	}
	c.TotalFailures++
	c.ConsecutiveFailures++
	c.ConsecutiveSuccesses = 0
}

// ConsecutiveFailures trips the breaker after n failures in a row.
func ConsecutiveFailures(n uint32) func(Counts) bool {
	return func(c Counts) bool { return c.ConsecutiveFailures >= n }
}

// Breaker stops calling a failing dependency for Timeout once ReadyToTrip
// says so, then lets MaxRequests trial calls through. Every state change
// starts a new generation; results of calls from an older one are dropped.
type Breaker struct {
	name string
	set  Settings

	mu         sync.Mutex
	state      State
	generation uint64
	counts     Counts
	deadline   time.Time // end of the closed interval or the open timeout
}

// New creates a closed breaker.
func New(name string, settings Settings) *Breaker {
	s := settings
	if s.MaxRequests == 0 {
		s.MaxRequests = 1
	}
	if s.Interval <= 0 {
		s.Interval = time.Minute
	}
	if s.Timeout <= 0 {
		s.Timeout = time.Minute
	}
	if s.ReadyToTrip == nil {
		s.ReadyToTrip = ConsecutiveFailures(5)
	}
	if s.IsSuccessful == nil {
		s.IsSuccessful = func(err error) bool { return err == nil }
	}
	if s.Clock == nil {
		s.Clock = clock.WallClock
	}
	return &Breaker{name: name, set: s, deadline: s.Clock.Now().Add(s.Interval)}
}

func (b *Breaker) Name() string { return b.name }

// State returns the state as of now, moving open to half-open once the
// timeout has passed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advance(b.set.Clock.Now())
	return b.state
}

// Counts returns a copy of the current generation's counts.
func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts
}

// Execute runs req if the breaker accepts it. Rejected calls return
// ErrCircuitOpen or ErrTooManyRequests without running req. A panic in req
// counts as a failure and is re-raised.
func Execute[T any](b *Breaker, req func() (T, error)) (result T, err error) {
	done, err := b.allow()
	if err != nil {
		return result, err
	}
	success := false
	defer func() { done(success) }()

	result, err = req()
	success = b.set.IsSuccessful(err)
	return result, err
}

// allow admits one call and returns the func that reports its outcome.
func (b *Breaker) allow() (func(success bool), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.advance(b.set.Clock.Now())
	switch {
	case b.state == StateOpen:
		return nil, ErrCircuitOpen
	case b.state == StateHalfOpen && b.counts.Requests >= b.set.MaxRequests:
		return nil, ErrTooManyRequests
	}
	b.counts.Requests++
	gen := b.generation
	return func(success bool) { b.report(gen, success) }, nil
}

func (b *Breaker) report(gen uint64, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.set.Clock.Now()
	b.advance(now)
	if gen != b.generation {
		return
	}
	b.counts.record(success)

	switch {
	case b.state == StateHalfOpen && !success:
		b.transition(StateOpen, now)
	case b.state == StateHalfOpen && b.counts.ConsecutiveSuccesses >= b.set.MaxRequests:
		b.transition(StateClosed, now)
	case b.state == StateClosed && !success && b.set.ReadyToTrip(b.counts):
		b.transition(StateOpen, now)
	}
}

// advance applies the transitions that only depend on time.
func (b *Breaker) advance(now time.Time) {
	switch {
	case b.state == StateClosed && now.After(b.deadline):
		b.reset(now)
	case b.state == StateOpen && !now.Before(b.deadline):
		b.transition(StateHalfOpen, now)
	}
}

func (b *Breaker) transition(to State, now time.Time) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.reset(now)
	if b.set.OnStateChange != nil {
		b.set.OnStateChange(b.name, from, to)
	}
}

func (b *Breaker) reset(now time.Time) {
	b.generation++
	b.counts = Counts{}
	switch b.state {
	case StateClosed:
		b.deadline = now.Add(b.set.Interval)
	case StateOpen:
		b.deadline = now.Add(b.set.Timeout)
	default:
		b.deadline = time.Time{}
	}
}
