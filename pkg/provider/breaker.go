package provider

import (
	"sync"
	"time"
)

// Breaker states.
const (
	StateClosed   = "closed"
	StateOpen     = "open"
	StateHalfOpen = "half_open"
)

// Breaker is a three-state circuit breaker. Closed passes calls through and
// counts failures; MaxFailures consecutive failures open it. While open,
// calls are rejected until the reset window elapses, after which exactly one
// probe is admitted (half-open). The probe's outcome closes or reopens the
// breaker.
type Breaker struct {
	maxFailures int
	reset       time.Duration

	mu       sync.Mutex
	state    string
	failures int
	openedAt time.Time
	probing  bool

	// now is swappable for tests.
	now func() time.Time
}

// NewBreaker creates a closed breaker. maxFailures <= 0 selects 3 and
// reset <= 0 selects 30 seconds.
func NewBreaker(maxFailures int, reset time.Duration) *Breaker {
	if maxFailures <= 0 {
		maxFailures = 3
	}
	if reset <= 0 {
		reset = 30 * time.Second
	}
	return &Breaker{
		maxFailures: maxFailures,
		reset:       reset,
		state:       StateClosed,
		now:         time.Now,
	}
}

// Allow reports whether a call may proceed right now. Moving from open to
// half-open happens here; the single half-open probe slot is claimed by the
// first Allow that observes the elapsed reset window.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateHalfOpen:
		// The probe slot is already taken.
		return false
	default: // StateOpen
		if b.now().Sub(b.openedAt) < b.reset {
			return false
		}
		b.state = StateHalfOpen
		b.probing = true
		return true
	}
}

// RecordSuccess closes the breaker and clears the failure count.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
	b.probing = false
}

// RecordFailure counts a failure. In the closed state it opens the breaker
// once the threshold is reached; a failed half-open probe reopens it for a
// fresh reset window.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.state = StateOpen
		b.openedAt = b.now()
		b.probing = false
	case StateClosed:
		b.failures++
		if b.failures >= b.maxFailures {
			b.state = StateOpen
			b.openedAt = b.now()
		}
	}
}

// State returns the current state name.
func (b *Breaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.reset {
		return StateHalfOpen
	}
	return b.state
}
