// Package breaker implements a per-delegate circuit breaker and the
// fallback router that walks the delegate chain when circuits open.
package breaker

import (
	"sync"
	"time"
)

// State is the circuit state of one delegate.
type State string

const (
	// StateClosed means the delegate is healthy and calls flow through.
	StateClosed State = "closed"
	// StateOpen means recent failures tripped the circuit; calls are
	// rejected without spawning the delegate.
	StateOpen State = "open"
	// StateHalfOpen means the cool-down elapsed and one probe call is
	// allowed to test recovery.
	StateHalfOpen State = "half_open"
)

// Breaker is a circuit breaker for one delegate. The circuit opens when
// the failure threshold is reached within the rolling window, rejects
// calls for the cool-down period, then allows a single probe.
type Breaker struct {
	mu sync.Mutex

	threshold int
	window    time.Duration
	coolDown  time.Duration

	state    State
	failures []time.Time
	openedAt time.Time
	probing  bool

	// now is replaceable for tests.
	now func() time.Time
}

// New creates a breaker that opens after threshold failures within window
// and stays open for coolDown.
func New(threshold int, window, coolDown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 3
	}
	if window <= 0 {
		window = time.Minute
	}
	if coolDown <= 0 {
		coolDown = 30 * time.Second
	}
	return &Breaker{
		threshold: threshold,
		window:    window,
		coolDown:  coolDown,
		state:     StateClosed,
		now:       time.Now,
	}
}

// Allow reports whether a call may proceed. In the half-open state only
// the first caller gets through; the probe slot is released by Record.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.now().Sub(b.openedAt) >= b.coolDown {
			b.state = StateHalfOpen
			b.probing = true
			return true
		}
		return false
	case StateHalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	default:
		return false
	}
}

// Record reports a call outcome. A half-open success closes the circuit; a
// half-open failure reopens it and restarts the cool-down.
func (b *Breaker) Record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()

	if b.state == StateHalfOpen {
		b.probing = false
		if success {
			b.state = StateClosed
			b.failures = nil
		} else {
			b.state = StateOpen
			b.openedAt = now
		}
		return
	}

	if success {
		b.failures = nil
		return
	}

	// Drop failures that aged out of the window.
	cutoff := now.Add(-b.window)
	kept := b.failures[:0]
	for _, f := range b.failures {
		if f.After(cutoff) {
			kept = append(kept, f)
		}
	}
	b.failures = append(kept, now)

	if b.state == StateClosed && len(b.failures) >= b.threshold {
		b.state = StateOpen
		b.openedAt = now
	}
}

// State returns the current circuit state, advancing open to half-open if
// the cool-down has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.coolDown {
		return StateHalfOpen
	}
	return b.state
}

// Reset closes the circuit and clears the failure history.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = nil
	b.probing = false
}
