// Package breaker implements the per-provider circuit breaker from
// spec.md §4.2: CLOSED/OPEN/HALF_OPEN states keyed on consecutive
// breaker-trip failures (HTTP 429, and 5xx/network errors only after
// retries are exhausted). Grounded on the teacher's domain/errors.go
// sentinel-error style, generalized from a single request outcome into a
// stateful gate the HTTP Executor consults before every attempt.
package breaker

import (
	"sync"
	"time"

	"github.com/tindry/heritagefetch/internal/clockwork"
)

type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// ErrOpen is returned by Allow when the breaker is OPEN (or HALF_OPEN with
// its single probe slot already taken).
type ErrOpen struct {
	ProviderKey string
}

func (e *ErrOpen) Error() string { return "circuit open for provider " + e.ProviderKey }

// Breaker is a single provider's circuit breaker state machine.
type Breaker struct {
	providerKey string
	threshold   int
	cooldown    time.Duration
	clock       clockwork.Clock

	mu                 sync.Mutex
	state              State
	consecutiveFailures int
	openedAt           time.Time
	probeInFlight      bool
}

func New(providerKey string, threshold int, cooldown time.Duration, clock clockwork.Clock) *Breaker {
	if clock == nil {
		clock = clockwork.Real{}
	}
	return &Breaker{
		providerKey: providerKey,
		threshold:   threshold,
		cooldown:    cooldown,
		clock:       clock,
		state:       Closed,
	}
}

// Allow must be called before every outbound request. It returns ErrOpen
// when the request must not proceed. A HALF_OPEN probe grant must be
// reported back via Success or Failure exactly once.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return nil
	case Open:
		if b.clock.Now().Sub(b.openedAt) >= b.cooldown {
			b.state = HalfOpen
			b.probeInFlight = true
			return nil
		}
		return &ErrOpen{ProviderKey: b.providerKey}
	case HalfOpen:
		if b.probeInFlight {
			return &ErrOpen{ProviderKey: b.providerKey}
		}
		b.probeInFlight = true
		return nil
	}
	return nil
}

// Success records a non-trip success (2xx, or any successful response).
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case HalfOpen:
		b.state = Closed
		b.consecutiveFailures = 0
		b.probeInFlight = false
	case Closed:
		b.consecutiveFailures = 0
	}
}

// Trip records a breaker-trip failure (429, or 5xx/network after retries
// are exhausted).
func (b *Breaker) Trip() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case HalfOpen:
		b.state = Open
		b.openedAt = b.clock.Now()
		b.probeInFlight = false
	case Closed:
		b.consecutiveFailures++
		if b.consecutiveFailures >= b.threshold {
			b.state = Open
			b.openedAt = b.clock.Now()
		}
	}
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
