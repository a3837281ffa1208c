// Package quota implements the Quota Ledger from spec.md §4.9: a
// per-provider daily counter that advances its window and resets when
// reset_hours has elapsed, persisted as part of the joint state document
// internal/state writes. Grounded on the teacher's atomic counter style in
// internal/engine (item.BytesWritten atomic.Uint64), generalized to a
// mutex-guarded map since each provider's state also carries wall-clock
// fields that must be updated together.
package quota

import (
	"sync"
	"time"

	"github.com/tindry/heritagefetch/internal/clockwork"
)

// State is one provider's quota window, the JSON shape persisted in the
// state file's "quota" section (spec.md §6).
type State struct {
	ProviderKey     string    `json:"provider_key"`
	UsedToday       int       `json:"used_today"`
	WindowStartWall time.Time `json:"window_start_wall"`
}

// Ledger tracks quota state for every quota-gated provider.
type Ledger struct {
	mu    sync.Mutex
	clock clockwork.Clock
	states map[string]*State
}

func New(clock clockwork.Clock) *Ledger {
	if clock == nil {
		clock = clockwork.Real{}
	}
	return &Ledger{clock: clock, states: make(map[string]*State)}
}

// LoadSnapshot replaces the ledger's in-memory state with a persisted
// snapshot (called once at startup by internal/state).
func (l *Ledger) LoadSnapshot(states map[string]*State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if states == nil {
		states = make(map[string]*State)
	}
	l.states = states
}

// Snapshot returns a copy of the current ledger for persistence.
func (l *Ledger) Snapshot() map[string]*State {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]*State, len(l.states))
	for k, v := range l.states {
		cp := *v
		out[k] = &cp
	}
	return out
}

func (l *Ledger) stateFor(providerKey string) *State {
	s, ok := l.states[providerKey]
	if !ok {
		s = &State{ProviderKey: providerKey, WindowStartWall: l.clock.Now()}
		l.states[providerKey] = s
	}
	return s
}

// advance rolls the window forward by reset_hours as many times as
// elapsed wall time allows, zeroing used_today each time it does.
func (l *Ledger) advance(s *State, resetInterval time.Duration) {
	if resetInterval <= 0 {
		return
	}
	now := l.clock.Now()
	for now.Sub(s.WindowStartWall) >= resetInterval {
		s.WindowStartWall = s.WindowStartWall.Add(resetInterval)
		s.UsedToday = 0
	}
}

// Allow reports whether one more request against providerKey is
// admissible under dailyLimit (0 = unlimited), advancing the window first.
func (l *Ledger) Allow(providerKey string, dailyLimit int, resetInterval time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.stateFor(providerKey)
	l.advance(s, resetInterval)
	if dailyLimit <= 0 {
		return true
	}
	return s.UsedToday < dailyLimit
}

// RecordUse increments used_today after a successful quota-gated download.
func (l *Ledger) RecordUse(providerKey string, resetInterval time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.stateFor(providerKey)
	l.advance(s, resetInterval)
	s.UsedToday++
}

// ResetAt returns the wall-clock time at which providerKey's window next
// resets, for building QuotaExhausted.ResetAt and Deferred ready_at.
func (l *Ledger) ResetAt(providerKey string, resetInterval time.Duration) time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.stateFor(providerKey)
	l.advance(s, resetInterval)
	return s.WindowStartWall.Add(resetInterval)
}
