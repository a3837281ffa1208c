// Package ratelimit provides the per-provider pacing gate from spec.md
// §4.2: consecutive requests against one provider are separated by
// delay_ms plus a uniform jitter, with FIFO fairness among waiters.
// Grounded on golang.org/x/time/rate (an indirect dependency of the
// teacher's own go.sum) for the delay_ms floor, wrapped in a ticket queue
// so admission order matches arrival order exactly — rate.Limiter alone
// only bounds throughput, it does not promise FIFO under contention.
package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/tindry/heritagefetch/internal/clockwork"
)

// Limiter enforces delay_ms + uniform_random(0, jitter_ms) spacing between
// requests to one provider, admitting waiters strictly in FIFO order.
type Limiter struct {
	base   *rate.Limiter
	jitter time.Duration
	clock  clockwork.Clock

	mu  sync.Mutex
	rng *rand.Rand

	ticket chan struct{}
}

func New(delayMS, jitterMS int, clock clockwork.Clock) *Limiter {
	if clock == nil {
		clock = clockwork.Real{}
	}
	delay := time.Duration(delayMS) * time.Millisecond

	var lim *rate.Limiter
	if delay <= 0 {
		lim = rate.NewLimiter(rate.Inf, 1)
	} else {
		lim = rate.NewLimiter(rate.Every(delay), 1)
	}

	l := &Limiter{
		base:   lim,
		jitter: time.Duration(jitterMS) * time.Millisecond,
		clock:  clock,
		rng:    rand.New(rand.NewSource(1)),
		ticket: make(chan struct{}, 1),
	}
	l.ticket <- struct{}{}
	return l
}

// Wait blocks until it is this caller's turn: first in FIFO arrival order
// among waiters on this provider, then until the delay_ms+jitter floor
// since the previous admission has elapsed.
func (l *Limiter) Wait(ctx context.Context) error {
	select {
	case <-l.ticket:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { l.ticket <- struct{}{} }()

	if err := l.base.WaitN(ctx, 1); err != nil {
		return err
	}

	if l.jitter > 0 {
		l.mu.Lock()
		j := time.Duration(l.rng.Int63n(int64(l.jitter) + 1))
		l.mu.Unlock()

		select {
		case <-l.clock.After(j):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
