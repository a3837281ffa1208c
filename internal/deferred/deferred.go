// Package deferred implements the Deferred Queue from spec.md §4.9: an
// append-only list of tasks held back by quota exhaustion, replayed once
// ready_at passes, compacted of terminal items older than 7 days.
// Grounded on the teacher's domain.QueueItem + engine.QueueManager ticker
// shape (internal/engine), generalized from a single NZB download queue
// into a ready_at-scanned deferral buffer, using google/uuid (an indirect
// teacher dependency) for item identity since deferred items are not
// content-addressed the way work_id is.
package deferred

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tindry/heritagefetch/internal/clockwork"
)

type ItemStatus string

const (
	StatusWaiting   ItemStatus = "waiting"
	StatusCompleted ItemStatus = "completed"
	StatusFailed    ItemStatus = "failed"
)

// Item is one deferred download task, persisted in the state file's
// "deferred" array (spec.md §6).
type Item struct {
	ID          string     `json:"id"`
	WorkID      string     `json:"work_id"`
	ProviderKey string     `json:"provider_key"`
	ReadyAt     time.Time  `json:"ready_at"`
	Status      ItemStatus `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	ResolvedAt  time.Time  `json:"resolved_at,omitempty"`
}

// Queue holds every deferred item for the run's lifetime, across restarts
// via LoadSnapshot/Snapshot.
type Queue struct {
	mu    sync.Mutex
	clock clockwork.Clock
	items []*Item
}

func New(clock clockwork.Clock) *Queue {
	if clock == nil {
		clock = clockwork.Real{}
	}
	return &Queue{clock: clock}
}

// Push enqueues a new deferred item and returns its generated ID.
func (q *Queue) Push(workID, providerKey string, readyAt time.Time) string {
	q.mu.Lock()
	defer q.mu.Unlock()
	id := uuid.NewString()
	q.items = append(q.items, &Item{
		ID:          id,
		WorkID:      workID,
		ProviderKey: providerKey,
		ReadyAt:     readyAt,
		Status:      StatusWaiting,
		CreatedAt:   q.clock.Now(),
	})
	return id
}

// Ready returns every waiting item whose ready_at has passed, up to limit
// items (limit <= 0 means unlimited), for the driver to re-enqueue to the
// scheduler.
func (q *Queue) Ready(limit int) []*Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.clock.Now()

	var ready []*Item
	for _, it := range q.items {
		if it.Status != StatusWaiting {
			continue
		}
		if !it.ReadyAt.After(now) {
			ready = append(ready, it)
			if limit > 0 && len(ready) >= limit {
				break
			}
		}
	}
	return ready
}

// Resolve marks an item terminal once the scheduler has replayed it.
func (q *Queue) Resolve(id string, status ItemStatus) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, it := range q.items {
		if it.ID == id {
			it.Status = status
			it.ResolvedAt = q.clock.Now()
			return
		}
	}
}

// Compact removes terminal items older than maxAge (spec.md §4.9: 7
// days), called periodically alongside the ready-scan ticker.
func (q *Queue) Compact(maxAge time.Duration) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.clock.Now()

	kept := q.items[:0]
	removed := 0
	for _, it := range q.items {
		terminal := it.Status == StatusCompleted || it.Status == StatusFailed
		if terminal && !it.ResolvedAt.IsZero() && now.Sub(it.ResolvedAt) > maxAge {
			removed++
			continue
		}
		kept = append(kept, it)
	}
	q.items = kept
	return removed
}

// LoadSnapshot replaces the queue's items with a persisted snapshot.
func (q *Queue) LoadSnapshot(items []*Item) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = items
}

// Snapshot returns a copy of every item, for persistence.
func (q *Queue) Snapshot() []*Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*Item, len(q.items))
	for i, it := range q.items {
		cp := *it
		out[i] = &cp
	}
	return out
}
