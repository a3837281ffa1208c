package domain

import "time"

// Status is a Work's lifecycle state (spec §4.7).
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusDeferred  Status = "deferred"
	StatusNoMatch   Status = "no_match"
)

// CanTransitionTo reports whether moving from s to next is a legal
// transition per the state machine in spec §4.7.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		switch next {
		case StatusCompleted, StatusFailed, StatusDeferred, StatusNoMatch:
			return true
		}
	case StatusDeferred:
		switch next {
		case StatusCompleted, StatusFailed:
			return true
		}
	}
	return false
}

// HistoryEntry is one status transition recorded in work.json.history.
type HistoryEntry struct {
	Status     Status    `json:"status"`
	ReasonKind string    `json:"reason_kind,omitempty"`
	Message    string    `json:"message,omitempty"`
	At         time.Time `json:"at"`
}

// Work is one logical task corresponding to one InputRecord.
type Work struct {
	Input      InputRecord
	WorkID     string
	WorkDir    string
	Candidates []ScoredCandidate
	Selection  *Selection
	Status     Status
	CreatedAt  time.Time
	UpdatedAt  time.Time
	History    []HistoryEntry
}

// NewWork constructs a pending Work for an input record, deriving the
// stable work_id from entry_id+title.
func NewWork(input InputRecord, workDir string, now time.Time) *Work {
	w := &Work{
		Input:     input,
		WorkID:    WorkID(input.EntryID, input.Title),
		WorkDir:   workDir,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	w.appendHistory(StatusPending, "", "", now)
	return w
}

// Transition moves the work to a new terminal (or deferred) status,
// recording the transition. It is a no-op reported as false if the
// transition is not legal from the current status.
func (w *Work) Transition(next Status, reasonKind, message string, at time.Time) bool {
	if !w.Status.CanTransitionTo(next) {
		return false
	}
	w.Status = next
	w.UpdatedAt = at
	w.appendHistory(next, reasonKind, message, at)
	return true
}

// RecordAttemptFailure appends a non-terminal history entry for one failed
// candidate attempt, without changing w.Status — the driver calls this
// between fallback attempts so work.json's history shows every candidate
// tried, not just the final outcome (spec.md §7 "Metadata is persisted
// even when the final status is failed").
func (w *Work) RecordAttemptFailure(providerKey, sourceID string, kind Kind, at time.Time) {
	w.appendHistory(w.Status, string(kind), providerKey+":"+sourceID+":failed:"+string(kind), at)
}

func (w *Work) appendHistory(status Status, reasonKind, message string, at time.Time) {
	w.History = append(w.History, HistoryEntry{
		Status:     status,
		ReasonKind: reasonKind,
		Message:    message,
		At:         at,
	})
}

// IsTerminal reports whether the work has reached a status the driver will
// not act on again (deferred is re-visited on replay, so it is not terminal
// for resume purposes even though it persists to index.csv).
func (w *Work) IsTerminal() bool {
	switch w.Status {
	case StatusCompleted, StatusFailed, StatusNoMatch:
		return true
	}
	return false
}
