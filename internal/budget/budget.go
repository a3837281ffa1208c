// Package budget implements the Budget Accountant (spec.md §4.1): byte
// counters keyed by (scope, content class), enforcing total and per-work
// caps with a streaming truncate-on-exceed rule. Grounded on the teacher's
// internal/engine counters (item.BytesWritten atomic.Uint64 in
// internal/engine/downloader.go) generalized from one running total to a
// scope/class matrix guarded by a mutex.
package budget

import (
	"sync"
)

// Class is the artifact content class a byte count is attributed to.
type Class string

const (
	ClassPDF      Class = "pdf"
	ClassImage    Class = "image"
	ClassMetadata Class = "metadata"
)

// ClassForExtension derives a Class from a file extension (without the dot,
// case-insensitive match expected from the caller).
func ClassForExtension(ext string) Class {
	switch ext {
	case "pdf", "epub":
		return ClassPDF
	case "jpg", "jpeg", "png", "tif", "tiff", "gif", "webp", "jp2":
		return ClassImage
	case "json", "xml":
		return ClassMetadata
	default:
		return ClassMetadata
	}
}

// Policy is the action taken when a reservation or streaming check fails.
type Policy string

const (
	PolicySkip Policy = "skip"
	PolicyStop Policy = "stop"
)

// Limits holds normalized byte ceilings per content class. Zero means
// unlimited.
type Limits struct {
	PDF      int64
	Image    int64
	Metadata int64
}

func (l Limits) forClass(c Class) int64 {
	switch c {
	case ClassPDF:
		return l.PDF
	case ClassImage:
		return l.Image
	default:
		return l.Metadata
	}
}

// Exceeded is returned by Reserve/Account/StreamChunk when a limit is hit.
type Exceeded struct {
	Scope string
	Class Class
}

func (e *Exceeded) Error() string {
	return "budget exceeded: scope=" + e.Scope + " class=" + string(e.Class)
}

// Accountant tracks cumulative bytes written per class at two scopes: the
// whole run ("total") and the current work ("per_work"). per_work resets on
// BeginWork.
type Accountant struct {
	mu       sync.Mutex
	total    Limits
	perWork  Limits
	policy   Policy
	usedTotal   map[Class]int64
	usedPerWork map[Class]int64
	stopped     bool
}

func New(total, perWork Limits, policy Policy) *Accountant {
	return &Accountant{
		total:       total,
		perWork:     perWork,
		policy:      policy,
		usedTotal:   make(map[Class]int64),
		usedPerWork: make(map[Class]int64),
	}
}

// BeginWork resets the per-work counters for a new work_id. The total
// counters persist across works for the lifetime of the run.
func (a *Accountant) BeginWork(workID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.usedPerWork = make(map[Class]int64)
}

// Stopped reports whether a stop-policy violation has already fired.
func (a *Accountant) Stopped() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stopped
}

// Reserve is the pre-flight admission check. estimatedBytes of 0 always
// succeeds (the streaming-unknown-size case); StreamChunk enforces the
// limit as bytes arrive instead.
func (a *Accountant) Reserve(class Class, estimatedBytes int64) error {
	if estimatedBytes <= 0 {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if limit := a.total.forClass(class); limit > 0 && a.usedTotal[class]+estimatedBytes > limit {
		return a.trip("total", class)
	}
	if limit := a.perWork.forClass(class); limit > 0 && a.usedPerWork[class]+estimatedBytes > limit {
		return a.trip("per_work", class)
	}
	return nil
}

// Account commits actual bytes written for a completed artifact.
func (a *Accountant) Account(class Class, actualBytes int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.usedTotal[class] += actualBytes
	a.usedPerWork[class] += actualBytes
}

// StreamChunk is called after each chunk of a streaming download, with the
// cumulative size of the in-flight file so far. It only checks limits
// against bytes already committed by Account plus this file's running
// total — it never commits anything itself, so a subsequent Account call
// for the same (now-complete) file counts size(f) exactly once (invariant
// 2). The caller must truncate and delete the in-flight file the instant
// this returns a non-nil error.
func (a *Accountant) StreamChunk(class Class, cumulativeBytes int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if limit := a.total.forClass(class); limit > 0 && a.usedTotal[class]+cumulativeBytes > limit {
		return a.trip("total", class)
	}
	if limit := a.perWork.forClass(class); limit > 0 && a.usedPerWork[class]+cumulativeBytes > limit {
		return a.trip("per_work", class)
	}
	return nil
}

func (a *Accountant) trip(scope string, class Class) *Exceeded {
	if a.policy == PolicyStop {
		a.stopped = true
	}
	return &Exceeded{Scope: scope, Class: class}
}

// UsedTotal returns a snapshot of cumulative bytes by class, for the
// per-run summary (spec.md §7).
func (a *Accountant) UsedTotal() map[Class]int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[Class]int64, len(a.usedTotal))
	for k, v := range a.usedTotal {
		out[k] = v
	}
	return out
}
