// Package pipeline is the Pipeline Driver from spec.md §3/§4.7/§4.8: for
// every input record it applies the resume policy, runs the Candidate
// Selector, persists the pending work, attempts candidates strictly in
// selector order through the Download Scheduler (handling quota-exhaustion
// deferral and fallback per spec.md §4.6), and finalizes the work's
// terminal status to work.json and index.csv. Grounded on the teacher's
// internal/engine/manager.go (QueueManager.Start's pending→terminal loop
// and finalizeJob), rewritten against this spec's
// {completed,failed,deferred,no_match} states instead of the teacher's
// {downloading,processing}.
package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/tindry/heritagefetch/internal/breaker"
	"github.com/tindry/heritagefetch/internal/budget"
	"github.com/tindry/heritagefetch/internal/clockwork"
	"github.com/tindry/heritagefetch/internal/deferred"
	"github.com/tindry/heritagefetch/internal/domain"
	"github.com/tindry/heritagefetch/internal/inputcsv"
	"github.com/tindry/heritagefetch/internal/journal"
	"github.com/tindry/heritagefetch/internal/logger"
	"github.com/tindry/heritagefetch/internal/provider"
	"github.com/tindry/heritagefetch/internal/quota"
	"github.com/tindry/heritagefetch/internal/scheduler"
	"github.com/tindry/heritagefetch/internal/selector"
)

const (
	ResumeSkipCompleted   = "skip_completed"
	ResumeSkipIfHasObjects = "skip_if_has_objects"
	ResumeFromCSV         = "resume_from_csv"
	ResumeReprocessAll    = "reprocess_all"

	StrategyCollectAndSelect   = "collect_and_select"
	StrategySequentialFirstHit = "sequential_first_hit"
)

// Settings bundles the config.Config fields the driver needs, narrowed so
// this package has no direct dependency on the config package's viper tags.
type Settings struct {
	Strategy           string
	ResumeMode         string
	MaxWorkConcurrency int
	SelectorSettings   selector.Settings
	DryRun             bool
}

// Driver owns one run end to end: resume-check, search-and-select,
// journal-write, enqueue, status-update (spec.md §4 "Pipeline Driver").
type Driver struct {
	settings  Settings
	registry  *provider.Registry
	scheduler *scheduler.Scheduler
	journal   *journal.Journal
	ledger    *quota.Ledger
	deferQ    *deferred.Queue
	input     *inputcsv.File
	log       *logger.Logger
	clock     clockwork.Clock
	acct      *budget.Accountant

	mu    sync.Mutex
	works map[string]*domain.Work // work_id -> Work, for Deferred Queue replay within this run
}

func New(
	settings Settings,
	registry *provider.Registry,
	sched *scheduler.Scheduler,
	j *journal.Journal,
	ledger *quota.Ledger,
	deferQ *deferred.Queue,
	input *inputcsv.File,
	log *logger.Logger,
	clock clockwork.Clock,
	acct *budget.Accountant,
) *Driver {
	if clock == nil {
		clock = clockwork.Real{}
	}
	return &Driver{
		settings:  settings,
		registry:  registry,
		scheduler: sched,
		journal:   j,
		ledger:    ledger,
		deferQ:    deferQ,
		input:     input,
		log:       log,
		clock:     clock,
		acct:      acct,
		works:     make(map[string]*domain.Work),
	}
}

// Summary is the per-run report spec.md §7 calls for: counts by terminal
// status and total bytes by content class.
type Summary struct {
	ByStatus map[domain.Status]int
	Bytes    map[budget.Class]int64
}

// Run drives every input record to a terminal (or deferred) status,
// bounded by MaxWorkConcurrency works in flight at once.
func (d *Driver) Run(ctx context.Context, records []domain.InputRecord) Summary {
	maxConc := d.settings.MaxWorkConcurrency
	if maxConc <= 0 {
		maxConc = 1
	}

	var mu sync.Mutex
	summary := Summary{ByStatus: make(map[domain.Status]int)}

	p := pool.New().WithMaxGoroutines(maxConc).WithContext(ctx)
	for _, rec := range records {
		if d.acct.Stopped() {
			d.log.Warn("budget stop policy tripped; not starting remaining input records")
			break
		}
		rec := rec
		p.Go(func(workerCtx context.Context) error {
			status := d.processRecord(workerCtx, rec)
			mu.Lock()
			summary.ByStatus[status]++
			mu.Unlock()
			return nil
		})
	}
	_ = p.Wait()

	summary.Bytes = d.acct.UsedTotal()
	return summary
}

func (d *Driver) processRecord(ctx context.Context, rec domain.InputRecord) domain.Status {
	log := d.log.With("entry_id", rec.EntryID)

	if d.acct.Stopped() {
		log.Warn("budget stop policy tripped; skipping entry_id=%s", rec.EntryID)
		return domain.StatusFailed
	}

	workDir := d.journal.WorkDir(rec.EntryID, rec.Title, rec.Creator, rec.Year)

	if skip, existing := d.checkResume(rec, workDir); skip {
		log.Info("skipping entry_id=%s per resume_mode=%s", rec.EntryID, d.settings.ResumeMode)
		if existing != nil {
			return existing.Status
		}
		return domain.StatusCompleted
	}

	now := d.clock.Now()
	w := domain.NewWork(rec, workDir, now)
	d.acct.BeginWork(w.WorkID)
	d.registerWork(w)

	sel, err := d.search(ctx, rec)
	if err != nil {
		log.Warn("search failed for entry_id=%s: %v", rec.EntryID, err)
	}
	w.Candidates = sel.Ordered()
	w.Selection = &sel

	if !sel.HasPrimary() {
		w.Transition(domain.StatusNoMatch, string(domain.KindNoMatch), "no acceptable candidate found", d.clock.Now())
		d.finalize(w)
		return w.Status
	}

	d.persistPending(w)
	d.attempt(ctx, w, 0)
	d.finalize(w)
	return w.Status
}

// checkResume applies resume_mode (spec.md §4.8) before the selector ever
// runs. The returned *journal.WorkDocument is the prior terminal state,
// used only to report a status for the run summary when skipping.
func (d *Driver) checkResume(rec domain.InputRecord, workDir string) (bool, *journal.WorkDocument) {
	switch d.settings.ResumeMode {
	case ResumeReprocessAll:
		return false, nil

	case ResumeFromCSV:
		return rec.Retrievable, nil

	case ResumeSkipIfHasObjects:
		return hasObjects(workDir), nil

	default: // ResumeSkipCompleted, and the config default
		doc, err := d.journal.LoadWork(workDir)
		if err != nil {
			return false, nil
		}
		return doc.Status == domain.StatusCompleted, doc
	}
}

func hasObjects(workDir string) bool {
	entries, err := os.ReadDir(filepath.Join(workDir, "objects"))
	if err != nil {
		return false
	}
	for _, e := range entries {
		if e.Type().IsRegular() {
			return true
		}
	}
	return false
}

func (d *Driver) search(ctx context.Context, rec domain.InputRecord) (domain.Selection, error) {
	searchers := make([]selector.Searcher, 0)
	byKey := make(map[string]selector.Searcher)
	for _, reg := range d.registry.Enabled() {
		if reg.Adapter == nil {
			continue
		}
		searchers = append(searchers, reg.Adapter)
		byKey[reg.Adapter.Key()] = reg.Adapter
	}

	if d.settings.Strategy == StrategySequentialFirstHit {
		return selector.SequentialFirstHit(ctx, rec, byKey, d.settings.SelectorSettings)
	}
	return selector.CollectAndSelect(ctx, rec, searchers, d.settings.SelectorSettings)
}

// attempt walks w.Selection.Ordered() starting at startIdx, trying each
// candidate through the scheduler until one succeeds, one is deferred, or
// the list is exhausted (spec.md §4.6 fallback rule).
func (d *Driver) attempt(ctx context.Context, w *domain.Work, startIdx int) {
	candidates := w.Selection.Ordered()
	log := d.log.With("entry_id", w.Input.EntryID)

	for idx := startIdx; idx < len(candidates); idx++ {
		cand := candidates[idx]
		providerKey := cand.ProviderKey

		reg, ok := d.registry.Get(providerKey)
		if !ok {
			log.Warn("provider %q not registered, skipping candidate", providerKey)
			continue
		}

		if reg.Settings.Quota.Enabled {
			resetInterval := reg.Settings.Quota.ResetInterval()
			if !d.ledger.Allow(providerKey, reg.Settings.Quota.DailyLimit, resetInterval) {
				if d.handleQuotaExhausted(w, providerKey, resetInterval) {
					return
				}
				continue
			}
		}

		if d.settings.DryRun {
			w.Transition(domain.StatusCompleted, "", "dry-run: work.json persisted without download", d.clock.Now())
			return
		}

		task := domain.DownloadTask{WorkRef: w, Candidate: cand, AttemptIdx: idx}
		outcome := d.scheduler.Attempt(ctx, task)

		if outcome.Err == nil {
			if reg.Settings.Quota.Enabled {
				d.ledger.RecordUse(providerKey, reg.Settings.Quota.ResetInterval())
			}
			w.Transition(domain.StatusCompleted, "", providerKey+":completed", d.clock.Now())
			d.markRetrievable(w, cand)
			return
		}

		if outcome.Deferred {
			// The scheduler already pushed this to the Deferred Queue
			// (its own wait_on_exhaustion setting fired); don't push again.
			w.Transition(domain.StatusDeferred, string(domain.KindQuotaExhausted), "deferred: "+outcome.DeferID, d.clock.Now())
			return
		}

		kind := domain.ClassifyKind(outcome.Err)
		log.Warn("candidate %s:%s failed: %s (%v)", providerKey, cand.SourceID, kind, outcome.Err)

		var qe *domain.QuotaExhausted
		if errors.As(outcome.Err, &qe) {
			resetInterval := reg.Settings.Quota.ResetInterval()
			if d.handleQuotaExhausted(w, providerKey, resetInterval) {
				return
			}
			continue
		}

		var co *domain.CircuitOpen
		if errors.As(outcome.Err, &co) && d.allBreakersOpen() {
			w.Transition(domain.StatusFailed, "all-providers-unavailable", "every enabled provider's circuit is open", d.clock.Now())
			return
		}

		w.RecordAttemptFailure(providerKey, cand.SourceID, kind, d.clock.Now())
	}

	if !w.IsTerminal() {
		w.Transition(domain.StatusFailed, "", "all candidates (primary + fallbacks) failed", d.clock.Now())
	}
}

// handleQuotaExhausted defers the work if wait_on_exhaustion is configured
// for this provider, returning true if the work is now deferred (caller
// must stop the attempt loop); false means the caller should fall back to
// the next candidate.
func (d *Driver) handleQuotaExhausted(w *domain.Work, providerKey string, resetInterval time.Duration) bool {
	reg, _ := d.registry.Get(providerKey)
	if !reg.Settings.Quota.WaitForReset {
		return false
	}
	readyAt := d.ledger.ResetAt(providerKey, resetInterval)
	id := d.deferQ.Push(w.WorkID, providerKey, readyAt)
	w.Transition(domain.StatusDeferred, string(domain.KindQuotaExhausted), "deferred: "+id, d.clock.Now())
	return true
}

// allBreakersOpen reports whether every enabled provider's breaker is
// currently OPEN, the condition under which a run-wide "all providers
// unavailable" failure is recorded instead of an ordinary fallback
// exhaustion (spec.md §7).
func (d *Driver) allBreakersOpen() bool {
	enabled := d.registry.Enabled()
	if len(enabled) == 0 {
		return false
	}
	for _, reg := range enabled {
		brk, ok := d.registry.Breaker(reg.Settings.Key)
		if !ok {
			return false
		}
		if brk.State() != breaker.Open {
			return false
		}
	}
	return true
}

func (d *Driver) markRetrievable(w *domain.Work, cand domain.ScoredCandidate) {
	if d.input == nil {
		return
	}
	if err := d.input.UpdateRetrievableAndLink(w.Input.EntryID, true, cand.ItemURL); err != nil {
		d.log.Warn("failed to update input CSV for entry_id=%s: %v", w.Input.EntryID, err)
	}
}

func (d *Driver) persistPending(w *domain.Work) {
	doc := journal.DocumentFromWork(w)
	if err := d.journal.SaveWork(w.WorkDir, doc); err != nil {
		d.log.Error("failed to persist pending work.json for entry_id=%s: %v", w.Input.EntryID, err)
	}
}

func (d *Driver) finalize(w *domain.Work) {
	doc := journal.DocumentFromWork(w)
	if err := d.journal.SaveWork(w.WorkDir, doc); err != nil {
		d.log.Error("failed to persist final work.json for entry_id=%s: %v", w.Input.EntryID, err)
	}

	row := journal.IndexRow{
		WorkID:  w.WorkID,
		EntryID: w.Input.EntryID,
		WorkDir: w.WorkDir,
		Title:   w.Input.Title,
		Creator: w.Input.Creator,
		WorkJSON: w.WorkDir + "/work.json",
		Status:  string(w.Status),
	}
	if w.Selection != nil && w.Selection.HasPrimary() {
		p := w.Selection.Primary
		row.SelectedProvider = p.ProviderDisplayName
		row.SelectedProviderKey = p.ProviderKey
		row.SelectedSourceID = p.SourceID
		row.SelectedDir = w.WorkDir + "/objects"
		row.ItemURL = p.ItemURL
	}
	if err := d.journal.AppendIndex(row); err != nil {
		d.log.Error("failed to append index.csv row for entry_id=%s: %v", w.Input.EntryID, err)
	}
}

func (d *Driver) registerWork(w *domain.Work) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.works[w.WorkID] = w
}

func (d *Driver) lookupWork(workID string) (*domain.Work, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	w, ok := d.works[workID]
	return w, ok
}

// ReplayDeferred is invoked by the deferred-queue ticker (SPEC_FULL.md
// §4.9/5): it asks the queue for every item whose ready_at has passed and
// resumes each one's attempt loop starting at the next candidate after the
// one that triggered the deferral.
func (d *Driver) ReplayDeferred(ctx context.Context, limit int) {
	for _, item := range d.deferQ.Ready(limit) {
		w, ok := d.lookupWork(item.WorkID)
		if !ok || w.Selection == nil {
			d.log.Warn("deferred item %s references unknown work_id=%s (not rehydrated this run); skipping", item.ID, item.WorkID)
			d.deferQ.Resolve(item.ID, deferred.StatusFailed)
			continue
		}

		nextIdx := nextCandidateIndex(w.Selection.Ordered(), item.ProviderKey)
		d.attempt(ctx, w, nextIdx)
		d.finalize(w)

		if w.IsTerminal() {
			if w.Status == domain.StatusCompleted {
				d.deferQ.Resolve(item.ID, deferred.StatusCompleted)
			} else {
				d.deferQ.Resolve(item.ID, deferred.StatusFailed)
			}
		}
	}
	d.deferQ.Compact(7 * 24 * time.Hour)
}

func nextCandidateIndex(candidates []domain.ScoredCandidate, deferredProviderKey string) int {
	for i, c := range candidates {
		if c.ProviderKey == deferredProviderKey {
			return i + 1
		}
	}
	return len(candidates)
}
