// Package scheduler implements the Download Scheduler from spec.md §4.6:
// a bounded worker pool gated by a global capacity and a per-provider
// semaphore, per-task deadlines, and quota deferral. Each task attempts the
// one candidate it names; falling back to the next candidate is done by the
// caller (internal/pipeline), and shutdown follows cancellation of the
// context passed to Run or Attempt. Grounded on sourcegraph/conc/pool (used the same way
// in the example pack's usenet reader, internal-usenet-usenet_reader.go,
// for a panic-safe bounded worker pool) in place of the teacher's
// bespoke runWorkerPool (internal/engine/worker.go), and on
// golang.org/x/sync/semaphore for the per-provider admission gate
// SPEC_FULL.md §5 describes.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/sourcegraph/conc/pool"
	"golang.org/x/sync/semaphore"

	"github.com/tindry/heritagefetch/internal/deferred"
	"github.com/tindry/heritagefetch/internal/domain"
	"github.com/tindry/heritagefetch/internal/provider"
	"github.com/tindry/heritagefetch/internal/quota"
)

// Outcome is what Run reports back per task, for the Pipeline Driver to
// fold into the work's status transition.
type Outcome struct {
	Task      domain.DownloadTask
	Result    domain.DownloadOutcome
	Err       error
	Deferred  bool
	DeferID   string
}

// Settings mirrors config.DownloadConfig's scheduler-relevant fields.
type Settings struct {
	MaxParallelDownloads int
	ProviderConcurrency  map[string]int
	DefaultConcurrency   int
	WorkerTimeout        time.Duration
	WaitOnExhaustion     bool
	DownloadOpts         provider.DownloadOptions
}

// Scheduler runs DownloadTasks against a provider Registry under the
// bounds spec.md §4.6 describes.
type Scheduler struct {
	registry *provider.Registry
	ledger   *quota.Ledger
	deferQ   *deferred.Queue
	settings Settings

	providerSems map[string]*semaphore.Weighted
}

func New(registry *provider.Registry, ledger *quota.Ledger, deferQ *deferred.Queue, settings Settings) *Scheduler {
	return &Scheduler{
		registry:     registry,
		ledger:       ledger,
		deferQ:       deferQ,
		settings:     settings,
		providerSems: make(map[string]*semaphore.Weighted),
	}
}

func (s *Scheduler) providerSem(key string) *semaphore.Weighted {
	if sem, ok := s.providerSems[key]; ok {
		return sem
	}
	n := s.settings.ProviderConcurrency[key]
	if n <= 0 {
		n = s.settings.DefaultConcurrency
	}
	if n <= 0 {
		n = 1
	}
	sem := semaphore.NewWeighted(int64(n))
	s.providerSems[key] = sem
	return sem
}

// Run attempts exactly the one candidate each task names, at most
// MaxParallelDownloads at a time, and returns one Outcome per task in input
// order. Quota-exhausted tasks are pushed to the Deferred Queue when
// WaitOnExhaustion is set; trying the next fallback candidate is left to
// the Pipeline Driver.
func (s *Scheduler) Run(ctx context.Context, tasks []domain.DownloadTask) []Outcome {
	maxParallel := s.settings.MaxParallelDownloads
	if maxParallel <= 0 {
		maxParallel = 1
	}

	outcomes := make([]Outcome, len(tasks))
	p := pool.New().WithMaxGoroutines(maxParallel).WithContext(ctx)

	for i, task := range tasks {
		i, task := i, task
		p.Go(func(workerCtx context.Context) error {
			outcomes[i] = s.runOne(workerCtx, task)
			return nil
		})
	}
	_ = p.Wait()
	return outcomes
}

// Attempt runs exactly one DownloadTask outside of a batch Run call, for
// callers (the Pipeline Driver) that need to attempt one candidate at a
// time so a failure can be classified before deciding whether to try the
// next fallback.
func (s *Scheduler) Attempt(ctx context.Context, task domain.DownloadTask) Outcome {
	return s.runOne(ctx, task)
}

func (s *Scheduler) runOne(ctx context.Context, task domain.DownloadTask) Outcome {
	providerKey := task.Candidate.ProviderKey
	sem := s.providerSem(providerKey)

	if err := sem.Acquire(ctx, 1); err != nil {
		return Outcome{Task: task, Err: err}
	}
	defer sem.Release(1)

	reg, ok := s.registry.Get(providerKey)
	if !ok {
		return Outcome{Task: task, Err: errors.New("provider not registered: " + providerKey)}
	}

	timeout := s.settings.WorkerTimeout
	if !task.Deadline.IsZero() {
		if d := time.Until(task.Deadline); d > 0 && (timeout <= 0 || d < timeout) {
			timeout = d
		}
	}

	taskCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		taskCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	result, err := reg.Adapter.Download(taskCtx, task.Candidate.Candidate, task.WorkRef.WorkDir, s.settings.DownloadOpts)

	if err != nil {
		if taskCtx.Err() == context.DeadlineExceeded {
			return Outcome{Task: task, Err: &domain.TimeoutErr{}}
		}
		var qe *domain.QuotaExhausted
		if errors.As(err, &qe) {
			if s.settings.WaitOnExhaustion {
				readyAt := s.ledger.ResetAt(providerKey, reg.Settings.Quota.ResetInterval())
				id := s.deferQ.Push(task.WorkRef.WorkID, providerKey, readyAt)
				return Outcome{Task: task, Err: err, Deferred: true, DeferID: id}
			}
		}
		return Outcome{Task: task, Err: err}
	}

	return Outcome{Task: task, Result: result}
}
