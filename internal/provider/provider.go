// Package provider defines the Provider Adapter Contract (spec.md §4.4)
// and a Registry that lazily builds each provider's rate limiter and
// circuit breaker, mirroring the teacher's indexer.BaseManager
// (internal/indexer/manager.go) — a name-keyed map of adapters guarded by
// a mutex, generalized with the per-key limiter/breaker pairing
// SPEC_FULL.md §4.11 calls for so no package-level mutable state leaks
// across providers.
package provider

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tindry/heritagefetch/internal/breaker"
	"github.com/tindry/heritagefetch/internal/budget"
	"github.com/tindry/heritagefetch/internal/clockwork"
	"github.com/tindry/heritagefetch/internal/domain"
	"github.com/tindry/heritagefetch/internal/httpexec"
	"github.com/tindry/heritagefetch/internal/ratelimit"
)

// DownloadOptions narrows domain's config surface to what an adapter needs.
type DownloadOptions struct {
	PreferPDFOverImages     bool
	MaxPages                int
	MaxRenderingsPerManifest int
	AllowedExtensions       []string
	RenderingMimeWhitelist  []string
	IncludeMetadata         bool
	Budget                  *budget.Accountant
}

// Adapter is the contract every reference provider (provider/ia,
// provider/iiif) implements, and the interface the Selector/Scheduler
// depend on instead of a concrete type.
type Adapter interface {
	Key() string
	Search(ctx context.Context, title, creator string, maxResults int) ([]domain.Candidate, error)
	Download(ctx context.Context, candidate domain.Candidate, workDir string, opts DownloadOptions) (domain.DownloadOutcome, error)
}

// Registration is what the Registry holds per provider key: the adapter
// plus the settings needed to construct its limiter/breaker/executor.
type Registration struct {
	Adapter  Adapter
	Settings domain.ProviderSettings
}

// Registry resolves provider_key -> Adapter and lazily owns the
// per-provider RateLimiter/Breaker/Executor triple, built once and reused
// for the lifetime of the run (spec.md §9 design note: avoid implicit
// module-level mutable state by keeping it all here, injected once from
// the composition root).
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Registration
	limiters map[string]*ratelimit.Limiter
	breakers map[string]*breaker.Breaker
	executors map[string]*httpexec.Executor
	clock    clockwork.Clock
}

func NewRegistry(clock clockwork.Clock) *Registry {
	if clock == nil {
		clock = clockwork.Real{}
	}
	return &Registry{
		entries:   make(map[string]*Registration),
		limiters:  make(map[string]*ratelimit.Limiter),
		breakers:  make(map[string]*breaker.Breaker),
		executors: make(map[string]*httpexec.Executor),
		clock:     clock,
	}
}

// Register adds a provider adapter and its settings. Must be called from
// the composition root before any Search/Download is attempted.
func (r *Registry) Register(reg *Registration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[reg.Settings.Key] = reg
}

// SetAdapter attaches a constructed Adapter to an already-registered
// provider key, for the common construction order where the adapter
// itself needs the Executor that Registry.Executor lazily builds.
func (r *Registry) SetAdapter(key string, adapter Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if reg, ok := r.entries[key]; ok {
		reg.Adapter = adapter
	}
}

func (r *Registry) Get(key string) (*Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.entries[key]
	return reg, ok
}

// Enabled returns every registered provider with Settings.Enabled true.
// The order of the result is not defined (map iteration order).
func (r *Registry) Enabled() []*Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Registration, 0, len(r.entries))
	for _, reg := range r.entries {
		if reg.Settings.Enabled {
			out = append(out, reg)
		}
	}
	return out
}

// Executor lazily constructs (once) and returns the shared HTTP Executor
// for a provider key.
func (r *Registry) Executor(key string) (*httpexec.Executor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ex, ok := r.executors[key]; ok {
		return ex, nil
	}
	reg, ok := r.entries[key]
	if !ok {
		return nil, fmt.Errorf("provider %q is not registered", key)
	}

	net := reg.Settings.Network
	lim := ratelimit.New(net.DelayMS, net.JitterMS, r.clock)
	threshold := net.CircuitBreakerThreshold
	if threshold <= 0 {
		threshold = 5
	}
	brk := breaker.New(key, threshold, time.Duration(net.CircuitBreakerCooldownS*float64(time.Second)), r.clock)

	ex := httpexec.New(nil, lim, brk, httpexec.Settings{
		MaxAttempts:       net.MaxAttempts,
		BaseBackoffS:      net.BaseBackoffS,
		BackoffMultiplier: net.BackoffMultiplier,
		MaxBackoffS:       net.MaxBackoffS,
		TimeoutS:          net.TimeoutS,
		SSLErrorPolicy:    net.SSLErrorPolicy,
	}, r.clock)

	r.limiters[key] = lim
	r.breakers[key] = brk
	r.executors[key] = ex
	return ex, nil
}

func (r *Registry) Breaker(key string) (*breaker.Breaker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.breakers[key]
	return b, ok
}
