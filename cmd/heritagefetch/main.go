// Command heritagefetch is the composition root: it loads configuration,
// wires the Provider Registry, Selector, Scheduler and Pipeline Driver, and
// drives one run of the input CSV to completion. Grounded on the teacher's
// cmd/gonzb/main.go (signal-driven cancellation context, sequential
// wire-up, cobra.Command.Run), generalized from gonzb's single NZB-file
// argument to heritagefetch's CSV-of-records input and multi-provider
// registry.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tindry/heritagefetch/internal/budget"
	"github.com/tindry/heritagefetch/internal/clockwork"
	"github.com/tindry/heritagefetch/internal/config"
	"github.com/tindry/heritagefetch/internal/deferred"
	"github.com/tindry/heritagefetch/internal/domain"
	"github.com/tindry/heritagefetch/internal/inputcsv"
	"github.com/tindry/heritagefetch/internal/journal"
	"github.com/tindry/heritagefetch/internal/logger"
	"github.com/tindry/heritagefetch/internal/pipeline"
	"github.com/tindry/heritagefetch/internal/provider"
	"github.com/tindry/heritagefetch/internal/provider/ia"
	"github.com/tindry/heritagefetch/internal/provider/iiif"
	"github.com/tindry/heritagefetch/internal/quota"
	"github.com/tindry/heritagefetch/internal/scheduler"
	"github.com/tindry/heritagefetch/internal/selector"
	"github.com/tindry/heritagefetch/internal/state"
)

const (
	exitSuccess      = 0
	exitConfigError  = 2
	exitInputError   = 3
	exitBudgetStop   = 4
	exitCancellation = 130
)

var (
	outRoot          string
	dryRun           bool
	logLevel         string
	configPath       string
	forceInteractive bool
	forceCLI         bool
	quotaStatus      bool
	cleanupDeferred  bool
)

var rootCmd = &cobra.Command{
	Use:   "heritagefetch [input.csv]",
	Short: "heritagefetch fetches digitized historical works from heterogeneous library providers",
	Long:  "Searches, scores, and downloads digitized works listed in an input CSV across many digital-library providers, with per-provider pacing, retry, circuit-breaking, quotas and storage budgets.",
	Args:  cobra.MaximumNArgs(1),
	Run:   runRoot,
}

func init() {
	rootCmd.Flags().StringVar(&outRoot, "out", "", "output directory (overrides general.output_root)")
	rootCmd.Flags().BoolVar(&dryRun, "dry-run", false, "select candidates and persist work.json without downloading")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "", "log level: debug|info|warn|error (overrides log.level)")
	rootCmd.Flags().StringVar(&configPath, "config", "config.yaml", "path to the YAML configuration document")
	rootCmd.Flags().BoolVar(&forceInteractive, "force-interactive", false, "request the interactive terminal UI; this binary has none, so it logs a warning and runs in batch mode")
	rootCmd.Flags().BoolVar(&forceCLI, "force-cli", false, "force non-interactive batch mode even when stdout is a TTY")
	rootCmd.Flags().BoolVar(&quotaStatus, "quota-status", false, "print the quota ledger and deferred queue, then exit")
	rootCmd.Flags().BoolVar(&cleanupDeferred, "cleanup-deferred", false, "compact the deferred queue's resolved entries, then exit")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitConfigError)
	}
}

func runRoot(cmd *cobra.Command, args []string) {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(exitConfigError)
	}
	if outRoot != "" {
		cfg.General.OutputRoot = outRoot
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}

	log, err := logger.New(cfg.Log.Path, logger.ParseLevel(cfg.Log.Level), cfg.Log.IncludeStdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open log file %q: %v\n", cfg.Log.Path, err)
		os.Exit(exitConfigError)
	}

	if forceInteractive && !forceCLI {
		log.Warn("--force-interactive requested, but the interactive terminal UI is an external collaborator not built into this binary; continuing in batch mode")
	}

	clock := clockwork.Real{}
	ledger := quota.New(clock)
	deferQ := deferred.New(clock)

	statePath := filepath.Join(cfg.General.OutputRoot, ".downloader_state.json")
	if err := state.Restore(statePath, ledger, deferQ); err != nil {
		log.Warn("failed to restore state file %q: %v (starting with empty quota/deferred state)", statePath, err)
	}

	if quotaStatus {
		printQuotaStatus(ledger, deferQ)
		os.Exit(exitSuccess)
	}

	if cleanupDeferred {
		n := deferQ.Compact(7 * 24 * time.Hour)
		fmt.Printf("compacted %d resolved deferred entries\n", n)
		if err := state.Sync(statePath, ledger, deferQ); err != nil {
			fmt.Fprintf(os.Stderr, "failed to persist state after compaction: %v\n", err)
			os.Exit(exitConfigError)
		}
		os.Exit(exitSuccess)
	}

	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "error: an input CSV path is required")
		cmd.Usage()
		os.Exit(exitInputError)
	}
	inputPath := args[0]

	input, err := inputcsv.Load(inputPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read input CSV %q: %v\n", inputPath, err)
		os.Exit(exitInputError)
	}

	j := journal.New(cfg.General.OutputRoot, cfg.Naming.TitleSlugMaxLen)

	registry := provider.NewRegistry(clock)
	if err := registerProviders(registry, j, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "provider configuration error: %v\n", err)
		os.Exit(exitConfigError)
	}

	acct := budget.New(
		budget.Limits{
			PDF:      int64(cfg.DownloadLimits.Total.PDFsGB * 1_000_000_000),
			Image:    int64(cfg.DownloadLimits.Total.ImagesGB * 1_000_000_000),
			Metadata: int64(cfg.DownloadLimits.Total.MetadataMB * 1_000_000),
		},
		budget.Limits{
			PDF:      int64(cfg.DownloadLimits.PerWork.PDFsGB * 1_000_000_000),
			Image:    int64(cfg.DownloadLimits.PerWork.ImagesGB * 1_000_000_000),
			Metadata: int64(cfg.DownloadLimits.PerWork.MetadataMB * 1_000_000),
		},
		budget.Policy(cfg.Download.PolicyOnExceed),
	)

	downloadOpts := provider.DownloadOptions{
		PreferPDFOverImages:      cfg.Download.PreferPDFOverImages,
		MaxPages:                 cfg.Download.MaxPages,
		MaxRenderingsPerManifest: cfg.Download.MaxRenderingsPerManifest,
		AllowedExtensions:        cfg.Download.AllowedObjectExtensions,
		RenderingMimeWhitelist:   cfg.Download.RenderingMimeWhitelist,
		IncludeMetadata:          cfg.Download.IncludeMetadata,
		Budget:                   acct,
	}

	sched := scheduler.New(registry, ledger, deferQ, scheduler.Settings{
		MaxParallelDownloads: cfg.Download.MaxParallelDownloads,
		ProviderConcurrency:  cfg.Download.ProviderConcurrency,
		DefaultConcurrency:   cfg.Download.ProviderConcurrency["default"],
		WorkerTimeout:        time.Duration(cfg.Download.WorkerTimeoutS * float64(time.Second)),
		WaitOnExhaustion:     true,
		DownloadOpts:         downloadOpts,
	})

	driverSettings := pipeline.Settings{
		Strategy:           cfg.General.Strategy,
		ResumeMode:         cfg.Download.ResumeMode,
		MaxWorkConcurrency: cfg.Download.MaxParallelDownloads,
		DryRun:             dryRun,
		SelectorSettings: selector.Settings{
			MinTitleScore:            cfg.Selection.MinTitleScore,
			CreatorWeight:            cfg.Selection.CreatorWeight,
			MaxCandidatesPerProvider: cfg.Selection.MaxCandidatesPerProvider,
			MaxResultsPerProvider:    cfg.Selection.MaxResultsPerProvider,
			MaxParallelSearches:      cfg.Download.MaxParallelSearches,
			ProviderHierarchy:        cfg.ProviderHierarchy,
		},
	}

	driver := pipeline.New(driverSettings, registry, sched, j, ledger, deferQ, input, log, clock, acct)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	cancelled := make(chan struct{})
	go func() {
		select {
		case <-sigChan:
			log.Warn("interrupt received, shutting down gracefully")
			close(cancelled)
			cancel()
		case <-ctx.Done():
		}
	}()

	pollInterval := time.Duration(cfg.Download.DeferredQueuePollS) * time.Second
	if pollInterval <= 0 {
		pollInterval = 30 * time.Second
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-ticker.C:
				driver.ReplayDeferred(ctx, 50)
				if err := state.Sync(statePath, ledger, deferQ); err != nil {
					log.Warn("failed to persist state during deferred replay: %v", err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	records := input.Records()
	summary := driver.Run(ctx, records)

	if err := state.Sync(statePath, ledger, deferQ); err != nil {
		log.Error("failed to persist final state: %v", err)
	}

	printSummary(summary)

	select {
	case <-cancelled:
		os.Exit(exitCancellation)
	default:
	}

	if acct.Stopped() {
		os.Exit(exitBudgetStop)
	}
	os.Exit(exitSuccess)
}

// registerProviders builds a domain.ProviderSettings and a concrete
// ia/iiif Adapter for every provider the config enables, mirroring the
// teacher's cmd/gonzb/main.go provider-initialization loop.
func registerProviders(registry *provider.Registry, j *journal.Journal, cfg *config.Config) error {
	for i, key := range cfg.ProviderHierarchy {
		if enabled, ok := cfg.Providers[key]; !ok || !enabled {
			continue
		}
		yml, ok := cfg.ProviderSettings[key]
		if !ok {
			return fmt.Errorf("provider %q is enabled but has no provider_settings entry", key)
		}

		settings := domain.ProviderSettings{
			Key:         key,
			DisplayName: yml.DisplayName,
			Enabled:     true,
			Priority:    i,
			Network: domain.ProviderNetworkSettings{
				DelayMS:                 yml.Network.DelayMS,
				JitterMS:                yml.Network.JitterMS,
				MaxAttempts:             yml.Network.MaxAttempts,
				BaseBackoffS:            yml.Network.BaseBackoffS,
				BackoffMultiplier:       yml.Network.BackoffMultiplier,
				MaxBackoffS:             yml.Network.MaxBackoffS,
				TimeoutS:                yml.Network.TimeoutS,
				CircuitBreakerEnabled:   yml.Network.CircuitBreakerEnabled,
				CircuitBreakerThreshold: yml.Network.CircuitBreakerThreshold,
				CircuitBreakerCooldownS: yml.Network.CircuitBreakerCooldownS,
				SSLErrorPolicy:          yml.Network.SSLErrorPolicy,
				Headers:                yml.Network.Headers,
			},
			Quota: domain.ProviderQuotaSettings{
				Enabled:      yml.Quota.Enabled,
				DailyLimit:   yml.Quota.DailyLimit,
				ResetHours:   yml.Quota.ResetHours,
				WaitForReset: yml.Quota.WaitForReset,
			},
			Concurrency: cfg.Download.ProviderConcurrency[key],
		}

		registry.Register(&provider.Registration{Settings: settings})

		executor, err := registry.Executor(key)
		if err != nil {
			return fmt.Errorf("constructing executor for provider %q: %w", key, err)
		}

		switch key {
		case ia.ProviderKey:
			registry.SetAdapter(key, ia.New(executor, j))
		default:
			registry.SetAdapter(key, iiif.New(executor, j, iiif.Settings{
				Key:               key,
				DisplayName:       yml.DisplayName,
				SearchURLTemplate: yml.BaseURL,
			}))
		}
	}
	return nil
}

func printSummary(s pipeline.Summary) {
	fmt.Println("run summary:")
	for status, count := range s.ByStatus {
		fmt.Printf("  %-10s %d\n", status, count)
	}
	for class, bytes := range s.Bytes {
		fmt.Printf("  bytes[%s] = %d\n", class, bytes)
	}
}

func printQuotaStatus(ledger *quota.Ledger, deferQ *deferred.Queue) {
	fmt.Println("quota ledger:")
	for _, snap := range ledger.Snapshot() {
		fmt.Printf("  %s\n", snap.ProviderKey)
	}
	fmt.Println("deferred queue:")
	for _, item := range deferQ.Snapshot() {
		fmt.Printf("  %s provider=%s ready_at=%s status=%s\n", item.ID, item.ProviderKey, item.ReadyAt.Format(time.RFC3339), item.Status)
	}
}
