package config

import (
	"fmt"
)

var validResumeModes = map[string]bool{
	"skip_completed":    true,
	"skip_if_has_objects": true,
	"resume_from_csv":   true,
	"reprocess_all":     true,
}

var validStrategies = map[string]bool{
	"collect_and_select":  true,
	"sequential_first_hit": true,
}

// Validate mirrors the teacher's Config.validate() shape: fill sane
// defaults, then reject configurations the spec says must fail at load.
func (c *Config) Validate() error {
	if c.General.OutputRoot == "" {
		c.General.OutputRoot = "./output"
	}
	if c.General.Strategy == "" {
		c.General.Strategy = "collect_and_select"
	}
	if !validStrategies[c.General.Strategy] {
		return fmt.Errorf("general.strategy %q is not one of collect_and_select|sequential_first_hit", c.General.Strategy)
	}

	if c.Download.ResumeMode == "" {
		c.Download.ResumeMode = "skip_completed"
	}
	if !validResumeModes[c.Download.ResumeMode] {
		return fmt.Errorf("download.resume_mode %q is not a recognized resume mode", c.Download.ResumeMode)
	}

	if c.Download.MaxParallelDownloads <= 0 {
		return fmt.Errorf("download.max_parallel_downloads must be > 0")
	}
	if c.Download.MaxParallelSearches <= 0 {
		c.Download.MaxParallelSearches = 6
	}
	if c.Download.WorkerTimeoutS <= 0 {
		return fmt.Errorf("download.worker_timeout_s must be > 0")
	}
	if c.Download.PolicyOnExceed == "" {
		c.Download.PolicyOnExceed = "skip"
	}
	if c.Download.PolicyOnExceed != "skip" && c.Download.PolicyOnExceed != "stop" {
		return fmt.Errorf("download.policy_on_exceed %q must be skip or stop", c.Download.PolicyOnExceed)
	}

	// Open Question (spec §9): total vs per-work limits that contradict
	// each other are rejected at load rather than silently reinterpreted.
	if err := checkScopeConsistency("pdf", c.DownloadLimits.Total.PDFsGB*bytesPerGB, c.DownloadLimits.PerWork.PDFsGB*bytesPerGB); err != nil {
		return err
	}
	if err := checkScopeConsistency("image", c.DownloadLimits.Total.ImagesGB*bytesPerGB, c.DownloadLimits.PerWork.ImagesGB*bytesPerGB); err != nil {
		return err
	}
	if err := checkScopeConsistency("metadata", c.DownloadLimits.Total.MetadataMB*bytesPerMB, c.DownloadLimits.PerWork.MetadataMB*bytesPerMB); err != nil {
		return err
	}

	if c.Selection.MinTitleScore <= 0 {
		c.Selection.MinTitleScore = 85
	}
	if c.Selection.CreatorWeight < 0 || c.Selection.CreatorWeight > 1 {
		return fmt.Errorf("selection.creator_weight must be within [0,1]")
	}
	if c.Selection.MaxCandidatesPerProvider <= 0 {
		c.Selection.MaxCandidatesPerProvider = 10
	}

	if c.Naming.TitleSlugMaxLen <= 0 {
		c.Naming.TitleSlugMaxLen = 80
	}

	for key, enabled := range c.Providers {
		if !enabled {
			continue
		}
		if _, ok := c.ProviderSettings[key]; !ok {
			return fmt.Errorf("provider %q is enabled but has no provider_settings entry", key)
		}
	}

	return nil
}

// checkScopeConsistency rejects a per-work limit that exceeds a nonzero
// total limit for the same class — a configuration that could never be
// satisfied (spec §9 Open Question: reject at load).
func checkScopeConsistency(class string, totalBytes, perWorkBytes float64) error {
	if totalBytes > 0 && perWorkBytes > 0 && perWorkBytes > totalBytes {
		return fmt.Errorf(
			"download_limits.%s: per_work limit exceeds total limit (per_work > total is never satisfiable)",
			class,
		)
	}
	return nil
}
