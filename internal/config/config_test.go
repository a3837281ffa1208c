package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "general:\n  output_root: ./out\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Download.ResumeMode != "skip_completed" {
		t.Errorf("ResumeMode default = %q, want skip_completed", cfg.Download.ResumeMode)
	}
	if cfg.Download.MaxParallelDownloads != 4 {
		t.Errorf("MaxParallelDownloads default = %d, want 4", cfg.Download.MaxParallelDownloads)
	}
	if cfg.Selection.MinTitleScore != 85.0 {
		t.Errorf("MinTitleScore default = %v, want 85", cfg.Selection.MinTitleScore)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}

func TestLoadRejectsUnknownStrategy(t *testing.T) {
	path := writeConfig(t, "general:\n  strategy: whatever\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for an unrecognized general.strategy")
	}
}

func TestLoadRejectsEnabledProviderWithoutSettings(t *testing.T) {
	path := writeConfig(t, "providers:\n  ia: true\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for an enabled provider missing provider_settings")
	}
}

func TestValidateRejectsPerWorkExceedingTotal(t *testing.T) {
	cfg := &Config{
		Download: DownloadConfig{MaxParallelDownloads: 1, WorkerTimeoutS: 1},
		DownloadLimits: DownloadLimitsConfig{
			Total:   ScopeLimits{PDFsGB: 1},
			PerWork: ScopeLimits{PDFsGB: 2},
		},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an error when per_work pdf limit exceeds total")
	}
}

func TestValidateAllowsZeroTotalAsUnlimited(t *testing.T) {
	cfg := &Config{
		Download: DownloadConfig{MaxParallelDownloads: 1, WorkerTimeoutS: 1},
		DownloadLimits: DownloadLimitsConfig{
			Total:   ScopeLimits{PDFsGB: 0},
			PerWork: ScopeLimits{PDFsGB: 2},
		},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v, want nil (zero total means unlimited)", err)
	}
}

func TestHumanizeBytes(t *testing.T) {
	if got := HumanizeBytes(-1); got == "" {
		t.Fatal("HumanizeBytes(-1) should not panic or return empty")
	}
	if got := HumanizeBytes(1_500_000); got == "" {
		t.Fatal("HumanizeBytes should render a non-empty string")
	}
}
