// Package config loads heritagefetch's single structured configuration
// document, in the teacher's viper+mapstructure style (internal/infra/config
// in the example pack), extended with the sections spec.md §6 requires.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/viper"
)

type Config struct {
	General      GeneralConfig                      `mapstructure:"general" yaml:"general"`
	Providers    map[string]bool                    `mapstructure:"providers" yaml:"providers"`
	ProviderSettings map[string]ProviderSettingsYAML `mapstructure:"provider_settings" yaml:"provider_settings"`
	ProviderHierarchy []string                       `mapstructure:"provider_hierarchy" yaml:"provider_hierarchy"`
	Download     DownloadConfig                      `mapstructure:"download" yaml:"download"`
	DownloadLimits DownloadLimitsConfig               `mapstructure:"download_limits" yaml:"download_limits"`
	Selection    SelectionConfig                      `mapstructure:"selection" yaml:"selection"`
	Naming       NamingConfig                          `mapstructure:"naming" yaml:"naming"`
	Log          LogConfig                             `mapstructure:"log" yaml:"log"`
}

type GeneralConfig struct {
	OutputRoot string `mapstructure:"output_root" yaml:"output_root"`
	Strategy   string `mapstructure:"strategy" yaml:"strategy"` // collect_and_select | sequential_first_hit
}

type NetworkSettingsYAML struct {
	DelayMS                 int     `mapstructure:"delay_ms" yaml:"delay_ms"`
	JitterMS                int     `mapstructure:"jitter_ms" yaml:"jitter_ms"`
	MaxAttempts             int     `mapstructure:"max_attempts" yaml:"max_attempts"`
	BaseBackoffS            float64 `mapstructure:"base_backoff_s" yaml:"base_backoff_s"`
	BackoffMultiplier       float64 `mapstructure:"backoff_multiplier" yaml:"backoff_multiplier"`
	MaxBackoffS             float64 `mapstructure:"max_backoff_s" yaml:"max_backoff_s"`
	TimeoutS                float64 `mapstructure:"timeout_s" yaml:"timeout_s"`
	CircuitBreakerEnabled   bool    `mapstructure:"circuit_breaker_enabled" yaml:"circuit_breaker_enabled"`
	CircuitBreakerThreshold int     `mapstructure:"circuit_breaker_threshold" yaml:"circuit_breaker_threshold"`
	CircuitBreakerCooldownS float64 `mapstructure:"circuit_breaker_cooldown_s" yaml:"circuit_breaker_cooldown_s"`
	SSLErrorPolicy          string  `mapstructure:"ssl_error_policy" yaml:"ssl_error_policy"`
	Headers                 map[string]string `mapstructure:"headers" yaml:"headers"`
}

type QuotaSettingsYAML struct {
	Enabled      bool    `mapstructure:"enabled" yaml:"enabled"`
	DailyLimit   int     `mapstructure:"daily_limit" yaml:"daily_limit"`
	ResetHours   float64 `mapstructure:"reset_hours" yaml:"reset_hours"`
	WaitForReset bool    `mapstructure:"wait_for_reset" yaml:"wait_for_reset"`
}

type ProviderSettingsYAML struct {
	DisplayName string              `mapstructure:"display_name" yaml:"display_name"`
	BaseURL     string              `mapstructure:"base_url" yaml:"base_url"`
	APIKey      string              `mapstructure:"api_key" yaml:"api_key"`
	Network     NetworkSettingsYAML `mapstructure:"network" yaml:"network"`
	Quota       QuotaSettingsYAML   `mapstructure:"quota" yaml:"quota"`
}

type DownloadConfig struct {
	ResumeMode                string         `mapstructure:"resume_mode" yaml:"resume_mode"`
	PreferPDFOverImages       bool           `mapstructure:"prefer_pdf_over_images" yaml:"prefer_pdf_over_images"`
	DownloadManifestRenderings bool          `mapstructure:"download_manifest_renderings" yaml:"download_manifest_renderings"`
	MaxRenderingsPerManifest  int            `mapstructure:"max_renderings_per_manifest" yaml:"max_renderings_per_manifest"`
	RenderingMimeWhitelist    []string       `mapstructure:"rendering_mime_whitelist" yaml:"rendering_mime_whitelist"`
	OverwriteExisting         bool           `mapstructure:"overwrite_existing" yaml:"overwrite_existing"`
	IncludeMetadata           bool           `mapstructure:"include_metadata" yaml:"include_metadata"`
	AllowedObjectExtensions   []string       `mapstructure:"allowed_object_extensions" yaml:"allowed_object_extensions"`
	MaxParallelDownloads      int            `mapstructure:"max_parallel_downloads" yaml:"max_parallel_downloads"`
	ProviderConcurrency       map[string]int `mapstructure:"provider_concurrency" yaml:"provider_concurrency"`
	WorkerTimeoutS            float64        `mapstructure:"worker_timeout_s" yaml:"worker_timeout_s"`
	MaxPages                  int            `mapstructure:"max_pages" yaml:"max_pages"`
	MaxParallelSearches       int            `mapstructure:"max_parallel_searches" yaml:"max_parallel_searches"`
	DeferredQueuePollS        int            `mapstructure:"deferred_queue_poll_s" yaml:"deferred_queue_poll_s"`
	PolicyOnExceed            string         `mapstructure:"policy_on_exceed" yaml:"policy_on_exceed"` // skip | stop
}

// ScopeLimits holds the raw GB/MB numbers as written in the config document.
// A value of 0 means unlimited (spec §4.1/§8). Call BytesByClass() to normalize.
type ScopeLimits struct {
	PDFsGB     float64 `mapstructure:"pdfs_gb" yaml:"pdfs_gb"`
	ImagesGB   float64 `mapstructure:"images_gb" yaml:"images_gb"`
	MetadataMB float64 `mapstructure:"metadata_mb" yaml:"metadata_mb"`
}

const (
	bytesPerGB = 1_000_000_000
	bytesPerMB = 1_000_000
)

// BytesByClass normalizes this scope's limits to bytes, keyed by content
// class ("pdf", "image", "metadata"). Zero means unlimited.
func (s ScopeLimits) BytesByClass() map[string]int64 {
	return map[string]int64{
		"pdf":      int64(s.PDFsGB * bytesPerGB),
		"image":    int64(s.ImagesGB * bytesPerGB),
		"metadata": int64(s.MetadataMB * bytesPerMB),
	}
}

type DownloadLimitsConfig struct {
	Total   ScopeLimits `mapstructure:"total" yaml:"total"`
	PerWork ScopeLimits `mapstructure:"per_work" yaml:"per_work"`
}

type SelectionConfig struct {
	MinTitleScore         float64 `mapstructure:"min_title_score" yaml:"min_title_score"`
	CreatorWeight         float64 `mapstructure:"creator_weight" yaml:"creator_weight"`
	MaxCandidatesPerProvider int  `mapstructure:"max_candidates_per_provider" yaml:"max_candidates_per_provider"`
	MaxResultsPerProvider int     `mapstructure:"max_results_per_provider" yaml:"max_results_per_provider"`
}

type NamingConfig struct {
	TitleSlugMaxLen int `mapstructure:"title_slug_max_len" yaml:"title_slug_max_len"`
}

type LogConfig struct {
	Path          string `mapstructure:"path" yaml:"path"`
	Level         string `mapstructure:"level" yaml:"level"`
	IncludeStdout bool   `mapstructure:"include_stdout" yaml:"include_stdout"`
}

const EnvPrefix = "HERITAGEFETCH"

// Load reads the config document at path (or "config.yaml" by default),
// applying environment overrides under the HERITAGEFETCH_ prefix, the same
// shape as the teacher's internal/infra/config.Load.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.yaml"
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	v := viper.New()

	v.SetDefault("general.output_root", "./output")
	v.SetDefault("general.strategy", "collect_and_select")
	v.SetDefault("download.resume_mode", "skip_completed")
	v.SetDefault("download.max_parallel_downloads", 4)
	v.SetDefault("download.worker_timeout_s", 120.0)
	v.SetDefault("download.max_parallel_searches", 6)
	v.SetDefault("download.deferred_queue_poll_s", 30)
	v.SetDefault("download.policy_on_exceed", "skip")
	v.SetDefault("selection.min_title_score", 85.0)
	v.SetDefault("selection.creator_weight", 0.3)
	v.SetDefault("selection.max_candidates_per_provider", 10)
	v.SetDefault("selection.max_results_per_provider", 20)
	v.SetDefault("naming.title_slug_max_len", 80)
	v.SetDefault("log.path", "heritagefetch.log")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.include_stdout", true)

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// HumanizeBytes renders a byte count in SI units (1500000 becomes "1.5 MB").
func HumanizeBytes(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.Bytes(uint64(n))
}
