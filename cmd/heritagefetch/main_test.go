package main

import (
	"testing"

	"github.com/tindry/heritagefetch/internal/config"
	"github.com/tindry/heritagefetch/internal/journal"
	"github.com/tindry/heritagefetch/internal/provider"
)

func testConfig() *config.Config {
	return &config.Config{
		General:           config.GeneralConfig{OutputRoot: "./testout", Strategy: "collect_and_select"},
		Providers:         map[string]bool{"ia": true, "gallica": true, "disabled_one": false},
		ProviderHierarchy: []string{"ia", "gallica", "disabled_one"},
		ProviderSettings: map[string]config.ProviderSettingsYAML{
			"ia": {
				DisplayName: "Internet Archive",
				Network:     config.NetworkSettingsYAML{MaxAttempts: 3, TimeoutS: 30},
			},
			"gallica": {
				DisplayName: "Gallica",
				BaseURL:     "https://gallica.bnf.fr/services/engine/search/sru?query=%s",
				Network:     config.NetworkSettingsYAML{MaxAttempts: 3, TimeoutS: 30},
			},
		},
		Download: config.DownloadConfig{
			MaxParallelDownloads: 2,
			WorkerTimeoutS:       60,
			MaxParallelSearches:  4,
		},
	}
}

func TestRegisterProvidersWiresEnabledProvidersOnly(t *testing.T) {
	registry := provider.NewRegistry(nil)
	j := journal.New(t.TempDir(), 80)
	cfg := testConfig()

	if err := registerProviders(registry, j, cfg); err != nil {
		t.Fatalf("registerProviders: %v", err)
	}

	if _, ok := registry.Get("disabled_one"); ok {
		t.Fatalf("disabled_one should not be registered")
	}

	iaReg, ok := registry.Get("ia")
	if !ok {
		t.Fatalf("ia should be registered")
	}
	if iaReg.Adapter == nil {
		t.Fatalf("ia adapter should be set")
	}
	if iaReg.Adapter.Key() != "ia" {
		t.Fatalf("ia adapter Key() = %q, want ia", iaReg.Adapter.Key())
	}

	gReg, ok := registry.Get("gallica")
	if !ok {
		t.Fatalf("gallica should be registered")
	}
	if gReg.Adapter == nil {
		t.Fatalf("gallica adapter should be set")
	}
}

func TestRegisterProvidersErrorsWithoutProviderSettings(t *testing.T) {
	registry := provider.NewRegistry(nil)
	j := journal.New(t.TempDir(), 80)
	cfg := testConfig()
	cfg.Providers["missing_settings"] = true
	cfg.ProviderHierarchy = append(cfg.ProviderHierarchy, "missing_settings")

	if err := registerProviders(registry, j, cfg); err == nil {
		t.Fatalf("expected an error for an enabled provider with no provider_settings entry")
	}
}
