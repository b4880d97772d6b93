package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Fetch.BaseURL != "https://query1.finance.yahoo.com" {
		t.Fatalf("base url = %q", cfg.Fetch.BaseURL)
	}
	if cfg.Fetch.MaxWorkers != 20 || cfg.Fetch.CycleBudgetSec != 30 {
		t.Fatalf("fetch defaults = %+v", cfg.Fetch)
	}
	if cfg.Cache.TTLSec != 600 || cfg.Rank.TopN != 10 {
		t.Fatalf("cache/rank defaults = %+v / %+v", cfg.Cache, cfg.Rank)
	}
	if cfg.Correction.Enabled {
		t.Fatal("correction must default to disabled")
	}
	if cfg.Insight.Enabled || cfg.Insight.Model != "gpt-4.1-mini" {
		t.Fatalf("insight defaults = %+v", cfg.Insight)
	}
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.yaml")
	body := `
server:
  port: 9000
fetch:
  max_workers: 8
  market_hours_only: true
correction:
  enabled: true
  version: board-2025-03-02
  entries:
    "2222":
      price: 23.74
      change_pct: 0.50
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 9000 {
		t.Fatalf("port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Fetch.MaxWorkers != 8 || !cfg.Fetch.MarketHoursOnly {
		t.Fatalf("fetch = %+v", cfg.Fetch)
	}
	// Untouched keys keep their defaults.
	if cfg.Fetch.CycleBudgetSec != 30 || cfg.Cache.TTLSec != 600 {
		t.Fatalf("defaults lost: %+v / %+v", cfg.Fetch, cfg.Cache)
	}
	if !cfg.Correction.Enabled || cfg.Correction.Version != "board-2025-03-02" {
		t.Fatalf("correction = %+v", cfg.Correction)
	}
	entry, ok := cfg.Correction.Entries["2222"]
	if !ok || entry.Price != 23.74 || entry.ChangePct != 0.50 {
		t.Fatalf("correction entry = %+v", entry)
	}
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("fetch: [unclosed"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("UNIVERSE_DB", "/tmp/uni.db")
	t.Setenv("HISTORY_DB", "/tmp/hist.db")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Fatalf("port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Universe.DBPath != "/tmp/uni.db" || cfg.Store.Sqlite.Path != "/tmp/hist.db" {
		t.Fatalf("paths = %q / %q", cfg.Universe.DBPath, cfg.Store.Sqlite.Path)
	}
}

func TestEnvRejectsBadPort(t *testing.T) {
	for _, bad := range []string{"zero", "0", "-1", "70000"} {
		t.Run(bad, func(t *testing.T) {
			t.Setenv("PORT", bad)
			if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
				t.Fatalf("PORT=%q should be rejected", bad)
			}
		})
	}
}
