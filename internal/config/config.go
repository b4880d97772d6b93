package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Log        LogConfig        `yaml:"log"`
	Universe   UniverseConfig   `yaml:"universe"`
	Fetch      FetchConfig      `yaml:"fetch"`
	Cache      CacheConfig      `yaml:"cache"`
	Rank       RankConfig       `yaml:"rank"`
	Correction CorrectionConfig `yaml:"correction"`
	Store      StoreConfig      `yaml:"store"`
	Insight    InsightConfig    `yaml:"insight"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type UniverseConfig struct {
	DBPath string `yaml:"db_path"`
}

type FetchConfig struct {
	BaseURL           string `yaml:"base_url"`
	MirrorURL         string `yaml:"mirror_url"`
	MaxWorkers        int    `yaml:"max_workers"`
	PerCallTimeoutSec int    `yaml:"per_call_timeout_sec"`
	CycleBudgetSec    int    `yaml:"cycle_budget_sec"`
	PollIntervalSec   int    `yaml:"poll_interval_sec"`
	MarketHoursOnly   bool   `yaml:"market_hours_only"`
	RatePerSec        int    `yaml:"rate_per_sec"`
	RateBurst         int    `yaml:"rate_burst"`
}

type CacheConfig struct {
	TTLSec   int    `yaml:"ttl_sec"`
	FilePath string `yaml:"file_path"`
}

type RankConfig struct {
	TopN int `yaml:"top_n"`
}

type CorrectionConfig struct {
	Enabled bool                       `yaml:"enabled"`
	Version string                     `yaml:"version"`
	Entries map[string]CorrectionEntry `yaml:"entries"`
}

type CorrectionEntry struct {
	Price     float64 `yaml:"price"`
	ChangePct float64 `yaml:"change_pct"`
}

type StoreConfig struct {
	Sqlite SqliteConfig `yaml:"sqlite"`
}

type SqliteConfig struct {
	Path string `yaml:"path"`
}

type InsightConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Model      string `yaml:"model"`
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	ByAzure    bool   `yaml:"by_azure"`
	APIVersion string `yaml:"api_version"`
	TimeoutMs  int    `yaml:"timeout_ms"`
}

// Load reads the yaml config at path over built-in defaults. A missing file
// is not an error: the service runs on defaults alone.
func Load(path string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func defaults() Config {
	return Config{
		Server: ServerConfig{Port: 8080},
		Log:    LogConfig{Level: "info"},
		Universe: UniverseConfig{
			DBPath: "data/Saudi Stock Exchange (TASI) Sectors and Companies.db",
		},
		Fetch: FetchConfig{
			BaseURL:           "https://query1.finance.yahoo.com",
			MirrorURL:         "https://query2.finance.yahoo.com",
			MaxWorkers:        20,
			PerCallTimeoutSec: 5,
			CycleBudgetSec:    30,
			PollIntervalSec:   0,
			MarketHoursOnly:   false,
			RatePerSec:        40,
			RateBurst:         20,
		},
		Cache: CacheConfig{
			TTLSec:   600,
			FilePath: "data/market_cache.json",
		},
		Rank: RankConfig{TopN: 10},
		Correction: CorrectionConfig{
			Enabled: false,
		},
		Store: StoreConfig{
			Sqlite: SqliteConfig{Path: "data/history.db"},
		},
		Insight: InsightConfig{
			Enabled:   false,
			Model:     "gpt-4.1-mini",
			TimeoutMs: 10000,
		},
	}
}

func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil || p <= 0 || p > 65535 {
			return fmt.Errorf("invalid PORT: %q", v)
		}
		cfg.Server.Port = p
	}
	if v := os.Getenv("UNIVERSE_DB"); v != "" {
		cfg.Universe.DBPath = v
	}
	if v := os.Getenv("HISTORY_DB"); v != "" {
		cfg.Store.Sqlite.Path = v
	}
	return nil
}
