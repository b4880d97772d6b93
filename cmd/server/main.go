package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"tasi-market-movers/internal/api"
	"tasi-market-movers/internal/cache"
	"tasi-market-movers/internal/config"
	"tasi-market-movers/internal/correction"
	"tasi-market-movers/internal/insight"
	"tasi-market-movers/internal/market"
	"tasi-market-movers/internal/store"
	"tasi-market-movers/internal/universe"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/joho/godotenv"
)

func main() {
	// .env is optional; real environments set variables directly.
	_ = godotenv.Load()

	cfg, err := config.Load("configs/app.yaml")
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	h := server.Default(server.WithHostPorts(addr))

	st, err := store.Open(cfg.Store.Sqlite.Path)
	if err != nil {
		log.Fatalf("store error: %v", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Printf("store close error: %v", err)
		}
	}()

	uni := universe.Load(cfg.Universe.DBPath)
	log.Printf("universe loaded: %d symbols (source=%s)", uni.Size(), uni.Source())

	perCall := time.Duration(cfg.Fetch.PerCallTimeoutSec) * time.Second
	throttle := market.NewThrottle(cfg.Fetch.RatePerSec, cfg.Fetch.RateBurst)
	var provider market.QuoteProvider = market.NewYahooProvider(cfg.Fetch.BaseURL, perCall, throttle)
	if cfg.Fetch.MirrorURL != "" {
		mirror := market.NewYahooProvider(cfg.Fetch.MirrorURL, perCall, throttle)
		provider = market.NewFallbackProvider(provider, mirror)
	}
	coord := market.NewCoordinator(provider)

	cacheStore := cache.New(cfg.Cache.FilePath)
	if restored, err := cacheStore.Load(); err != nil {
		log.Printf("cache restore error: %v", err)
	} else if restored {
		log.Printf("cache restored from %s", cfg.Cache.FilePath)
	}

	var corr market.Corrector
	if cfg.Correction.Enabled {
		table := correction.Builtin()
		if len(cfg.Correction.Entries) > 0 {
			entries := make(map[string]correction.Reference, len(cfg.Correction.Entries))
			for code, e := range cfg.Correction.Entries {
				entries[code] = correction.Reference{Price: e.Price, ChangePct: e.ChangePct}
			}
			table, err = correction.NewTable(cfg.Correction.Version, entries)
			if err != nil {
				log.Fatalf("correction table error: %v", err)
			}
		}
		corr = table
		log.Printf("price correction enabled (version=%s)", table.Version())
	}

	mktSvc := market.NewService(uni, coord, cacheStore, corr, st, market.ServiceConfig{
		MaxWorkers:      cfg.Fetch.MaxWorkers,
		PerCallTimeout:  perCall,
		CycleBudget:     time.Duration(cfg.Fetch.CycleBudgetSec) * time.Second,
		CacheTTL:        time.Duration(cfg.Cache.TTLSec) * time.Second,
		TopN:            cfg.Rank.TopN,
		MarketHoursOnly: cfg.Fetch.MarketHoursOnly,
	})

	var agent *insight.Agent
	if cfg.Insight.Enabled {
		agent = insight.New(insight.Config{
			Enabled:    cfg.Insight.Enabled,
			Model:      cfg.Insight.Model,
			APIKey:     cfg.Insight.APIKey,
			BaseURL:    cfg.Insight.BaseURL,
			ByAzure:    cfg.Insight.ByAzure,
			APIVersion: cfg.Insight.APIVersion,
			TimeoutMs:  cfg.Insight.TimeoutMs,
		})
	}

	if cfg.Fetch.PollIntervalSec > 0 {
		go func() {
			mktSvc.PollLoop(context.Background(), time.Duration(cfg.Fetch.PollIntervalSec)*time.Second)
		}()
	}

	api.RegisterRoutes(h, uni, mktSvc, st, agent)
	log.Printf("route registered: GET /api/v1/market/summary")
	log.Printf("route registered: GET /api/v1/market/movers/:category")

	log.Printf("server starting on %s (log.level=%s)", addr, cfg.Log.Level)
	if err := h.Run(); err != nil {
		log.Fatalf("server run error: %v", err)
	}
}
