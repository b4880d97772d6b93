package api

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"

	"tasi-market-movers/internal/insight"
	"tasi-market-movers/internal/market"
	"tasi-market-movers/internal/store"
	"tasi-market-movers/internal/universe"
)

// RegisterRoutes wires the HTTP surface. Any dependency may be nil; the
// affected endpoints then answer with an explicit "not configured" error
// instead of panicking.
func RegisterRoutes(h *server.Hertz, uni *universe.Universe, mkt *market.Service, st *store.Store, agent *insight.Agent) {
	h.GET("/healthz", func(_ context.Context, c *app.RequestContext) {
		c.JSON(http.StatusOK, map[string]bool{"ok": true})
	})

	h.GET("/api/v1/market/summary", func(_ context.Context, c *app.RequestContext) {
		if mkt == nil {
			c.JSON(http.StatusInternalServerError, map[string]any{"ok": false, "error": "market service not configured"})
			return
		}
		limit, err := parseTopN(string(c.Query("limit")))
		if err != nil {
			c.JSON(http.StatusBadRequest, map[string]any{"ok": false, "error": err.Error()})
			return
		}
		maxAge, err := parseMaxAge(string(c.Query("max_age_sec")), string(c.Query("refresh")))
		if err != nil {
			c.JSON(http.StatusBadRequest, map[string]any{"ok": false, "error": err.Error()})
			return
		}
		sum, stale, warnings, err := fetchSummary(mkt, limit, maxAge)
		if err != nil {
			writeCycleError(c, err)
			return
		}
		resp := map[string]any{"ok": true, "stale": stale, "summary": sum}
		if len(warnings) > 0 {
			resp["warnings"] = warnings
		}
		c.JSON(http.StatusOK, resp)
	})

	h.GET("/api/v1/market/movers/:category", func(_ context.Context, c *app.RequestContext) {
		if mkt == nil {
			c.JSON(http.StatusInternalServerError, map[string]any{"ok": false, "error": "market service not configured"})
			return
		}
		category := strings.ToLower(strings.TrimSpace(c.Param("category")))
		limit, err := parseTopN(string(c.Query("limit")))
		if err != nil {
			c.JSON(http.StatusBadRequest, map[string]any{"ok": false, "error": err.Error()})
			return
		}
		maxAge, err := parseMaxAge(string(c.Query("max_age_sec")), string(c.Query("refresh")))
		if err != nil {
			c.JSON(http.StatusBadRequest, map[string]any{"ok": false, "error": err.Error()})
			return
		}
		sum, stale, warnings, err := fetchSummary(mkt, limit, maxAge)
		if err != nil {
			writeCycleError(c, err)
			return
		}
		quotes, ok := moversList(sum, category)
		if !ok {
			c.JSON(http.StatusBadRequest, map[string]any{"ok": false, "error": fmt.Sprintf("unknown movers category %q (want gainers, losers, volume or value)", category)})
			return
		}
		resp := map[string]any{
			"ok":           true,
			"stale":        stale,
			"category":     category,
			"generated_at": sum.GeneratedAt,
			"quotes":       quotes,
		}
		if len(warnings) > 0 {
			resp["warnings"] = warnings
		}
		c.JSON(http.StatusOK, resp)
	})

	h.GET("/api/v1/market/status", func(_ context.Context, c *app.RequestContext) {
		resp := map[string]any{"ok": true}
		if mkt != nil {
			resp["session"] = mkt.Hours()
			resp["cache"] = mkt.CacheInfo()
		} else {
			resp["session"] = market.Session(time.Now())
		}
		c.JSON(http.StatusOK, resp)
	})

	h.GET("/api/v1/quotes", func(_ context.Context, c *app.RequestContext) {
		if mkt == nil {
			c.JSON(http.StatusInternalServerError, map[string]any{"ok": false, "error": "market service not configured"})
			return
		}
		symbols := parseSymbols(string(c.Query("symbols")))
		if len(symbols) == 0 {
			c.JSON(http.StatusBadRequest, map[string]any{"ok": false, "error": "symbols is empty"})
			return
		}
		quotes, missing, ok := mkt.CachedQuotes(symbols)
		if !ok {
			c.JSON(http.StatusNotFound, map[string]any{"ok": false, "error": "no snapshot available yet"})
			return
		}
		c.JSON(http.StatusOK, map[string]any{
			"ok":      true,
			"quotes":  quotes,
			"missing": missing,
		})
	})

	h.GET("/api/v1/universe", func(_ context.Context, c *app.RequestContext) {
		if uni == nil {
			c.JSON(http.StatusInternalServerError, map[string]any{"ok": false, "error": "universe not configured"})
			return
		}
		sector := strings.TrimSpace(string(c.Query("sector")))
		q := strings.TrimSpace(string(c.Query("q")))
		var symbols []universe.Symbol
		switch {
		case q != "":
			symbols = uni.Search(q)
			if sector != "" {
				symbols = filterSector(symbols, sector)
			}
		case sector != "":
			symbols = uni.BySector(sector)
		default:
			symbols = uni.ListSymbols()
		}
		c.JSON(http.StatusOK, map[string]any{
			"ok":      true,
			"total":   len(symbols),
			"source":  uni.Source(),
			"symbols": symbols,
		})
	})

	h.GET("/api/v1/universe/sectors", func(_ context.Context, c *app.RequestContext) {
		if uni == nil {
			c.JSON(http.StatusInternalServerError, map[string]any{"ok": false, "error": "universe not configured"})
			return
		}
		c.JSON(http.StatusOK, map[string]any{"ok": true, "sectors": uni.Sectors()})
	})

	h.GET("/api/v1/history/cycles", func(_ context.Context, c *app.RequestContext) {
		if st == nil {
			c.JSON(http.StatusInternalServerError, map[string]any{"ok": false, "error": "store not configured"})
			return
		}
		limit, err := parseLimit(string(c.Query("limit")))
		if err != nil {
			c.JSON(http.StatusBadRequest, map[string]any{"ok": false, "error": err.Error()})
			return
		}
		offset, err := parseOffset(string(c.Query("offset")))
		if err != nil {
			c.JSON(http.StatusBadRequest, map[string]any{"ok": false, "error": err.Error()})
			return
		}
		cycles, err := st.QueryCycles(limit, offset)
		if err != nil {
			c.JSON(http.StatusInternalServerError, map[string]any{"ok": false, "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, map[string]any{"ok": true, "total": len(cycles), "cycles": cycles})
	})

	h.GET("/api/v1/history/quotes", func(_ context.Context, c *app.RequestContext) {
		if st == nil {
			c.JSON(http.StatusInternalServerError, map[string]any{"ok": false, "error": "store not configured"})
			return
		}
		symbol := strings.TrimSpace(string(c.Query("symbol")))
		if symbol == "" {
			c.JSON(http.StatusBadRequest, map[string]any{"ok": false, "error": "symbol is empty"})
			return
		}
		limit, err := parseLimit(string(c.Query("limit")))
		if err != nil {
			c.JSON(http.StatusBadRequest, map[string]any{"ok": false, "error": err.Error()})
			return
		}
		offset, err := parseOffset(string(c.Query("offset")))
		if err != nil {
			c.JSON(http.StatusBadRequest, map[string]any{"ok": false, "error": err.Error()})
			return
		}
		rows, err := st.QueryQuoteHistory(symbol, limit, offset)
		if err != nil {
			c.JSON(http.StatusInternalServerError, map[string]any{"ok": false, "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, map[string]any{"ok": true, "symbol": symbol, "total": len(rows), "quotes": rows})
	})

	h.POST("/api/v1/insight", func(_ context.Context, c *app.RequestContext) {
		if mkt == nil {
			c.JSON(http.StatusInternalServerError, map[string]any{"ok": false, "error": "market service not configured"})
			return
		}
		limit, err := parseTopN(string(c.Query("limit")))
		if err != nil {
			c.JSON(http.StatusBadRequest, map[string]any{"ok": false, "error": err.Error()})
			return
		}
		sum, stale, warnings, err := fetchSummary(mkt, limit, -1)
		if err != nil {
			writeCycleError(c, err)
			return
		}
		mode := "fallback"
		ins := insight.Fallback(sum)
		if agent != nil {
			out, cerr := agent.Commentary(context.Background(), sum)
			ins = out
			if cerr != nil {
				log.Printf("insight commentary error: %v", cerr)
				warnings = append(warnings, "commentary degraded to fallback")
			} else if agent.Enabled() {
				mode = "llm"
			}
		}
		resp := map[string]any{
			"ok":      true,
			"mode":    mode,
			"stale":   stale,
			"insight": ins,
			"summary": sum,
		}
		if len(warnings) > 0 {
			resp["warnings"] = warnings
		}
		c.JSON(http.StatusOK, resp)
	})

	h.POST("/api/v1/insight/ping", func(_ context.Context, c *app.RequestContext) {
		if agent == nil {
			c.JSON(http.StatusOK, map[string]any{"ok": true, "mode": "fallback", "detail": "insight agent not configured"})
			return
		}
		out, err := agent.Ping(context.Background())
		if err != nil {
			c.JSON(http.StatusBadGateway, map[string]any{"ok": false, "error": err.Error(), "detail": out})
			return
		}
		c.JSON(http.StatusOK, out)
	})
}

// fetchSummary runs the cache-or-refresh path and falls back to the last
// known snapshot when a refresh cycle fails. The bool reports staleness.
func fetchSummary(mkt *market.Service, limit int, maxAge time.Duration) (market.MarketSummary, bool, []string, error) {
	sum, err := mkt.GetMarketSummary(context.Background(), limit, maxAge)
	if err == nil {
		return sum, false, nil, nil
	}
	if last, ok := mkt.StaleSummary(limit); ok {
		warnings := []string{fmt.Sprintf("refresh failed: %v", err), "serving last known snapshot"}
		return last, true, warnings, nil
	}
	return market.MarketSummary{}, false, nil, err
}

func writeCycleError(c *app.RequestContext, err error) {
	resp := map[string]any{"ok": false, "error": err.Error()}
	var ce *market.CycleError
	if errors.As(err, &ce) {
		resp["requested_count"] = ce.RequestedCount
		resp["failed_count"] = ce.FailedCount
	}
	c.JSON(http.StatusBadGateway, resp)
}

func moversList(sum market.MarketSummary, category string) ([]market.Quote, bool) {
	switch category {
	case "gainers":
		return sum.TopGainers, true
	case "losers":
		return sum.TopLosers, true
	case "volume":
		return sum.VolumeLeaders, true
	case "value":
		return sum.ValueLeaders, true
	}
	return nil, false
}

func filterSector(symbols []universe.Symbol, sector string) []universe.Symbol {
	out := make([]universe.Symbol, 0, len(symbols))
	for _, s := range symbols {
		if strings.EqualFold(s.Sector, sector) {
			out = append(out, s)
		}
	}
	return out
}

func parseLimit(raw string) (int, error) {
	if raw == "" {
		return 200, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("invalid limit %q", raw)
	}
	if v > 1000 {
		v = 1000
	}
	return v, nil
}

func parseOffset(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("invalid offset %q", raw)
	}
	return v, nil
}

// parseTopN resolves the ranking list length. Empty means "use the service
// default"; anything above 100 is capped rather than rejected.
func parseTopN(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("invalid limit %q", raw)
	}
	if v > 100 {
		v = 100
	}
	return v, nil
}

// parseMaxAge maps the freshness knobs onto the service contract: refresh=1
// forces a new cycle, max_age_sec bounds snapshot age, absent means plain
// TTL semantics.
func parseMaxAge(rawAge, rawRefresh string) (time.Duration, error) {
	switch strings.ToLower(strings.TrimSpace(rawRefresh)) {
	case "", "0", "false":
	case "1", "true":
		return 0, nil
	default:
		return 0, fmt.Errorf("invalid refresh %q", rawRefresh)
	}
	if rawAge == "" {
		return -1, nil
	}
	sec, err := strconv.Atoi(rawAge)
	if err != nil || sec < 0 {
		return 0, fmt.Errorf("invalid max_age_sec %q", rawAge)
	}
	return time.Duration(sec) * time.Second, nil
}

func parseSymbols(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
