package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"tasi-market-movers/internal/universe"
)

const (
	defaultChartHost = "https://query1.finance.yahoo.com"
	retryDelay       = 150 * time.Millisecond
)

// YahooProvider fetches one symbol at a time from the Yahoo Finance chart
// API. Exchange codes are suffixed with .SR; two daily bars are requested so
// the previous close can be derived from the series itself.
type YahooProvider struct {
	baseURL  string
	client   *http.Client
	throttle *Throttle
}

type chartResponse struct {
	Chart struct {
		Result []chartResult `json:"result"`
		Error  *chartError   `json:"error"`
	} `json:"chart"`
}

type chartError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

type chartResult struct {
	Timestamp  []int64 `json:"timestamp"`
	Indicators struct {
		Quote []struct {
			Close  []float64 `json:"close"`
			Volume []int64   `json:"volume"`
		} `json:"quote"`
	} `json:"indicators"`
}

func NewYahooProvider(baseURL string, timeout time.Duration, throttle *Throttle) *YahooProvider {
	if baseURL == "" {
		baseURL = defaultChartHost
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &YahooProvider{
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		throttle: throttle,
	}
}

func (p *YahooProvider) Name() string {
	return "yahoo:" + p.baseURL
}

func (p *YahooProvider) Fetch(ctx context.Context, sym universe.Symbol) Quote {
	q, err := p.fetch(ctx, sym)
	if err != nil {
		return UnavailableQuote(sym, err.Error())
	}
	return q
}

func (p *YahooProvider) fetch(ctx context.Context, sym universe.Symbol) (Quote, error) {
	if err := p.throttle.Wait(ctx); err != nil {
		return Quote{}, fmt.Errorf("throttle: %w", err)
	}

	u := fmt.Sprintf("%s/v8/finance/chart/%s.SR?range=2d&interval=1d", p.baseURL, url.PathEscape(sym.Code))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Quote{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; tasi-market-movers/1.0)")

	for attempt := 0; ; attempt++ {
		resp, err := p.client.Do(req)
		if err != nil {
			if shouldRetry(err) && attempt < 2 {
				time.Sleep(retryDelay)
				continue
			}
			return Quote{}, fmt.Errorf("request chart: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			if retryableStatus(resp.StatusCode) && attempt < 2 {
				time.Sleep(retryDelay)
				continue
			}
			return Quote{}, fmt.Errorf("chart status %d", resp.StatusCode)
		}
		var payload chartResponse
		err = json.NewDecoder(resp.Body).Decode(&payload)
		resp.Body.Close()
		if err != nil {
			if shouldRetry(err) && attempt < 2 {
				time.Sleep(retryDelay)
				continue
			}
			return Quote{}, fmt.Errorf("decode chart: %w", err)
		}
		return quoteFromChart(sym, payload)
	}
}

func quoteFromChart(sym universe.Symbol, payload chartResponse) (Quote, error) {
	if payload.Chart.Error != nil {
		return Quote{}, fmt.Errorf("chart error: %s", payload.Chart.Error.Code)
	}
	if len(payload.Chart.Result) == 0 {
		return Quote{}, fmt.Errorf("empty chart result")
	}
	res := payload.Chart.Result[0]
	if len(res.Indicators.Quote) == 0 {
		return Quote{}, fmt.Errorf("missing quote indicators")
	}
	ind := res.Indicators.Quote[0]

	// Null bars decode to zero; walk back to the last two real closes.
	last := -1
	for i := len(ind.Close) - 1; i >= 0; i-- {
		if ind.Close[i] > 0 {
			last = i
			break
		}
	}
	if last < 0 {
		return Quote{}, fmt.Errorf("no usable close price")
	}
	price := ind.Close[last]
	prev := price
	for i := last - 1; i >= 0; i-- {
		if ind.Close[i] > 0 {
			prev = ind.Close[i]
			break
		}
	}
	var volume int64
	if last < len(ind.Volume) {
		volume = ind.Volume[last]
	}

	return Quote{
		Symbol:    sym.Code,
		Name:      sym.Name,
		Sector:    sym.Sector,
		Price:     price,
		PrevClose: prev,
		Volume:    volume,
		FetchedAt: time.Now(),
	}, nil
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

func shouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) {
		return true
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "connection reset") || strings.Contains(msg, "reset by peer") {
		return true
	}
	return false
}
