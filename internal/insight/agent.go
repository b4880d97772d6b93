package insight

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/schema"

	"tasi-market-movers/internal/market"
)

type Config struct {
	Enabled    bool   `yaml:"enabled"`
	Model      string `yaml:"model"`
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	ByAzure    bool   `yaml:"by_azure"`
	APIVersion string `yaml:"api_version"`
	TimeoutMs  int    `yaml:"timeout_ms"`
}

// Insight is one round of commentary on a market summary.
type Insight struct {
	Headline   string   `json:"headline"`
	Sentiment  string   `json:"sentiment"`
	Highlights []string `json:"highlights"`
	Confidence float64  `json:"confidence"`
}

// Agent produces commentary through an LLM when one is configured and falls
// back to deterministic breadth-based text otherwise. A misconfigured agent
// degrades to fallback mode instead of failing requests.
type Agent struct {
	enabled        bool
	model          *openai.ChatModel
	modelName      string
	disabledReason string
}

func New(cfg Config) *Agent {
	if !cfg.Enabled {
		return &Agent{enabled: false, disabledReason: "disabled by config"}
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.Model == "" {
		cfg.Model = os.Getenv("OPENAI_MODEL")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = os.Getenv("OPENAI_BASE_URL")
	}
	if cfg.APIKey == "" || cfg.Model == "" {
		log.Printf("insight disabled: missing api key or model")
		return &Agent{enabled: false, disabledReason: "api_key or model missing"}
	}

	timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	model, err := openai.NewChatModel(context.Background(), &openai.ChatModelConfig{
		APIKey:     cfg.APIKey,
		Model:      cfg.Model,
		BaseURL:    cfg.BaseURL,
		ByAzure:    cfg.ByAzure,
		APIVersion: cfg.APIVersion,
		Timeout:    timeout,
	})
	if err != nil {
		log.Printf("insight init error: %v", err)
		return &Agent{enabled: false, disabledReason: "init failed"}
	}

	return &Agent{enabled: true, model: model, modelName: cfg.Model}
}

// Enabled reports whether a model is actually wired in; false means every
// call will take the fallback path.
func (a *Agent) Enabled() bool {
	return a != nil && a.enabled && a.model != nil
}

func (a *Agent) Ping(ctx context.Context) (map[string]any, error) {
	if !a.enabled || a.model == nil {
		reason := a.disabledReason
		if reason == "" {
			reason = "not configured"
		}
		return map[string]any{
			"ok":     true,
			"mode":   "fallback",
			"reason": reason,
		}, nil
	}

	start := time.Now()
	messages := []*schema.Message{
		schema.SystemMessage("Return ONLY valid JSON: {\"ok\":true}. No other text."),
		schema.UserMessage("ping"),
	}
	_, err := a.model.Generate(ctx, messages)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		logLLMError(err)
		return map[string]any{
			"ok":     true,
			"mode":   "fallback",
			"reason": "llm error",
		}, err
	}
	return map[string]any{
		"ok":         true,
		"mode":       "llm",
		"model":      a.modelName,
		"latency_ms": latency,
	}, nil
}

// Commentary turns a summary into a short narrative. Model failures return
// the fallback insight together with the error so callers can report the
// degraded mode.
func (a *Agent) Commentary(ctx context.Context, sum market.MarketSummary) (Insight, error) {
	if !a.enabled || a.model == nil {
		return Fallback(sum), nil
	}

	payload, _ := json.Marshal(summaryDigest(sum))

	system := `You are a market commentator for the Saudi Exchange (TASI). You must output ONLY valid JSON shaped as
{"headline":"...","sentiment":"bullish|bearish|mixed","highlights":["..."],"confidence":0.0}.
Rules:
- Comment on market breadth and the leading movers, nothing else.
- No investment advice, no price targets, no predictions.
- highlights holds 1-3 short items.
- sentiment is exactly one of bullish|bearish|mixed.
- confidence is between 0.0 and 1.0.`

	messages := []*schema.Message{
		schema.SystemMessage(system),
		schema.UserMessage(fmt.Sprintf("Market summary: %s", string(payload))),
	}

	resp, err := a.model.Generate(ctx, messages)
	if err != nil {
		logLLMErrorOnce(err)
		return Fallback(sum), err
	}
	out, err := parseInsight(strings.TrimSpace(resp.Content))
	if err != nil {
		return Fallback(sum), err
	}
	return sanitize(out), nil
}

type digestItem struct {
	Symbol    string  `json:"symbol"`
	Name      string  `json:"name,omitempty"`
	ChangePct float64 `json:"change_pct"`
}

type digest struct {
	Advancers  int          `json:"advancers"`
	Decliners  int          `json:"decliners"`
	Unchanged  int          `json:"unchanged"`
	ActiveSize int          `json:"active_size"`
	TopGainers []digestItem `json:"top_gainers"`
	TopLosers  []digestItem `json:"top_losers"`
}

// summaryDigest keeps the prompt small: breadth plus the top three movers on
// each side is enough context for one paragraph of commentary.
func summaryDigest(sum market.MarketSummary) digest {
	return digest{
		Advancers:  sum.Advancers,
		Decliners:  sum.Decliners,
		Unchanged:  sum.Unchanged,
		ActiveSize: sum.ActiveSize,
		TopGainers: digestItems(sum.TopGainers, 3),
		TopLosers:  digestItems(sum.TopLosers, 3),
	}
}

func digestItems(qs []market.Quote, n int) []digestItem {
	if len(qs) > n {
		qs = qs[:n]
	}
	out := make([]digestItem, 0, len(qs))
	for _, q := range qs {
		out = append(out, digestItem{Symbol: q.Symbol, Name: q.Name, ChangePct: q.ChangePct})
	}
	return out
}

// Fallback derives commentary from breadth alone, used whenever no model is
// configured or the model call failed.
func Fallback(sum market.MarketSummary) Insight {
	if sum.ActiveSize == 0 {
		return Insight{
			Headline:   "No market data in the latest cycle",
			Sentiment:  "mixed",
			Highlights: []string{"no valid quotes to summarize"},
			Confidence: 0.4,
		}
	}

	sentiment := "mixed"
	headline := fmt.Sprintf("Breadth even at %d advancers to %d decliners", sum.Advancers, sum.Decliners)
	switch {
	case sum.Advancers > sum.Decliners:
		sentiment = "bullish"
		headline = fmt.Sprintf("Advancers lead decliners %d to %d", sum.Advancers, sum.Decliners)
	case sum.Decliners > sum.Advancers:
		sentiment = "bearish"
		headline = fmt.Sprintf("Decliners lead advancers %d to %d", sum.Decliners, sum.Advancers)
	}

	var highlights []string
	if len(sum.TopGainers) > 0 {
		g := sum.TopGainers[0]
		highlights = append(highlights, fmt.Sprintf("%s leads gainers at %+.2f%%", nameOrCode(g), g.ChangePct))
	}
	if len(sum.TopLosers) > 0 {
		l := sum.TopLosers[0]
		highlights = append(highlights, fmt.Sprintf("%s leads decliners at %+.2f%%", nameOrCode(l), l.ChangePct))
	}
	if len(highlights) == 0 {
		highlights = []string{fmt.Sprintf("%d symbols closed unchanged", sum.Unchanged)}
	}

	return Insight{
		Headline:   headline,
		Sentiment:  sentiment,
		Highlights: trimList(highlights, 3),
		Confidence: 0.4,
	}
}

func nameOrCode(q market.Quote) string {
	if q.Name != "" {
		return q.Name
	}
	return q.Symbol
}

func sanitize(in Insight) Insight {
	out := in
	out.Sentiment = strings.ToLower(out.Sentiment)
	if out.Sentiment != "bullish" && out.Sentiment != "bearish" && out.Sentiment != "mixed" {
		out.Sentiment = "mixed"
	}
	if out.Headline == "" {
		out.Headline = "market commentary updated"
	}
	if len(out.Highlights) == 0 {
		out.Highlights = []string{"see the movers tables for details"}
	}
	out.Highlights = trimList(out.Highlights, 3)
	if out.Confidence < 0 {
		out.Confidence = 0
	}
	if out.Confidence > 1 {
		out.Confidence = 1
	}
	return out
}

func parseInsight(text string) (Insight, error) {
	var out Insight
	if err := json.Unmarshal([]byte(text), &out); err == nil {
		return out, nil
	}
	jsonStr := extractFirstJSONObject(text)
	if jsonStr == "" {
		return Insight{}, fmt.Errorf("no json object found")
	}
	if err := json.Unmarshal([]byte(jsonStr), &out); err != nil {
		return Insight{}, fmt.Errorf("parse insight: %w", err)
	}
	return out, nil
}

func extractFirstJSONObject(s string) string {
	start := strings.Index(s, "{")
	if start == -1 {
		return ""
	}
	depth := 0
	for i := start; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

func trimList(in []string, n int) []string {
	if len(in) > n {
		return in[:n]
	}
	return in
}

func logLLMError(err error) {
	apiErr := &openai.APIError{}
	if errors.As(err, &apiErr) {
		msg := apiErr.Message
		if len(msg) > 300 {
			msg = msg[:300] + "..."
		}
		log.Printf("insight api error: status=%d message=%s", apiErr.HTTPStatusCode, msg)
		return
	}
	log.Printf("insight error: %v", err)
}

var lastLLMLog time.Time

func logLLMErrorOnce(err error) {
	if time.Since(lastLLMLog) < 5*time.Second {
		return
	}
	lastLLMLog = time.Now()
	logLLMError(err)
}
