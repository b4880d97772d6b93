package market

import (
	"context"
	"fmt"
	"time"

	"tasi-market-movers/internal/universe"
)

type QuoteStatus string

const (
	StatusValid       QuoteStatus = "valid"
	StatusInvalid     QuoteStatus = "invalid"
	StatusUnavailable QuoteStatus = "unavailable"
)

type Quote struct {
	Symbol       string      `json:"symbol"`
	Name         string      `json:"name,omitempty"`
	Sector       string      `json:"sector,omitempty"`
	Price        float64     `json:"price"`
	PrevClose    float64     `json:"prev_close"`
	Change       float64     `json:"change"`
	ChangePct    float64     `json:"change_pct"`
	Volume       int64       `json:"volume"`
	TradingValue float64     `json:"trading_value"`
	FetchedAt    time.Time   `json:"fetched_at"`
	Status       QuoteStatus `json:"status"`
	Corrected    bool        `json:"corrected,omitempty"`
	Err          string      `json:"error,omitempty"`
}

// Snapshot is the outcome of one fetch cycle. It is assembled once and never
// mutated afterwards; a new cycle produces a new Snapshot.
type Snapshot struct {
	CycleID           string        `json:"cycle_id"`
	Quotes            []Quote       `json:"quotes"`
	RequestedCount    int           `json:"requested_count"`
	SucceededCount    int           `json:"succeeded_count"`
	FailedCount       int           `json:"failed_count"`
	InvalidCount      int           `json:"invalid_count"`
	StartedAt         time.Time     `json:"started_at"`
	Duration          time.Duration `json:"duration"`
	CorrectionVersion string        `json:"correction_version,omitempty"`
}

func (s Snapshot) CompletedAt() time.Time {
	return s.StartedAt.Add(s.Duration)
}

func (s Snapshot) ValidQuotes() []Quote {
	out := make([]Quote, 0, len(s.Quotes))
	for _, q := range s.Quotes {
		if q.Status == StatusValid {
			out = append(out, q)
		}
	}
	return out
}

// RebuildSnapshot reconstructs cycle counters from quote statuses, for
// snapshots restored from the persisted cache record.
func RebuildSnapshot(quotes []Quote, startedAt time.Time) Snapshot {
	snap := Snapshot{
		Quotes:         quotes,
		RequestedCount: len(quotes),
		StartedAt:      startedAt,
	}
	for _, q := range quotes {
		switch q.Status {
		case StatusUnavailable:
			snap.FailedCount++
		case StatusInvalid:
			snap.InvalidCount++
		}
	}
	snap.SucceededCount = snap.RequestedCount - snap.FailedCount
	return snap
}

type CacheEntry struct {
	Snapshot    Snapshot  `json:"snapshot"`
	GeneratedAt time.Time `json:"generated_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type MarketSummary struct {
	TopGainers        []Quote   `json:"top_gainers"`
	TopLosers         []Quote   `json:"top_losers"`
	VolumeLeaders     []Quote   `json:"volume_leaders"`
	ValueLeaders      []Quote   `json:"value_leaders"`
	Advancers         int       `json:"advancers"`
	Decliners         int       `json:"decliners"`
	Unchanged         int       `json:"unchanged"`
	TotalVolume       int64     `json:"total_volume"`
	TotalValue        float64   `json:"total_value"`
	UniverseSize      int       `json:"universe_size"`
	ActiveSize        int       `json:"active_size"`
	GeneratedAt       time.Time `json:"generated_at"`
	CycleID           string    `json:"cycle_id,omitempty"`
	CorrectionVersion string    `json:"correction_version,omitempty"`
}

// CycleError reports a fetch cycle that produced zero valid quotes. It is a
// result value for callers to branch on, not a panic path.
type CycleError struct {
	RequestedCount int
	FailedCount    int
	Reason         string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("fetch cycle failed: %s (requested=%d failed=%d)", e.Reason, e.RequestedCount, e.FailedCount)
}

// QuoteProvider fetches one symbol. Fetch always returns a Quote: transport,
// parsing, and missing-data problems come back as StatusUnavailable, never as
// an error the caller has to recover from.
type QuoteProvider interface {
	Name() string
	Fetch(ctx context.Context, sym universe.Symbol) Quote
}

// SnapshotCache holds the current cache entry. Put replaces the entry
// wholesale; Get reports a miss once the entry has expired; Last returns
// whatever entry exists regardless of expiry, for stale serving.
type SnapshotCache interface {
	Get() (CacheEntry, bool)
	Last() (CacheEntry, bool)
	Put(snap Snapshot, ttl time.Duration)
}

// Corrector adjusts a quote against an explicitly versioned reference table.
type Corrector interface {
	Version() string
	Apply(q Quote) (Quote, bool)
}

func UnavailableQuote(sym universe.Symbol, reason string) Quote {
	return Quote{
		Symbol:    sym.Code,
		Name:      sym.Name,
		Sector:    sym.Sector,
		FetchedAt: time.Now(),
		Status:    StatusUnavailable,
		Err:       reason,
	}
}
