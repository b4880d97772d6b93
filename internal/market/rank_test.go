package market

import (
	"reflect"
	"testing"
	"time"
)

func rq(sym string, pct float64, vol int64, value float64) Quote {
	return Quote{Symbol: sym, ChangePct: pct, Volume: vol, TradingValue: value, Status: StatusValid}
}

func rankSnapshot(quotes ...Quote) Snapshot {
	return Snapshot{
		CycleID:        "c1",
		Quotes:         quotes,
		RequestedCount: len(quotes),
		SucceededCount: len(quotes),
		StartedAt:      time.Date(2025, 3, 2, 10, 30, 0, 0, time.UTC),
		Duration:       2 * time.Second,
	}
}

func symbols(qs []Quote) []string {
	out := make([]string, len(qs))
	for i, q := range qs {
		out[i] = q.Symbol
	}
	return out
}

func TestRankSplitsGainersAndLosers(t *testing.T) {
	snap := rankSnapshot(
		rq("1111", 5.0, 10, 100),
		rq("2222", -3.0, 20, 200),
		rq("3333", 1.0, 30, 300),
	)

	sum := Rank(snap, 2, 0)

	if got := symbols(sum.TopGainers); !reflect.DeepEqual(got, []string{"1111", "3333"}) {
		t.Fatalf("top gainers = %v, want [1111 3333]", got)
	}
	// Only one decliner exists; the list must not be padded to the limit.
	if got := symbols(sum.TopLosers); !reflect.DeepEqual(got, []string{"2222"}) {
		t.Fatalf("top losers = %v, want [2222]", got)
	}
	if sum.Advancers != 2 || sum.Decliners != 1 || sum.Unchanged != 0 {
		t.Fatalf("breadth = %d/%d/%d, want 2/1/0", sum.Advancers, sum.Decliners, sum.Unchanged)
	}
}

func TestRankUnchangedJoinsNeitherList(t *testing.T) {
	snap := rankSnapshot(
		rq("1111", 0, 10, 100),
		rq("2222", 2.5, 20, 200),
	)
	sum := Rank(snap, 10, 0)
	if len(sum.TopGainers) != 1 || len(sum.TopLosers) != 0 {
		t.Fatalf("gainers=%d losers=%d, want 1/0", len(sum.TopGainers), len(sum.TopLosers))
	}
	if sum.Unchanged != 1 {
		t.Fatalf("unchanged = %d, want 1", sum.Unchanged)
	}
}

func TestRankTieBreaksBySymbol(t *testing.T) {
	snap := rankSnapshot(
		rq("ZZZZ", 2.00, 10, 100),
		rq("AAAA", 2.00, 20, 200),
	)
	sum := Rank(snap, 10, 0)
	if got := symbols(sum.TopGainers); !reflect.DeepEqual(got, []string{"AAAA", "ZZZZ"}) {
		t.Fatalf("tie-break order = %v, want [AAAA ZZZZ]", got)
	}
}

func TestRankVolumeAndValueLeaders(t *testing.T) {
	snap := rankSnapshot(
		rq("1111", -1, 500, 10),
		rq("2222", 2, 100, 990),
		rq("3333", 0, 300, 500),
	)
	sum := Rank(snap, 2, 0)
	if got := symbols(sum.VolumeLeaders); !reflect.DeepEqual(got, []string{"1111", "3333"}) {
		t.Fatalf("volume leaders = %v, want [1111 3333]", got)
	}
	if got := symbols(sum.ValueLeaders); !reflect.DeepEqual(got, []string{"2222", "3333"}) {
		t.Fatalf("value leaders = %v, want [2222 3333]", got)
	}
	if sum.TotalVolume != 900 || sum.TotalValue != 1500 {
		t.Fatalf("totals = %d/%v, want 900/1500", sum.TotalVolume, sum.TotalValue)
	}
}

func TestRankExcludesNonValidQuotes(t *testing.T) {
	bad := Quote{Symbol: "9999", ChangePct: 50, Volume: 1 << 40, TradingValue: 1e12, Status: StatusInvalid}
	gone := Quote{Symbol: "8888", Status: StatusUnavailable}
	snap := rankSnapshot(rq("1111", 1, 10, 100), bad, gone)

	sum := Rank(snap, 10, 0)

	for _, list := range [][]Quote{sum.TopGainers, sum.TopLosers, sum.VolumeLeaders, sum.ValueLeaders} {
		for _, q := range list {
			if q.Symbol == "9999" || q.Symbol == "8888" {
				t.Fatalf("non-valid quote %s leaked into rankings", q.Symbol)
			}
		}
	}
	if sum.ActiveSize != 1 {
		t.Fatalf("active size = %d, want 1", sum.ActiveSize)
	}
	if sum.TotalVolume != 10 {
		t.Fatalf("total volume = %d, want 10", sum.TotalVolume)
	}
}

func TestRankIsOrderIndependent(t *testing.T) {
	a := rq("1111", 5, 10, 100)
	b := rq("2222", -3, 20, 200)
	c := rq("3333", 1, 30, 300)

	s1 := rankSnapshot(a, b, c)
	s2 := rankSnapshot(c, a, b)
	s2.RequestedCount = s1.RequestedCount

	if !reflect.DeepEqual(Rank(s1, 5, 0), Rank(s2, 5, 0)) {
		t.Fatal("summaries differ across input orderings")
	}
}

func TestRankLimitHandling(t *testing.T) {
	quotes := make([]Quote, 0, 15)
	for i := 0; i < 15; i++ {
		quotes = append(quotes, rq(string(rune('A'+i))+"000", float64(i+1), int64(i), float64(i)))
	}
	snap := rankSnapshot(quotes...)

	if got := len(Rank(snap, 0, 0).TopGainers); got != DefaultTopN {
		t.Fatalf("default limit = %d, want %d", got, DefaultTopN)
	}
	if got := len(Rank(snap, 100, 0).TopGainers); got != 15 {
		t.Fatalf("oversized limit = %d, want 15 (no padding)", got)
	}
	if got := len(Rank(snap, 3, 0).TopGainers); got != 3 {
		t.Fatalf("limit 3 = %d", got)
	}
}

func TestRankMetadata(t *testing.T) {
	snap := rankSnapshot(rq("1111", 1, 10, 100))
	snap.CorrectionVersion = "tasi-ref-1"

	sum := Rank(snap, 5, 259)

	if sum.UniverseSize != 259 {
		t.Fatalf("universe size = %d, want 259", sum.UniverseSize)
	}
	if !sum.GeneratedAt.Equal(snap.CompletedAt()) {
		t.Fatalf("generated at = %v, want %v", sum.GeneratedAt, snap.CompletedAt())
	}
	if sum.CycleID != "c1" || sum.CorrectionVersion != "tasi-ref-1" {
		t.Fatalf("metadata = %q/%q", sum.CycleID, sum.CorrectionVersion)
	}

	// Without an explicit universe size the cycle's requested count stands in.
	if got := Rank(snap, 5, 0).UniverseSize; got != snap.RequestedCount {
		t.Fatalf("fallback universe size = %d, want %d", got, snap.RequestedCount)
	}
}

func TestRankEmptySnapshot(t *testing.T) {
	sum := Rank(rankSnapshot(), 5, 0)
	if len(sum.TopGainers) != 0 || len(sum.TopLosers) != 0 || len(sum.VolumeLeaders) != 0 || len(sum.ValueLeaders) != 0 {
		t.Fatalf("expected empty rankings, got %+v", sum)
	}
	if sum.ActiveSize != 0 || sum.TotalVolume != 0 {
		t.Fatalf("expected zero aggregates, got %+v", sum)
	}
}
