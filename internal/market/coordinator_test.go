package market

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"tasi-market-movers/internal/universe"
)

// stubProvider lets tests script per-symbol outcomes. Shared by the
// coordinator, fallback, and service tests.
type stubProvider struct {
	name  string
	calls atomic.Int64
	fetch func(ctx context.Context, sym universe.Symbol) Quote
}

func (s *stubProvider) Name() string {
	if s.name == "" {
		return "stub"
	}
	return s.name
}

func (s *stubProvider) Fetch(ctx context.Context, sym universe.Symbol) Quote {
	s.calls.Add(1)
	return s.fetch(ctx, sym)
}

func rawQuote(sym universe.Symbol, price, prev float64, vol int64) Quote {
	return Quote{
		Symbol:    sym.Code,
		Name:      sym.Name,
		Sector:    sym.Sector,
		Price:     price,
		PrevClose: prev,
		Volume:    vol,
		FetchedAt: time.Now(),
	}
}

func testSymbols(n int) []universe.Symbol {
	out := make([]universe.Symbol, 0, n)
	for i := 0; i < n; i++ {
		code := fmt.Sprintf("%04d", 1000+i)
		out = append(out, universe.Symbol{Code: code, Name: "Company " + code, Sector: "Materials"})
	}
	return out
}

func TestFetchAllCollectsEverySymbol(t *testing.T) {
	syms := testSymbols(10)
	p := &stubProvider{fetch: func(_ context.Context, sym universe.Symbol) Quote {
		return rawQuote(sym, 10, 9, 100)
	}}

	snap := NewCoordinator(p).FetchAll(context.Background(), syms, 4, time.Second)

	if snap.RequestedCount != 10 || snap.SucceededCount != 10 || snap.FailedCount != 0 {
		t.Fatalf("counts = %d/%d/%d, want 10/10/0", snap.RequestedCount, snap.SucceededCount, snap.FailedCount)
	}
	if len(snap.Quotes) != 10 {
		t.Fatalf("quotes = %d, want 10", len(snap.Quotes))
	}
	// Results come back in universe order regardless of worker scheduling.
	for i, q := range snap.Quotes {
		if q.Symbol != syms[i].Code {
			t.Fatalf("quote %d = %s, want %s", i, q.Symbol, syms[i].Code)
		}
	}
	if snap.CycleID == "" {
		t.Fatal("cycle id not assigned")
	}
}

func TestFetchAllBoundsConcurrency(t *testing.T) {
	const maxWorkers = 3
	var inFlight, peak atomic.Int64

	p := &stubProvider{fetch: func(_ context.Context, sym universe.Symbol) Quote {
		cur := inFlight.Add(1)
		for {
			old := peak.Load()
			if cur <= old || peak.CompareAndSwap(old, cur) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
		return rawQuote(sym, 10, 9, 100)
	}}

	NewCoordinator(p).FetchAll(context.Background(), testSymbols(20), maxWorkers, time.Second)

	if got := peak.Load(); got > maxWorkers {
		t.Fatalf("observed %d concurrent fetches, limit %d", got, maxWorkers)
	}
}

func TestFetchAllPartialFailure(t *testing.T) {
	syms := testSymbols(10)
	failing := map[string]bool{"1001": true, "1004": true, "1008": true}

	p := &stubProvider{fetch: func(_ context.Context, sym universe.Symbol) Quote {
		if failing[sym.Code] {
			return UnavailableQuote(sym, "request timed out")
		}
		return rawQuote(sym, 10, 9, 100)
	}}

	snap := NewCoordinator(p).FetchAll(context.Background(), syms, 5, time.Second)

	if snap.SucceededCount != 7 || snap.FailedCount != 3 {
		t.Fatalf("counts = %d/%d, want 7/3", snap.SucceededCount, snap.FailedCount)
	}
	if len(snap.Quotes) != 10 {
		t.Fatalf("quotes = %d, want one per requested symbol", len(snap.Quotes))
	}
	for _, q := range snap.Quotes {
		if failing[q.Symbol] {
			if q.Status != StatusUnavailable || q.Err != "request timed out" {
				t.Fatalf("failed symbol %s = %+v", q.Symbol, q)
			}
		} else if q.Status == StatusUnavailable {
			t.Fatalf("healthy symbol %s marked unavailable", q.Symbol)
		}
	}
}

func TestFetchAllBudgetExpiry(t *testing.T) {
	p := &stubProvider{fetch: func(_ context.Context, sym universe.Symbol) Quote {
		time.Sleep(300 * time.Millisecond)
		return rawQuote(sym, 10, 9, 100)
	}}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	snap := NewCoordinator(p).FetchAll(ctx, testSymbols(5), 1, time.Second)

	if len(snap.Quotes) != 5 {
		t.Fatalf("quotes = %d, want a placeholder per symbol", len(snap.Quotes))
	}
	if snap.FailedCount != 5 {
		t.Fatalf("failed = %d, want 5", snap.FailedCount)
	}
	for _, q := range snap.Quotes {
		if q.Status != StatusUnavailable || q.Err != "cycle budget exceeded" {
			t.Fatalf("quote %s = %q/%q", q.Symbol, q.Status, q.Err)
		}
	}
}

func TestFetchAllEmptyUniverse(t *testing.T) {
	p := &stubProvider{fetch: func(_ context.Context, sym universe.Symbol) Quote {
		t.Error("provider must not be called for an empty universe")
		return Quote{}
	}}

	snap := NewCoordinator(p).FetchAll(context.Background(), nil, 4, time.Second)

	if snap.RequestedCount != 0 || snap.FailedCount != 0 || snap.SucceededCount != 0 {
		t.Fatalf("counts = %d/%d/%d, want zeros", snap.RequestedCount, snap.SucceededCount, snap.FailedCount)
	}
	if snap.Quotes == nil || len(snap.Quotes) != 0 {
		t.Fatalf("quotes = %v, want empty slice", snap.Quotes)
	}
}

func TestFetchAllDistinctCycleIDs(t *testing.T) {
	p := &stubProvider{fetch: func(_ context.Context, sym universe.Symbol) Quote {
		return rawQuote(sym, 10, 9, 100)
	}}
	c := NewCoordinator(p)
	a := c.FetchAll(context.Background(), testSymbols(1), 1, time.Second)
	b := c.FetchAll(context.Background(), testSymbols(1), 1, time.Second)
	if a.CycleID == b.CycleID {
		t.Fatalf("cycle ids collide: %s", a.CycleID)
	}
}
