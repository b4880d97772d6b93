package market

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"tasi-market-movers/internal/universe"
)

const (
	DefaultMaxWorkers     = 20
	DefaultPerCallTimeout = 5 * time.Second
)

// Coordinator fans quote fetches out over a bounded worker pool and collects
// the results into a Snapshot. Workers never share state: every result goes
// through one buffered channel read by a single collector.
type Coordinator struct {
	provider QuoteProvider
}

func NewCoordinator(provider QuoteProvider) *Coordinator {
	return &Coordinator{provider: provider}
}

// FetchAll runs one fetch cycle. The overall budget rides on ctx: when it
// expires, results still in flight are dropped and their symbols are counted
// as failures. A cycle with partial failures is normal; FetchAll itself never
// fails, it reports counts on the Snapshot.
func (c *Coordinator) FetchAll(ctx context.Context, symbols []universe.Symbol, maxWorkers int, perCallTimeout time.Duration) Snapshot {
	started := time.Now()
	snap := Snapshot{
		CycleID:        uuid.NewString(),
		StartedAt:      started,
		RequestedCount: len(symbols),
	}
	if len(symbols) == 0 {
		snap.Quotes = []Quote{}
		snap.Duration = time.Since(started)
		return snap
	}
	if maxWorkers <= 0 {
		maxWorkers = DefaultMaxWorkers
	}
	if maxWorkers > len(symbols) {
		maxWorkers = len(symbols)
	}
	if perCallTimeout <= 0 {
		perCallTimeout = DefaultPerCallTimeout
	}

	jobs := make(chan universe.Symbol)
	results := make(chan Quote, len(symbols))

	var wg sync.WaitGroup
	for i := 0; i < maxWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for sym := range jobs {
				callCtx, cancel := context.WithTimeout(ctx, perCallTimeout)
				q := c.provider.Fetch(callCtx, sym)
				cancel()
				results <- q
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, sym := range symbols {
			select {
			case jobs <- sym:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	arrived := make(map[string]Quote, len(symbols))
collect:
	for len(arrived) < len(symbols) {
		select {
		case q, ok := <-results:
			if !ok {
				break collect
			}
			arrived[q.Symbol] = q
		case <-ctx.Done():
			break collect
		}
	}

	quotes := make([]Quote, 0, len(symbols))
	failed := 0
	for _, sym := range symbols {
		q, ok := arrived[sym.Code]
		if !ok {
			q = UnavailableQuote(sym, "cycle budget exceeded")
		}
		if q.Status == StatusUnavailable {
			failed++
		}
		quotes = append(quotes, q)
	}
	snap.Quotes = quotes
	snap.FailedCount = failed
	snap.SucceededCount = snap.RequestedCount - failed
	snap.Duration = time.Since(started)

	log.Printf("fetch cycle %s: requested=%d succeeded=%d failed=%d elapsed=%s",
		snap.CycleID, snap.RequestedCount, snap.SucceededCount, snap.FailedCount, snap.Duration.Round(time.Millisecond))
	return snap
}
