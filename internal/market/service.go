package market

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"tasi-market-movers/internal/store"
	"tasi-market-movers/internal/universe"
)

const (
	DefaultCycleBudget = 30 * time.Second
	DefaultCacheTTL    = 10 * time.Minute
)

type SymbolSource interface {
	ListSymbols() []universe.Symbol
	Size() int
}

type ServiceConfig struct {
	MaxWorkers      int
	PerCallTimeout  time.Duration
	CycleBudget     time.Duration
	CacheTTL        time.Duration
	TopN            int
	MarketHoursOnly bool
}

// Service owns the fetch-validate-cache-rank control flow. All collaborators
// are injected; the cache, corrector, and history store may be absent and the
// pipeline degrades accordingly.
type Service struct {
	src   SymbolSource
	coord *Coordinator
	cache SnapshotCache
	corr  Corrector
	store *store.Store
	cfg   ServiceConfig

	now func() time.Time

	refreshMu sync.Mutex

	statsMu             sync.Mutex
	consecutiveFailures int
}

func NewService(src SymbolSource, coord *Coordinator, cache SnapshotCache, corr Corrector, st *store.Store, cfg ServiceConfig) *Service {
	if cfg.TopN <= 0 {
		cfg.TopN = DefaultTopN
	}
	if cfg.CycleBudget <= 0 {
		cfg.CycleBudget = DefaultCycleBudget
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	return &Service{
		src:   src,
		coord: coord,
		cache: cache,
		corr:  corr,
		store: st,
		cfg:   cfg,
		now:   time.Now,
	}
}

// GetMarketSummary returns the ranked movers view, serving from cache when a
// current entry satisfies maxAge and refreshing otherwise.
//
// maxAge < 0 accepts any unexpired entry, maxAge == 0 forces a refresh, and
// maxAge > 0 additionally rejects entries older than that age even when their
// TTL has not lapsed.
func (s *Service) GetMarketSummary(ctx context.Context, limit int, maxAge time.Duration) (MarketSummary, error) {
	if limit <= 0 {
		limit = s.cfg.TopN
	}
	if entry, ok := s.cachedEntry(maxAge); ok {
		return Rank(entry.Snapshot, limit, s.src.Size()), nil
	}
	snap, err := s.Refresh(ctx)
	if err != nil {
		return MarketSummary{}, err
	}
	return Rank(snap, limit, s.src.Size()), nil
}

func (s *Service) cachedEntry(maxAge time.Duration) (CacheEntry, bool) {
	if s.cache == nil || maxAge == 0 {
		return CacheEntry{}, false
	}
	entry, ok := s.cache.Get()
	if !ok {
		return CacheEntry{}, false
	}
	if maxAge > 0 && s.now().Sub(entry.GeneratedAt) > maxAge {
		return CacheEntry{}, false
	}
	return entry, true
}

// Refresh runs one full fetch cycle and replaces the cache on success. A
// cycle that yields zero valid quotes returns a *CycleError; partial results
// are success.
func (s *Service) Refresh(ctx context.Context) (Snapshot, error) {
	waitStart := s.now()
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	// A cycle that completed while this caller was queued behind the lock is
	// current; reuse it instead of hitting the upstream again.
	if s.cache != nil {
		if entry, ok := s.cache.Last(); ok && entry.GeneratedAt.After(waitStart) {
			return entry.Snapshot, nil
		}
	}

	symbols := s.src.ListSymbols()
	cctx, cancel := context.WithTimeout(ctx, s.cfg.CycleBudget)
	defer cancel()

	snap := s.coord.FetchAll(cctx, symbols, s.cfg.MaxWorkers, s.cfg.PerCallTimeout)
	snap = ValidateSnapshot(snap)
	snap = s.applyCorrection(snap)

	valid := len(snap.ValidQuotes())
	if valid == 0 {
		s.noteFailure()
		s.persistHistory(snap, false)
		reason := "no valid quotes in cycle"
		if snap.RequestedCount == 0 {
			reason = "symbol universe is empty"
		}
		return Snapshot{}, &CycleError{
			RequestedCount: snap.RequestedCount,
			FailedCount:    snap.FailedCount,
			Reason:         reason,
		}
	}

	if s.cache != nil {
		s.cache.Put(snap, s.cfg.CacheTTL)
	}
	s.persistHistory(snap, true)
	s.noteSuccess()
	log.Printf("snapshot %s ready: valid=%d invalid=%d unavailable=%d universe=%d",
		snap.CycleID, valid, snap.InvalidCount, snap.FailedCount, snap.RequestedCount)
	return snap, nil
}

// StaleSummary ranks whatever entry the cache still holds, expired or not,
// for callers that prefer old data over none after a failed cycle.
func (s *Service) StaleSummary(limit int) (MarketSummary, bool) {
	if s.cache == nil {
		return MarketSummary{}, false
	}
	entry, ok := s.cache.Last()
	if !ok {
		return MarketSummary{}, false
	}
	if limit <= 0 {
		limit = s.cfg.TopN
	}
	return Rank(entry.Snapshot, limit, s.src.Size()), true
}

// CachedQuotes looks selected codes up in the last snapshot without
// triggering a fetch. The bool reports whether any snapshot exists at all.
func (s *Service) CachedQuotes(codes []string) ([]Quote, []string, bool) {
	if s.cache == nil {
		return nil, nil, false
	}
	entry, ok := s.cache.Last()
	if !ok {
		return nil, nil, false
	}
	byCode := make(map[string]Quote, len(entry.Snapshot.Quotes))
	for _, q := range entry.Snapshot.Quotes {
		byCode[q.Symbol] = q
	}
	out := make([]Quote, 0, len(codes))
	var missing []string
	for _, code := range codes {
		code = strings.TrimSpace(code)
		if code == "" {
			continue
		}
		if q, ok := byCode[code]; ok {
			out = append(out, q)
		} else {
			missing = append(missing, code)
		}
	}
	return out, missing, true
}

type CacheInfo struct {
	HasSnapshot bool      `json:"has_snapshot"`
	GeneratedAt time.Time `json:"generated_at,omitempty"`
	ExpiresAt   time.Time `json:"expires_at,omitempty"`
	AgeSec      int64     `json:"age_sec,omitempty"`
	Expired     bool      `json:"expired,omitempty"`
}

// Hours reports the exchange session state at the service clock.
func (s *Service) Hours() SessionStatus {
	return Session(s.now())
}

func (s *Service) CacheInfo() CacheInfo {
	if s.cache == nil {
		return CacheInfo{}
	}
	entry, ok := s.cache.Last()
	if !ok {
		return CacheInfo{}
	}
	now := s.now()
	return CacheInfo{
		HasSnapshot: true,
		GeneratedAt: entry.GeneratedAt,
		ExpiresAt:   entry.ExpiresAt,
		AgeSec:      int64(now.Sub(entry.GeneratedAt) / time.Second),
		Expired:     now.After(entry.ExpiresAt),
	}
}

// PollLoop refreshes in the background until the context ends, backing off
// after consecutive failures. With MarketHoursOnly set, refreshes are skipped
// outside the exchange session.
func (s *Service) PollLoop(ctx context.Context, baseInterval time.Duration) {
	if baseInterval <= 0 {
		baseInterval = time.Minute
	}
	for {
		interval := baseInterval
		if s.cfg.MarketHoursOnly && !Session(s.now()).Open {
			log.Printf("market closed, skipping refresh")
		} else {
			_, err := s.Refresh(ctx)
			if err != nil {
				log.Printf("market poll error: %v", err)
			}
			interval = s.nextPollInterval(baseInterval, err != nil)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

func (s *Service) nextPollInterval(base time.Duration, failed bool) time.Duration {
	if !failed {
		return base
	}
	s.statsMu.Lock()
	failures := s.consecutiveFailures
	s.statsMu.Unlock()
	if failures >= 6 {
		return base * 4
	}
	if failures >= 3 {
		return base * 2
	}
	return base
}

func (s *Service) noteFailure() {
	s.statsMu.Lock()
	s.consecutiveFailures++
	s.statsMu.Unlock()
}

func (s *Service) noteSuccess() {
	s.statsMu.Lock()
	s.consecutiveFailures = 0
	s.statsMu.Unlock()
}

func (s *Service) applyCorrection(snap Snapshot) Snapshot {
	if s.corr == nil {
		return snap
	}
	out := snap
	quotes := make([]Quote, len(snap.Quotes))
	corrected := 0
	for i, q := range snap.Quotes {
		cq, changed := s.corr.Apply(q)
		if changed {
			corrected++
		}
		quotes[i] = cq
	}
	out.Quotes = quotes
	out.CorrectionVersion = s.corr.Version()
	if corrected > 0 {
		log.Printf("price correction %s adjusted %d quotes", s.corr.Version(), corrected)
	}
	return out
}

func (s *Service) persistHistory(snap Snapshot, withQuotes bool) {
	if s.store == nil {
		return
	}
	cycle := store.CycleRecord{
		CycleID:           snap.CycleID,
		StartedAt:         snap.StartedAt.Unix(),
		DurationMs:        snap.Duration.Milliseconds(),
		Requested:         snap.RequestedCount,
		Succeeded:         snap.SucceededCount,
		Failed:            snap.FailedCount,
		Invalid:           snap.InvalidCount,
		CorrectionVersion: snap.CorrectionVersion,
	}
	if err := s.store.InsertCycle(cycle); err != nil {
		log.Printf("insert cycle history error: %v", err)
	}
	if !withQuotes {
		return
	}
	recs := make([]store.QuoteRecord, 0, len(snap.Quotes))
	for _, q := range snap.Quotes {
		if q.Status == StatusUnavailable {
			continue
		}
		recs = append(recs, store.QuoteRecord{
			CycleID:      snap.CycleID,
			Symbol:       q.Symbol,
			Price:        q.Price,
			PrevClose:    q.PrevClose,
			ChangePct:    q.ChangePct,
			Volume:       q.Volume,
			TradingValue: q.TradingValue,
			Status:       string(q.Status),
		})
	}
	if err := s.store.InsertQuotes(recs); err != nil {
		log.Printf("insert quote history error: %v", err)
	}
}
