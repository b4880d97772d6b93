package cache

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"tasi-market-movers/internal/market"
)

// persistedEntry is the on-disk cache record. Only the generation time, the
// TTL, and the quotes survive a restart; cycle counters are rebuilt on load.
type persistedEntry struct {
	GeneratedAt time.Time      `json:"generated_at"`
	TTLSeconds  int64          `json:"ttl_seconds"`
	Quotes      []market.Quote `json:"quotes"`
}

// Store is an in-memory single-entry snapshot cache with a JSON file behind
// it. The file is written on every Put and read once at startup via Load.
type Store struct {
	path string
	now  func() time.Time

	mu  sync.RWMutex
	cur *market.CacheEntry
}

func New(path string) *Store {
	return &Store{path: path, now: time.Now}
}

// Get returns the current entry, reporting a miss once it has expired.
func (s *Store) Get() (market.CacheEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cur == nil {
		return market.CacheEntry{}, false
	}
	if s.now().After(s.cur.ExpiresAt) {
		return market.CacheEntry{}, false
	}
	return *s.cur, true
}

// Last returns the held entry even after expiry. Callers that prefer stale
// data over none use this after a failed refresh.
func (s *Store) Last() (market.CacheEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cur == nil {
		return market.CacheEntry{}, false
	}
	return *s.cur, true
}

// Put replaces the entry wholesale and persists it. A persist failure is
// logged and otherwise ignored; the in-memory entry stays authoritative.
func (s *Store) Put(snap market.Snapshot, ttl time.Duration) {
	if ttl <= 0 {
		ttl = market.DefaultCacheTTL
	}
	generated := s.now()
	entry := market.CacheEntry{
		Snapshot:    snap,
		GeneratedAt: generated,
		ExpiresAt:   generated.Add(ttl),
	}

	s.mu.Lock()
	s.cur = &entry
	s.mu.Unlock()

	if err := s.persist(entry, ttl); err != nil {
		log.Printf("cache persist error: %v", err)
	}
}

func (s *Store) persist(entry market.CacheEntry, ttl time.Duration) error {
	if s.path == "" {
		return nil
	}
	rec := persistedEntry{
		GeneratedAt: entry.GeneratedAt,
		TTLSeconds:  int64(ttl / time.Second),
		Quotes:      entry.Snapshot.Quotes,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode cache: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	// Write-then-rename so a crash mid-write never leaves a torn record.
	tmp, err := os.CreateTemp(dir, ".quotes-*.json")
	if err != nil {
		return fmt.Errorf("create cache temp: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close cache temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("rename cache: %w", err)
	}
	return nil
}

// Load restores the persisted record if it exists and its TTL has not lapsed.
// A missing or expired file is a clean no-op, not an error.
func (s *Store) Load() (bool, error) {
	if s.path == "" {
		return false, nil
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("read cache: %w", err)
	}
	var rec persistedEntry
	if err := json.Unmarshal(data, &rec); err != nil {
		return false, fmt.Errorf("decode cache: %w", err)
	}
	ttl := time.Duration(rec.TTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = market.DefaultCacheTTL
	}
	if s.now().Sub(rec.GeneratedAt) > ttl {
		return false, nil
	}
	entry := market.CacheEntry{
		Snapshot:    market.RebuildSnapshot(rec.Quotes, rec.GeneratedAt),
		GeneratedAt: rec.GeneratedAt,
		ExpiresAt:   rec.GeneratedAt.Add(ttl),
	}
	s.mu.Lock()
	s.cur = &entry
	s.mu.Unlock()
	return true, nil
}
