package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

// CycleRecord is one row per fetch cycle, written whether the cycle
// succeeded or not.
type CycleRecord struct {
	CycleID           string `json:"cycle_id"`
	StartedAt         int64  `json:"started_at"`
	DurationMs        int64  `json:"duration_ms"`
	Requested         int    `json:"requested"`
	Succeeded         int    `json:"succeeded"`
	Failed            int    `json:"failed"`
	Invalid           int    `json:"invalid"`
	CorrectionVersion string `json:"correction_version"`
	CreatedAt         string `json:"created_at"`
}

// QuoteRecord is one per-symbol row from a successful cycle.
type QuoteRecord struct {
	CycleID      string  `json:"cycle_id"`
	Symbol       string  `json:"symbol"`
	Price        float64 `json:"price"`
	PrevClose    float64 `json:"prev_close"`
	ChangePct    float64 `json:"change_pct"`
	Volume       int64   `json:"volume"`
	TradingValue float64 `json:"trading_value"`
	Status       string  `json:"status"`
	CreatedAt    string  `json:"created_at"`
}

func Open(path string) (*Store, error) {
	if path == "" {
		path = "data/history.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pragma wal: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=3000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pragma busy_timeout: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS fetch_cycle (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			cycle_id TEXT NOT NULL,
			started_at INTEGER NOT NULL,
			duration_ms INTEGER,
			requested INTEGER,
			succeeded INTEGER,
			failed INTEGER,
			invalid INTEGER,
			correction_version TEXT,
			created_at TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_fetch_cycle_started ON fetch_cycle(started_at);`,
		`CREATE INDEX IF NOT EXISTS idx_fetch_cycle_id ON fetch_cycle(cycle_id);`,
		`CREATE TABLE IF NOT EXISTS quote_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			cycle_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			price REAL,
			prev_close REAL,
			change_pct REAL,
			volume INTEGER,
			trading_value REAL,
			status TEXT,
			created_at TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_quote_history_symbol ON quote_history(symbol);`,
		`CREATE INDEX IF NOT EXISTS idx_quote_history_cycle ON quote_history(cycle_id);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *Store) InsertCycle(c CycleRecord) error {
	if s == nil || s.db == nil {
		return nil
	}
	if c.CreatedAt == "" {
		c.CreatedAt = time.Now().Format(time.RFC3339)
	}
	_, err := s.db.Exec(
		`INSERT INTO fetch_cycle (cycle_id, started_at, duration_ms, requested, succeeded, failed, invalid, correction_version, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.CycleID, c.StartedAt, c.DurationMs, c.Requested, c.Succeeded, c.Failed, c.Invalid, c.CorrectionVersion, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert cycle: %w", err)
	}
	return nil
}

// InsertQuotes writes a whole cycle's quote rows in one transaction.
func (s *Store) InsertQuotes(recs []QuoteRecord) error {
	if s == nil || s.db == nil || len(recs) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin quote history: %w", err)
	}
	stmt, err := tx.Prepare(
		`INSERT INTO quote_history (cycle_id, symbol, price, prev_close, change_pct, volume, trading_value, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare quote history: %w", err)
	}
	now := time.Now().Format(time.RFC3339)
	for _, r := range recs {
		if r.CreatedAt == "" {
			r.CreatedAt = now
		}
		if _, err := stmt.Exec(r.CycleID, r.Symbol, r.Price, r.PrevClose, r.ChangePct, r.Volume, r.TradingValue, r.Status, r.CreatedAt); err != nil {
			_ = stmt.Close()
			_ = tx.Rollback()
			return fmt.Errorf("insert quote history: %w", err)
		}
	}
	_ = stmt.Close()
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit quote history: %w", err)
	}
	return nil
}

func (s *Store) QueryCycles(limit int, offset int) ([]CycleRecord, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("store not initialized")
	}
	if limit <= 0 {
		limit = 200
	}
	if limit > 1000 {
		limit = 1000
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.Query(
		`SELECT cycle_id, started_at, duration_ms, requested, succeeded, failed, invalid, correction_version, created_at
		 FROM fetch_cycle ORDER BY started_at DESC, id DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("query cycles: %w", err)
	}
	defer rows.Close()

	var out []CycleRecord
	for rows.Next() {
		var c CycleRecord
		if err := rows.Scan(&c.CycleID, &c.StartedAt, &c.DurationMs, &c.Requested, &c.Succeeded, &c.Failed, &c.Invalid, &c.CorrectionVersion, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan cycle: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows cycle: %w", err)
	}
	return out, nil
}

func (s *Store) QueryQuoteHistory(symbol string, limit int, offset int) ([]QuoteRecord, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("store not initialized")
	}
	if limit <= 0 {
		limit = 200
	}
	if limit > 1000 {
		limit = 1000
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.Query(
		`SELECT cycle_id, symbol, price, prev_close, change_pct, volume, trading_value, status, created_at
		 FROM quote_history WHERE symbol = ?
		 ORDER BY id DESC LIMIT ? OFFSET ?`,
		symbol, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("query quote history: %w", err)
	}
	defer rows.Close()

	var out []QuoteRecord
	for rows.Next() {
		var r QuoteRecord
		if err := rows.Scan(&r.CycleID, &r.Symbol, &r.Price, &r.PrevClose, &r.ChangePct, &r.Volume, &r.TradingValue, &r.Status, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan quote history: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows quote history: %w", err)
	}
	return out, nil
}
