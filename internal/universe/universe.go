package universe

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"

	_ "modernc.org/sqlite"
)

type Symbol struct {
	Code   string `json:"symbol"`
	Name   string `json:"name"`
	Sector string `json:"sector"`
}

type SectorCount struct {
	Sector string `json:"sector"`
	Count  int    `json:"count"`
}

// Universe is the ordered set of listed symbols for one process lifetime.
// It is loaded once and immutable afterwards; the order matches the official
// listing so downstream tie-breaks stay stable across cycles.
type Universe struct {
	symbols []Symbol
	source  string
}

// Load reads the official companies database. When the database is absent or
// unreadable it falls back to the built-in list of major companies instead of
// failing; the returned universe is authoritative either way.
func Load(dbPath string) *Universe {
	symbols, err := loadFromDB(dbPath)
	if err != nil {
		log.Printf("universe: official database unavailable (%v), using fallback list", err)
		return &Universe{symbols: fallbackSymbols(), source: "fallback"}
	}
	return &Universe{symbols: symbols, source: "official"}
}

func loadFromDB(path string) ([]Symbol, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is empty")
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("stat database: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	rows, err := db.Query(`SELECT symbol, name, sector FROM stocks ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("query stocks: %w", err)
	}
	defer rows.Close()

	var out []Symbol
	for rows.Next() {
		var s Symbol
		if err := rows.Scan(&s.Code, &s.Name, &s.Sector); err != nil {
			return nil, fmt.Errorf("scan stock: %w", err)
		}
		s.Code = strings.TrimSpace(s.Code)
		if s.Code == "" {
			continue
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows stocks: %w", err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("stocks table is empty")
	}
	return out, nil
}

// ListSymbols returns the full universe in listing order. The slice is a copy;
// callers may not assume it stays in sync with later reloads (there are none).
func (u *Universe) ListSymbols() []Symbol {
	out := make([]Symbol, len(u.symbols))
	copy(out, u.symbols)
	return out
}

func (u *Universe) Size() int {
	return len(u.symbols)
}

func (u *Universe) Source() string {
	return u.source
}

func (u *Universe) BySector(sector string) []Symbol {
	var out []Symbol
	for _, s := range u.symbols {
		if strings.EqualFold(s.Sector, sector) {
			out = append(out, s)
		}
	}
	return out
}

// Search matches the query case-insensitively against symbol codes and names.
func (u *Universe) Search(query string) []Symbol {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return u.ListSymbols()
	}
	var out []Symbol
	for _, s := range u.symbols {
		if strings.Contains(strings.ToLower(s.Code), query) || strings.Contains(strings.ToLower(s.Name), query) {
			out = append(out, s)
		}
	}
	return out
}

// Sectors lists sector names with constituent counts, largest sectors first.
func (u *Universe) Sectors() []SectorCount {
	counts := make(map[string]int)
	for _, s := range u.symbols {
		sector := s.Sector
		if sector == "" {
			sector = "Unknown"
		}
		counts[sector]++
	}
	out := make([]SectorCount, 0, len(counts))
	for sector, n := range counts {
		out = append(out, SectorCount{Sector: sector, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Sector < out[j].Sector
	})
	return out
}

// fallbackSymbols covers the major companies so a cycle can still run when
// the official database file is missing.
func fallbackSymbols() []Symbol {
	return []Symbol{
		{Code: "2222", Name: "Saudi Aramco", Sector: "Energy"},
		{Code: "1120", Name: "Al Rajhi Bank", Sector: "Banks"},
		{Code: "2380", Name: "SABIC", Sector: "Materials"},
		{Code: "1180", Name: "Gulf International Bank", Sector: "Banks"},
		{Code: "2010", Name: "SABB", Sector: "Banks"},
		{Code: "1150", Name: "Alinma Bank", Sector: "Banks"},
		{Code: "7010", Name: "STC", Sector: "Telecommunication Services"},
		{Code: "2280", Name: "Almarai", Sector: "Food & Beverages"},
		{Code: "1835", Name: "TAMKEEN", Sector: "Commercial & Professional Svc"},
		{Code: "2020", Name: "SABIC AGRI-NUTRIENTS", Sector: "Materials"},
		{Code: "1321", Name: "EAST PIPES", Sector: "Materials"},
		{Code: "1302", Name: "BAWAN", Sector: "Real Estate Mgmt & Dev"},
		{Code: "1214", Name: "SHAKER", Sector: "Materials"},
		{Code: "2320", Name: "ALBABTAIN", Sector: "Transportation"},
		{Code: "1210", Name: "BCI", Sector: "Materials"},
		{Code: "1211", Name: "MAADEN", Sector: "Materials"},
		{Code: "2040", Name: "SAUDI CERAMICS", Sector: "Materials"},
	}
}
