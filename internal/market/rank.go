package market

import "sort"

const DefaultTopN = 10

// Rank derives the market-movers summary from one snapshot. It is a pure
// function of its input: identical snapshots produce identical summaries,
// whatever order the quotes arrived in.
//
// Gainers hold strictly positive change percentages, losers strictly
// negative ones. Equal sort keys fall back to ascending symbol code so the
// output is deterministic.
func Rank(snap Snapshot, topN int, universeSize int) MarketSummary {
	if topN <= 0 {
		topN = DefaultTopN
	}
	valid := snap.ValidQuotes()

	sum := MarketSummary{
		UniverseSize:      universeSize,
		ActiveSize:        len(valid),
		GeneratedAt:       snap.CompletedAt(),
		CycleID:           snap.CycleID,
		CorrectionVersion: snap.CorrectionVersion,
	}
	if universeSize <= 0 {
		sum.UniverseSize = snap.RequestedCount
	}

	gainers := make([]Quote, 0, len(valid))
	losers := make([]Quote, 0, len(valid))
	for _, q := range valid {
		switch {
		case q.ChangePct > 0:
			sum.Advancers++
			gainers = append(gainers, q)
		case q.ChangePct < 0:
			sum.Decliners++
			losers = append(losers, q)
		default:
			sum.Unchanged++
		}
		sum.TotalVolume += q.Volume
		sum.TotalValue += q.TradingValue
	}

	sortQuotes(gainers, func(a, b Quote) bool { return a.ChangePct > b.ChangePct })
	sortQuotes(losers, func(a, b Quote) bool { return a.ChangePct < b.ChangePct })

	byVolume := append([]Quote(nil), valid...)
	sortQuotes(byVolume, func(a, b Quote) bool { return a.Volume > b.Volume })

	byValue := append([]Quote(nil), valid...)
	sortQuotes(byValue, func(a, b Quote) bool { return a.TradingValue > b.TradingValue })

	sum.TopGainers = take(gainers, topN)
	sum.TopLosers = take(losers, topN)
	sum.VolumeLeaders = take(byVolume, topN)
	sum.ValueLeaders = take(byValue, topN)
	return sum
}

// sortQuotes orders by the given key with ascending symbol as tie-break.
func sortQuotes(qs []Quote, keyLess func(a, b Quote) bool) {
	sort.Slice(qs, func(i, j int) bool {
		a, b := qs[i], qs[j]
		if keyLess(a, b) {
			return true
		}
		if keyLess(b, a) {
			return false
		}
		return a.Symbol < b.Symbol
	})
}

func take(qs []Quote, n int) []Quote {
	if len(qs) > n {
		qs = qs[:n]
	}
	out := make([]Quote, len(qs))
	copy(out, qs)
	return out
}
