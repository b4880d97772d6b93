package market

// Validate labels a fetched quote and recomputes its derived fields. It
// always returns a quote: bad data becomes StatusInvalid, never an error.
//
// Change and change percent are recomputed from price and previous close
// rather than trusted from upstream, so sign(change) == sign(change_pct)
// holds by construction for every valid quote.
func Validate(raw Quote) Quote {
	q := raw
	if q.Status == StatusUnavailable {
		return q
	}
	if q.Volume < 0 {
		q.Volume = 0
	}
	if q.Price <= 0 {
		return invalidate(q, "non-positive price")
	}
	if q.PrevClose <= 0 {
		return invalidate(q, "non-positive previous close")
	}
	q.Change = q.Price - q.PrevClose
	q.ChangePct = q.Change / q.PrevClose * 100
	q.TradingValue = q.Price * float64(q.Volume)
	q.Status = StatusValid
	return q
}

func invalidate(q Quote, reason string) Quote {
	q.Status = StatusInvalid
	if q.Err == "" {
		q.Err = reason
	}
	q.Change = 0
	q.ChangePct = 0
	q.TradingValue = 0
	return q
}

// ValidateSnapshot runs Validate over every quote and recounts the invalid
// total. The input snapshot is left untouched.
func ValidateSnapshot(snap Snapshot) Snapshot {
	out := snap
	quotes := make([]Quote, len(snap.Quotes))
	invalid := 0
	for i, q := range snap.Quotes {
		v := Validate(q)
		if v.Status == StatusInvalid {
			invalid++
		}
		quotes[i] = v
	}
	out.Quotes = quotes
	out.InvalidCount = invalid
	return out
}
