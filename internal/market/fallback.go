package market

import (
	"context"

	"tasi-market-movers/internal/universe"
)

// FallbackProvider tries each provider in order and returns the first quote
// that came back with data. All providers failing yields the last
// unavailable quote, so the coordinator still sees exactly one result per
// symbol.
type FallbackProvider struct {
	providers []QuoteProvider
}

func NewFallbackProvider(providers ...QuoteProvider) *FallbackProvider {
	return &FallbackProvider{providers: providers}
}

func (f *FallbackProvider) Name() string {
	return "fallback"
}

func (f *FallbackProvider) Fetch(ctx context.Context, sym universe.Symbol) Quote {
	if len(f.providers) == 0 {
		return UnavailableQuote(sym, "no quote providers configured")
	}
	var last Quote
	for _, p := range f.providers {
		q := p.Fetch(ctx, sym)
		if q.Status != StatusUnavailable {
			return q
		}
		last = q
		if ctx.Err() != nil {
			break
		}
	}
	return last
}
