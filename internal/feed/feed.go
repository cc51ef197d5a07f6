// Package feed defines the single documented price-feed interface the
// broker and feature pipeline consume, replacing the teacher's duck-typed
// provider functions (provider/data_provider.go's package-level
// Get*/Fetch* functions called directly by name) with one small surface
// two implementations satisfy: a synthetic feed for local runs/tests and
// an Alpaca-backed one for live paper trading against real quotes.
package feed

import "time"

// Quote is one point-in-time price observation for a symbol.
type Quote struct {
	Symbol    string
	Price     float64
	BidPrice  float64
	AskPrice  float64
	Volume    float64
	Timestamp time.Time
}

// PriceFeed is the interface broker.ReferencePriceSource and the feature
// pipeline are built against. Implementations must be safe for
// concurrent use.
type PriceFeed interface {
	// LastQuote returns the most recent observation for symbol.
	LastQuote(symbol string) (Quote, bool)
	// Bars returns up to limit recent bars for symbol, oldest first.
	Bars(symbol string, limit int) ([]Bar, error)
}

// Bar is one OHLCV bar, the shape historical.go's Alpaca bar decoder
// produces.
type Bar struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// LastClose and SpreadEstimate adapt any PriceFeed to
// broker.ReferencePriceSource without the broker package needing to know
// about Quote or Bar.
type ReferenceAdapter struct {
	Feed PriceFeed
}

func (a ReferenceAdapter) LastClose(symbol string) (float64, bool) {
	q, ok := a.Feed.LastQuote(symbol)
	if !ok {
		return 0, false
	}
	return q.Price, true
}

func (a ReferenceAdapter) SpreadEstimate(symbol string) (float64, bool) {
	q, ok := a.Feed.LastQuote(symbol)
	if !ok || q.BidPrice == 0 || q.AskPrice == 0 {
		return 0, false
	}
	return q.AskPrice - q.BidPrice, true
}
