package feed

import (
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// Synthetic is a deterministic-when-seeded random-walk feed for local
// runs and tests where no live market connection is wanted.
type Synthetic struct {
	mu     sync.Mutex
	rng    *rand.Rand
	prices map[string]float64
	start  float64
	vol    float64
}

// NewSynthetic builds a synthetic feed seeding every symbol at
// startPrice, walking with the given per-tick volatility (a fraction of
// price, e.g. 0.001 for 10bps).
func NewSynthetic(seed int64, startPrice, volatility float64) *Synthetic {
	if startPrice <= 0 {
		startPrice = 100
	}
	if volatility <= 0 {
		volatility = 0.001
	}
	return &Synthetic{
		rng:    rand.New(rand.NewSource(seed)),
		prices: make(map[string]float64),
		start:  startPrice,
		vol:    volatility,
	}
}

func (s *Synthetic) priceLocked(symbol string, startPrice float64) float64 {
	p, ok := s.prices[symbol]
	if !ok {
		p = startPrice
		s.prices[symbol] = p
	}
	return p
}

// Tick advances every known symbol's price by one random step. Callers
// drive the clock explicitly rather than the feed running its own
// goroutine, matching the rest of the codebase's no-hidden-goroutines
// construction style.
func (s *Synthetic) Tick() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for symbol, p := range s.prices {
		step := 1 + s.vol*(2*s.rng.Float64()-1)
		s.prices[symbol] = p * step
	}
}

// Seed registers a symbol with an explicit starting price, useful for
// tests that want deterministic quotes without relying on the default.
func (s *Synthetic) Seed(symbol string, price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[symbol] = price
}

func (s *Synthetic) LastQuote(symbol string) (Quote, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.priceLocked(symbol, s.start)
	spread := p * 0.0005
	return Quote{
		Symbol:    symbol,
		Price:     p,
		BidPrice:  p - spread/2,
		AskPrice:  p + spread/2,
		Volume:    1000,
		Timestamp: time.Now(),
	}, true
}

// Bars synthesizes limit bars by walking backward from the current
// price; it exists so components that need historical context (the
// feature pipeline's rolling window) have something to compute against
// without a live connection.
func (s *Synthetic) Bars(symbol string, limit int) ([]Bar, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("feed: limit must be positive")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.priceLocked(symbol, s.start)

	bars := make([]Bar, limit)
	price := p
	now := time.Now()
	for i := limit - 1; i >= 0; i-- {
		step := 1 + s.vol*(2*s.rng.Float64()-1)
		price /= step
		bars[i] = Bar{
			Timestamp: now.Add(-time.Duration(limit-i) * time.Minute),
			Open:      price,
			High:      price * 1.001,
			Low:       price * 0.999,
			Close:     price,
			Volume:    1000,
		}
	}
	return bars, nil
}
