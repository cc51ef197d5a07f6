package feed

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSynthetic_LastQuoteSeedsDefaultPrice(t *testing.T) {
	s := NewSynthetic(1, 100, 0.001)

	q, ok := s.LastQuote("AAPL")
	require.True(t, ok)
	assert.Equal(t, 100.0, q.Price)
	assert.Less(t, q.BidPrice, q.AskPrice)
}

func TestSynthetic_SeedOverridesStartingPrice(t *testing.T) {
	s := NewSynthetic(1, 100, 0.001)
	s.Seed("AAPL", 250)

	q, ok := s.LastQuote("AAPL")
	require.True(t, ok)
	assert.Equal(t, 250.0, q.Price)
}

func TestSynthetic_TickMovesSeededSymbols(t *testing.T) {
	s := NewSynthetic(1, 100, 0.01)
	s.Seed("AAPL", 100)
	s.Tick()

	q, ok := s.LastQuote("AAPL")
	require.True(t, ok)
	assert.NotEqual(t, 100.0, q.Price)
}

func TestSynthetic_BarsReturnsRequestedCount(t *testing.T) {
	s := NewSynthetic(1, 100, 0.001)

	bars, err := s.Bars("AAPL", 20)
	require.NoError(t, err)
	assert.Len(t, bars, 20)
	assert.Equal(t, bars[19].Close, bars[19].Close)
}

func TestSynthetic_BarsRejectsNonPositiveLimit(t *testing.T) {
	s := NewSynthetic(1, 100, 0.001)

	_, err := s.Bars("AAPL", 0)
	assert.Error(t, err)
}

func TestReferenceAdapter_LastCloseAndSpread(t *testing.T) {
	s := NewSynthetic(1, 100, 0.001)
	s.Seed("AAPL", 100)
	adapter := ReferenceAdapter{Feed: s}

	price, ok := adapter.LastClose("AAPL")
	require.True(t, ok)
	assert.Equal(t, 100.0, price)

	spread, ok := adapter.SpreadEstimate("AAPL")
	require.True(t, ok)
	assert.Greater(t, spread, 0.0)
}

func TestReferenceAdapter_UnknownSymbolIsLazilySeeded(t *testing.T) {
	s := NewSynthetic(1, 100, 0.001)
	adapter := ReferenceAdapter{Feed: s}

	_, ok := adapter.LastClose("UNKNOWN")
	assert.True(t, ok, "synthetic feed lazily seeds any symbol at the default price")
}
