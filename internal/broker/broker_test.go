package broker

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ziggylab/internal/model"
)

type fixedPrices struct {
	price  float64
	spread float64
}

func (f fixedPrices) LastClose(symbol string) (float64, bool)     { return f.price, f.price > 0 }
func (f fixedPrices) SpreadEstimate(symbol string) (float64, bool) { return f.spread, true }

func newTestBroker(price, spread float64) *Broker {
	return NewBroker(Config{Rand: rand.New(rand.NewSource(1)), LimitFillProb: 1.0}, fixedPrices{price: price, spread: spread})
}

func TestSubmit_MarketBuyFillsNearReference(t *testing.T) {
	b := newTestBroker(100, 0.10)
	fill, err := b.Submit(model.Order{ID: "o1", Symbol: "AAPL", Side: model.Buy, Qty: 10, Type: model.OrderMarket}, "equity")
	require.NoError(t, err)
	assert.InDelta(t, 100, fill.AvgPrice, 1.0)
	assert.Greater(t, fill.Fees, 0.0)

	positions := b.Positions()
	require.Contains(t, positions, "AAPL")
	assert.Equal(t, 10.0, positions["AAPL"].Qty)
}

func TestSubmit_RejectsInvalidInputs(t *testing.T) {
	b := newTestBroker(100, 0.1)

	_, err := b.Submit(model.Order{ID: "o1", Symbol: "", Side: model.Buy, Qty: 1}, "equity")
	assert.ErrorIs(t, err, ErrInvalidSymbol)

	_, err = b.Submit(model.Order{ID: "o2", Symbol: "AAPL", Side: model.Buy, Qty: 0}, "equity")
	assert.ErrorIs(t, err, ErrInvalidQty)

	_, err = b.Submit(model.Order{ID: "o3", Symbol: "AAPL", Side: "SIDEWAYS", Qty: 1}, "equity")
	assert.ErrorIs(t, err, ErrInvalidSide)
}

func TestSubmit_OrderIDCollisionRejectedAndBookUnchanged(t *testing.T) {
	b := newTestBroker(100, 0.1)
	_, err := b.Submit(model.Order{ID: "dup", Symbol: "AAPL", Side: model.Buy, Qty: 5, Type: model.OrderMarket}, "equity")
	require.NoError(t, err)

	before := b.Positions()["AAPL"]
	_, err = b.Submit(model.Order{ID: "dup", Symbol: "AAPL", Side: model.Buy, Qty: 5, Type: model.OrderMarket}, "equity")
	assert.ErrorIs(t, err, ErrOrderIDCollision)
	assert.Equal(t, before, b.Positions()["AAPL"])
}

func TestApplyFill_RealizesPnLOnClose(t *testing.T) {
	b := newTestBroker(100, 0.0)
	_, err := b.Submit(model.Order{ID: "buy1", Symbol: "AAPL", Side: model.Buy, Qty: 10, Type: model.OrderMarket}, "equity")
	require.NoError(t, err)

	b2 := newTestBroker(110, 0.0)
	b2.positions["AAPL"] = model.Position{Symbol: "AAPL", Qty: 10, AvgPrice: 100}
	_, err = b2.Submit(model.Order{ID: "sell1", Symbol: "AAPL", Side: model.Sell, Qty: 10, Type: model.OrderMarket}, "equity")
	require.NoError(t, err)

	summary := b2.PerformanceSummary()
	assert.InDelta(t, 100, summary.RealizedPnL, 1.0) // (110-100)*10
	assert.Equal(t, 0, summary.NumPositions)
}

func TestPerformanceSummary_MarksOpenPositionsToMarket(t *testing.T) {
	b := newTestBroker(100, 0.0)
	_, err := b.Submit(model.Order{ID: "o1", Symbol: "AAPL", Side: model.Buy, Qty: 10, Type: model.OrderMarket}, "equity")
	require.NoError(t, err)

	summary := b.PerformanceSummary()
	assert.Equal(t, 1, summary.NumPositions)
	assert.InDelta(t, 0, summary.UnrealizedPnL, 1.0)
}

func TestSubmit_LimitRejectedWhenPriceNotReached(t *testing.T) {
	b := newTestBroker(100, 0.0)
	_, err := b.Submit(model.Order{ID: "o1", Symbol: "AAPL", Side: model.Buy, Qty: 10, Type: model.OrderLimit, LimitPrice: 90}, "equity")
	assert.ErrorIs(t, err, ErrLimitNotFillable)
}
