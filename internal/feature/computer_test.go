package feature

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ziggylab/internal/model"
)

func barsAt(symbol string, closes []float64, start time.Time) []model.PriceBar {
	bars := make([]model.PriceBar, len(closes))
	for i, c := range closes {
		bars[i] = model.PriceBar{
			Symbol:    symbol,
			Timestamp: start.Add(time.Duration(i) * time.Minute),
			Open:      c,
			High:      c + 0.5,
			Low:       c - 0.5,
			Close:     c,
			Volume:    100,
		}
	}
	return bars
}

func TestComputeFeatures_AbsentBelowLookback(t *testing.T) {
	c := NewComputer(200)
	for _, b := range barsAt("AAPL", []float64{100, 101, 102}, time.Now()) {
		c.AddBar(b)
	}
	fs, ok := c.ComputeFeatures("AAPL")
	require.True(t, ok)
	assert.Nil(t, fs.SMA5, "SMA5 should be absent under 5 bars, not zero")
	assert.Nil(t, fs.SMA20)
	assert.Equal(t, 102.0, fs.LastClose)
}

func TestComputeFeatures_Deterministic(t *testing.T) {
	c := NewComputer(200)
	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = 100 + float64(i%7)
	}
	for _, b := range barsAt("MSFT", closes, time.Now()) {
		c.AddBar(b)
	}
	fs1, _ := c.ComputeFeatures("MSFT")
	fs2, _ := c.ComputeFeatures("MSFT")
	assert.Equal(t, fs1, fs2, "repeated calls over a fixed window must be identical")
}

func TestRSI_FlatInputSaturatesTo50(t *testing.T) {
	closes := make([]float64, 20)
	for i := range closes {
		closes[i] = 100
	}
	v := rsi(closes, 14)
	require.NotNil(t, v)
	assert.Equal(t, 50.0, *v)
}

func TestWindowEviction(t *testing.T) {
	c := NewComputer(5)
	for i := 0; i < 10; i++ {
		c.AddBar(model.PriceBar{Symbol: "X", Timestamp: time.Now().Add(time.Duration(i) * time.Minute), Close: float64(i)})
	}
	bars := c.Bars("X")
	require.Len(t, bars, 5)
	assert.Equal(t, 5.0, bars[0].Close)
	assert.Equal(t, 9.0, bars[len(bars)-1].Close)
}
