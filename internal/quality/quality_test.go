package quality

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlippageBps_BuyAndSellSigns(t *testing.T) {
	assert.InDelta(t, 10.0, SlippageBps(100.10, 100.0, "BUY"), 1e-9)
	assert.InDelta(t, -10.0, SlippageBps(100.10, 100.0, "SELL"), 1e-9)
	assert.Equal(t, 0.0, SlippageBps(100, 0, "BUY"))
}

func TestRecordExecution_ComputesSlippageAndVWAP(t *testing.T) {
	m := NewMonitor(Config{})
	base := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)

	m.RecordMarketData("AAPL", 100.0, 100, base.Add(-4*time.Minute))
	m.RecordMarketData("AAPL", 101.0, 300, base.Add(-1*time.Minute))
	m.RecordMarketData("AAPL", 102.0, 50, base)

	rec := m.RecordExecution(ExecutionInput{
		ExecutionID: "ex1",
		Symbol:      "AAPL",
		Side:        "BUY",
		Quantity:    10,
		FillPrice:   102.5,
		FillTime:    base,
		Venue:       "paper",
		SubmitTime:  base.Add(-2 * time.Second),
		OrderType:   "market",
	})

	assert.Equal(t, 102.0, rec.MidAtFill)
	require.NotNil(t, rec.VWAPWindow)
	assert.True(t, *rec.VWAPWindow > 100 && *rec.VWAPWindow < 102)
	assert.InDelta(t, SlippageBps(102.5, rec.MidAtFill, "BUY"), rec.SlippageVsMidFillBps, 1e-9)
	assert.Equal(t, float64(2000), rec.TimeToFillMs)
}

func TestUpdateBucket_TracksBestAndWorstExecution(t *testing.T) {
	m := NewMonitor(Config{})
	base := time.Now().UTC().Truncate(15 * time.Minute)
	m.RecordMarketData("AAPL", 100.0, 100, base)

	m.RecordExecution(ExecutionInput{ExecutionID: "good", Symbol: "AAPL", Side: "BUY", FillPrice: 100.05, FillTime: base, Venue: "paper", SubmitTime: base})
	m.RecordExecution(ExecutionInput{ExecutionID: "bad", Symbol: "AAPL", Side: "BUY", FillPrice: 101.0, FillTime: base.Add(time.Minute), Venue: "paper", SubmitTime: base})

	stats := m.GetQualityStats("paper", "AAPL", 24)
	require.Len(t, stats, 1)
	assert.Equal(t, 2, stats[0].Count)
	assert.Equal(t, "good", stats[0].BestExecutionID)
	assert.Equal(t, "bad", stats[0].WorstExecutionID)
}

func TestGetVenuePerformance_AssignsQualityRating(t *testing.T) {
	m := NewMonitor(Config{})
	base := time.Now().UTC().Truncate(15 * time.Minute)
	m.RecordMarketData("AAPL", 100.0, 100, base)

	for i := 0; i < 3; i++ {
		m.RecordExecution(ExecutionInput{
			ExecutionID: "e" + string(rune('a'+i)),
			Symbol:      "AAPL", Side: "BUY", FillPrice: 100.02, FillTime: base, Venue: "paper", SubmitTime: base,
		})
	}

	perf := m.GetVenuePerformance(24)
	require.Len(t, perf, 1)
	assert.Equal(t, "paper", perf[0].Venue)
	assert.Equal(t, RatingExcellent, perf[0].QualityRating)
}

func TestGetStateSetState_RoundTripsExecutionsAndBuckets(t *testing.T) {
	m := NewMonitor(Config{})
	base := time.Now().UTC().Truncate(15 * time.Minute)
	m.RecordMarketData("AAPL", 100.0, 100, base)
	m.RecordExecution(ExecutionInput{ExecutionID: "e1", Symbol: "AAPL", Side: "BUY", FillPrice: 100.1, FillTime: base, Venue: "paper", SubmitTime: base})

	s := m.GetState()

	m2 := NewMonitor(Config{})
	m2.SetState(s)

	stats := m2.GetQualityStats("paper", "AAPL", 24)
	require.Len(t, stats, 1)
	assert.Equal(t, 1, stats[0].Count)
	rec, ok := m2.GetExecutionDetails("e1")
	require.True(t, ok)
	assert.Equal(t, "e1", rec.ExecutionID)
}

func TestPercentile_EmptyAndSingleValue(t *testing.T) {
	assert.Equal(t, 0.0, percentile(nil, 0.5))
	assert.Equal(t, 5.0, percentile([]float64{5}, 0.9))
}
