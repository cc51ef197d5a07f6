package theory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ziggylab/internal/model"
)

func TestDefaultRegistry_RegistersFiveTheories(t *testing.T) {
	r := NewDefaultRegistry()
	ids := r.ListIDs()
	assert.Len(t, ids, 5)

	_, ok := r.Get("mean_revert")
	require.True(t, ok)
}

func TestEnableDisable(t *testing.T) {
	r := NewDefaultRegistry()
	require.True(t, r.Disable("breakout"))
	enabled := r.GetEnabled()
	for _, th := range enabled {
		assert.NotEqual(t, "breakout", th.ID())
	}
	require.True(t, r.Enable("breakout"))
}

func TestMeanReversion_OversoldGeneratesBuy(t *testing.T) {
	mr := NewMeanReversion()
	fs := model.FeatureSet{
		Symbol:         "AAPL",
		LastClose:      95,
		RSI:            model.Float(20),
		BollingerLower: model.Float(96),
		BollingerUpper: model.Float(110),
	}
	sigs := mr.GenerateSignals(fs)
	require.Len(t, sigs, 1)
	assert.Equal(t, model.Buy, sigs[0].Side)
	assert.InDelta(t, 1.0, sigs[0].Confidence, 0.001) // (30-20)/10 clamped to 1
}

func TestBreakout_NoSignalWhenSMAAbsent(t *testing.T) {
	b := NewBreakout()
	fs := model.FeatureSet{Symbol: "AAPL", LastClose: 101}
	assert.Empty(t, b.GenerateSignals(fs))
}
