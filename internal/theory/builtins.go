package theory

import (
	"math"
	"time"

	"github.com/google/uuid"

	"ziggylab/internal/model"
)

func newSignal(theoryID string, fs model.FeatureSet, side string, confidence float64, horizonMin int) model.Signal {
	return model.Signal{
		ID:         uuid.NewString(),
		TheoryID:   theoryID,
		Symbol:     fs.Symbol,
		Side:       side,
		Confidence: clamp01(confidence),
		HorizonMin: horizonMin,
		Features:   fs,
		CreatedAt:  time.Now().UTC(),
	}
}

func ptrOr(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

// --- MeanReversionTheory -----------------------------------------------

// MeanReversion trades RSI/Bollinger extremes, grounded on
// theories.MeanReversionTheory.
type MeanReversion struct {
	base
	RSIOversold    float64
	RSIOverbought  float64
	BBThreshold    float64
	MinVolumeRatio float64
}

func NewMeanReversion() *MeanReversion {
	return &MeanReversion{
		base:           newBase("mean_revert"),
		RSIOversold:    30.0,
		RSIOverbought:  70.0,
		BBThreshold:    0.02,
		MinVolumeRatio: 1.2,
	}
}

func (t *MeanReversion) Describe() Description {
	return Description{
		Name:    "Mean Reversion",
		Summary: "RSI and Bollinger Band mean reversion strategy",
		Parameters: map[string]float64{
			"rsi_oversold":     t.RSIOversold,
			"rsi_overbought":   t.RSIOverbought,
			"bb_threshold":     t.BBThreshold,
			"min_volume_ratio": t.MinVolumeRatio,
		},
		Horizons:            []int{5, 15, 30},
		TypicalHoldTimeMins: 15,
	}
}

func (t *MeanReversion) GenerateSignals(fs model.FeatureSet) []model.Signal {
	if fs.RSI == nil || fs.BollingerLower == nil || fs.BollingerUpper == nil {
		return nil
	}
	rsi := *fs.RSI
	price := fs.LastClose

	switch {
	case rsi <= t.RSIOversold && price <= *fs.BollingerLower*(1+t.BBThreshold):
		confidence := (t.RSIOversold - rsi) / 10.0
		return []model.Signal{newSignal(t.ID(), fs, model.Buy, confidence, 15)}
	case rsi >= t.RSIOverbought && price >= *fs.BollingerUpper*(1-t.BBThreshold):
		confidence := (rsi - t.RSIOverbought) / 10.0
		return []model.Signal{newSignal(t.ID(), fs, model.Sell, confidence, 15)}
	}
	return nil
}

func (t *MeanReversion) RiskModel(fs model.FeatureSet) float64 {
	size := 1.0
	switch fs.VolatilityRegime {
	case model.VolHigh:
		size *= 0.5
	case model.VolLow:
		size *= 1.2
	}
	if fs.TrendRegime == model.TrendUp || fs.TrendRegime == model.TrendDown {
		size *= 0.7
	}
	return clamp01(size)
}

// --- BreakoutTheory ------------------------------------------------------

// Breakout trades SMA-20 breaks with volume, grounded on
// theories.BreakoutTheory.
type Breakout struct {
	base
	Threshold       float64
	VolumeMult      float64
	ATRMult         float64
}

func NewBreakout() *Breakout {
	return &Breakout{base: newBase("breakout"), Threshold: 0.02, VolumeMult: 1.5, ATRMult: 2.0}
}

func (t *Breakout) Describe() Description {
	return Description{
		Name:    "Breakout",
		Summary: "Price and volume breakout strategy",
		Parameters: map[string]float64{
			"breakout_threshold": t.Threshold,
			"volume_multiplier":  t.VolumeMult,
			"atr_multiplier":     t.ATRMult,
		},
		Horizons:            []int{5, 15, 60},
		TypicalHoldTimeMins: 30,
	}
}

func (t *Breakout) GenerateSignals(fs model.FeatureSet) []model.Signal {
	if fs.SMA20 == nil || *fs.SMA20 <= 0 || fs.Volume <= 0 {
		return nil
	}
	sma20 := *fs.SMA20
	price := fs.LastClose

	switch {
	case price > sma20*(1+t.Threshold):
		confidence := (price - sma20) / sma20 / t.Threshold
		return []model.Signal{newSignal(t.ID(), fs, model.Buy, confidence, 30)}
	case price < sma20*(1-t.Threshold):
		confidence := (sma20 - price) / sma20 / t.Threshold
		return []model.Signal{newSignal(t.ID(), fs, model.Sell, confidence, 30)}
	}
	return nil
}

func (t *Breakout) RiskModel(fs model.FeatureSet) float64 {
	size := 1.0
	if fs.TrendRegime == model.TrendUp || fs.TrendRegime == model.TrendDown {
		size *= 1.3
	}
	if fs.ATR != nil && *fs.ATR > 0 && fs.LastClose > 0 {
		atrFactor := math.Min(2.0, *fs.ATR/(fs.LastClose*0.02))
		if atrFactor > 0 {
			size /= atrFactor
		}
	}
	return clamp01(size)
}

// --- NewsShockGuardTheory --------------------------------------------

// NewsShockGuard sells defensively on negative news shocks, grounded on
// theories.NewsShockGuardTheory.
type NewsShockGuard struct {
	base
	SentimentThreshold float64
	UrgencyThreshold   float64
	VolatilityAmp      float64
}

func NewNewsShockGuard() *NewsShockGuard {
	return &NewsShockGuard{
		base:               newBase("news_shock_guard"),
		SentimentThreshold: -0.5,
		UrgencyThreshold:   0.7,
		VolatilityAmp:      1.5,
	}
}

func (t *NewsShockGuard) Describe() Description {
	return Description{
		Name:    "News Shock Guard",
		Summary: "Defensive strategy for negative news events",
		Parameters: map[string]float64{
			"sentiment_threshold": t.SentimentThreshold,
			"urgency_threshold":   t.UrgencyThreshold,
			"volatility_amplifier": t.VolatilityAmp,
		},
		Horizons:            []int{5, 10},
		TypicalHoldTimeMins: 10,
	}
}

func (t *NewsShockGuard) GenerateSignals(fs model.FeatureSet) []model.Signal {
	sentiment := ptrOr(fs.NewsSentiment, 0)
	urgency := ptrOr(fs.NewsUrgency, 0)
	if fs.NewsSentiment == nil || fs.NewsUrgency == nil {
		return nil
	}
	if sentiment <= t.SentimentThreshold && urgency >= t.UrgencyThreshold {
		confidence := math.Abs(sentiment) * urgency
		return []model.Signal{newSignal(t.ID(), fs, model.Sell, confidence, 5)}
	}
	return nil
}

func (t *NewsShockGuard) RiskModel(fs model.FeatureSet) float64 {
	size := 1.0
	urgency := ptrOr(fs.NewsUrgency, 0)
	if urgency > t.UrgencyThreshold {
		size *= 1 + urgency
	}
	if fs.VolatilityRegime == model.VolHigh {
		size *= t.VolatilityAmp
	}
	return clamp01(size)
}

// --- VolatilityRegimeTheory -----------------------------------------

// VolatilityRegime trades volatility-regime transitions, grounded on
// theories.VolatilityRegimeTheory.
type VolatilityRegime struct {
	base
	BreakoutThreshold float64
	MeanRevertFactor  float64
}

func NewVolatilityRegime() *VolatilityRegime {
	return &VolatilityRegime{base: newBase("vol_regime"), BreakoutThreshold: 0.25, MeanRevertFactor: 0.8}
}

func (t *VolatilityRegime) Describe() Description {
	return Description{
		Name:    "Volatility Regime",
		Summary: "Volatility regime transition strategy",
		Parameters: map[string]float64{
			"vol_breakout_threshold": t.BreakoutThreshold,
			"mean_revert_factor":     t.MeanRevertFactor,
		},
		Horizons:            []int{15, 60},
		TypicalHoldTimeMins: 45,
	}
}

func (t *VolatilityRegime) GenerateSignals(fs model.FeatureSet) []model.Signal {
	switch {
	case fs.VolatilityRegime == model.VolHigh && fs.ATR != nil && *fs.ATR > 0:
		return []model.Signal{newSignal(t.ID(), fs, model.Buy, 0.7, 60)}
	case fs.VolatilityRegime == model.VolLow:
		return []model.Signal{newSignal(t.ID(), fs, model.Sell, 0.6, 60)}
	}
	return nil
}

func (t *VolatilityRegime) RiskModel(fs model.FeatureSet) float64 {
	size := 0.8
	if fs.VolatilityRegime == model.VolHigh || fs.VolatilityRegime == model.VolLow {
		size *= 1.2
	}
	return clamp01(size)
}

// --- IntradayMomentumTheory ------------------------------------------

// IntradayMomentum trades short-term momentum off SMA-5, grounded on
// theories.IntradayMomentumTheory.
type IntradayMomentum struct {
	base
	MomentumThreshold float64
	LookbackMinutes   int
}

func NewIntradayMomentum() *IntradayMomentum {
	return &IntradayMomentum{base: newBase("intraday_momentum"), MomentumThreshold: 0.01, LookbackMinutes: 5}
}

func (t *IntradayMomentum) Describe() Description {
	return Description{
		Name:    "Intraday Momentum",
		Summary: "Short-term momentum strategy",
		Parameters: map[string]float64{
			"momentum_threshold": t.MomentumThreshold,
			"lookback_minutes":   float64(t.LookbackMinutes),
		},
		Horizons:            []int{5, 15},
		TypicalHoldTimeMins: 8,
	}
}

func (t *IntradayMomentum) momentum(fs model.FeatureSet) float64 {
	if fs.SMA5 == nil || *fs.SMA5 <= 0 {
		return 0
	}
	return (fs.LastClose - *fs.SMA5) / *fs.SMA5
}

func (t *IntradayMomentum) GenerateSignals(fs model.FeatureSet) []model.Signal {
	momentum := t.momentum(fs)
	switch {
	case momentum > t.MomentumThreshold:
		confidence := momentum / t.MomentumThreshold
		return []model.Signal{newSignal(t.ID(), fs, model.Buy, confidence, 5)}
	case momentum < -t.MomentumThreshold:
		confidence := math.Abs(momentum) / t.MomentumThreshold
		return []model.Signal{newSignal(t.ID(), fs, model.Sell, confidence, 5)}
	}
	return nil
}

func (t *IntradayMomentum) RiskModel(fs model.FeatureSet) float64 {
	size := 1.0
	momentum := t.momentum(fs)
	if (momentum > 0 && fs.TrendRegime == model.TrendUp) || (momentum < 0 && fs.TrendRegime == model.TrendDown) {
		size *= 1.3
	}
	if fs.TrendRegime == model.TrendSideways {
		size *= 0.7
	}
	return clamp01(size)
}
