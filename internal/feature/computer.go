// Package feature implements the rolling-window feature computer (C3,
// first half). The mutex-protected per-symbol slice and incremental
// accumulation style is grounded on the teacher's
// trader.VWAPCollector (bars []VWAPBar guarded by sync.RWMutex); the
// indicator formulas themselves are grounded on the Python source's
// app/paper/features.py.
package feature

import (
	"math"
	"sort"
	"sync"
	"time"

	"ziggylab/internal/model"
)

const defaultWindow = 200

// emaKey identifies one cached EMA accumulator.
type emaKey struct {
	symbol string
	period int
}

// emaEntry is one cached EMA value and the timestamp of the last bar it
// covers.
type emaEntry struct {
	value float64
	asOf  time.Time
}

// Computer maintains a per-symbol rolling window of price bars and derives
// deterministic features from it. It is constructed explicitly by the
// caller (no package-level singleton, per the design note) and is safe for
// concurrent use.
type Computer struct {
	mu       sync.RWMutex
	window   int
	bars     map[string][]model.PriceBar
	emaCache map[emaKey]emaEntry

	// dayOpen/vwap bookkeeping, folded in from VWAPCollector.
	dayOpen map[string]float64
}

// NewComputer builds a Computer with the given per-symbol window capacity
// (0 selects the spec default of 200).
func NewComputer(window int) *Computer {
	if window <= 0 {
		window = defaultWindow
	}
	return &Computer{
		window:   window,
		bars:     make(map[string][]model.PriceBar),
		emaCache: make(map[emaKey]emaEntry),
		dayOpen:  make(map[string]float64),
	}
}

// AddBar appends a price bar for its symbol, evicting the oldest bar once
// the window capacity is exceeded. Bars are assumed to arrive in ascending
// timestamp order per symbol, per the spec's data-model invariant.
func (c *Computer) AddBar(bar model.PriceBar) {
	c.mu.Lock()
	defer c.mu.Unlock()

	bars := c.bars[bar.Symbol]
	if len(bars) == 0 {
		c.dayOpen[bar.Symbol] = bar.Open
	}
	bars = append(bars, bar)
	if len(bars) > c.window {
		bars = bars[len(bars)-c.window:]
	}
	c.bars[bar.Symbol] = bars
}

// Bars returns a read-only copy of the current window for symbol.
func (c *Computer) Bars(symbol string) []model.PriceBar {
	c.mu.RLock()
	defer c.mu.RUnlock()
	src := c.bars[symbol]
	out := make([]model.PriceBar, len(src))
	copy(out, src)
	return out
}

// ComputeFeatures derives the full feature set for symbol from its current
// window, or returns (FeatureSet{}, false) if no bars are held yet. This is
// the package's only method with a side effect (the EMA cache); everything
// else is a pure function of the window snapshot, matching the spec's
// feature-determinism testable property.
func (c *Computer) ComputeFeatures(symbol string) (model.FeatureSet, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	bars := c.bars[symbol]
	if len(bars) == 0 {
		return model.FeatureSet{}, false
	}

	last := bars[len(bars)-1]
	fs := model.FeatureSet{
		Symbol:    symbol,
		Timestamp: last.Timestamp,
		LastClose: last.Close,
		Volume:    last.Volume,
	}

	closes := closesOf(bars)

	fs.SMA5 = sma(closes, 5)
	fs.SMA20 = sma(closes, 20)
	fs.SMA50 = sma(closes, 50)

	fs.EMA12 = c.ema(symbol, 12, closes, last.Timestamp)
	fs.EMA26 = c.ema(symbol, 26, closes, last.Timestamp)

	fs.RSI = rsi(closes, 14)

	if upper, lower, ok := bollinger(closes, 20, 2.0); ok {
		fs.BollingerUpper = &upper
		fs.BollingerLower = &lower
	}

	fs.ATR = atr(bars, 14)

	if k, d, ok := stochastic(bars, 14); ok {
		fs.StochasticK = &k
		fs.StochasticD = &d
	}

	fs.VolatilityRegime = classifyVolatilityRegime(closes)
	fs.TrendRegime = classifyTrendRegime(fs.SMA5, fs.SMA20, fs.SMA50, last.Close)

	if spread := estimateBidAskSpread(last); spread != nil {
		fs.BidAskSpreadEst = spread
	}
	fs.OrderFlowImbalance = estimateOrderFlowImbalance(bars)

	if vwap, slope, ok := vwapAndSlope(bars); ok {
		fs.VWAP = &vwap
		fs.VWAPSlope = &slope
	}

	return fs, true
}

func closesOf(bars []model.PriceBar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

// sma returns the simple moving average over the last `period` closes, or
// nil if the window is shorter than period — the spec's explicit
// absent-not-zero policy, diverging from features.py's 0.0 default.
func sma(closes []float64, period int) *float64 {
	if len(closes) < period {
		return nil
	}
	window := closes[len(closes)-period:]
	sum := 0.0
	for _, v := range window {
		sum += v
	}
	avg := sum / float64(period)
	return &avg
}

// ema implements the incremental-cache EMA: a cache miss recomputes the
// full warm-up SMA-seeded EMA over the whole window; a cache hit for a
// newer last bar applies a single incremental step, mirroring features.py's
// _compute_ema. A repeat call for the same last bar returns the cached
// value unchanged.
func (c *Computer) ema(symbol string, period int, closes []float64, asOf time.Time) *float64 {
	if len(closes) < period {
		return nil
	}
	key := emaKey{symbol: symbol, period: period}
	alpha := 2.0 / (float64(period) + 1.0)

	if cached, ok := c.emaCache[key]; ok {
		if cached.asOf.Equal(asOf) {
			v := cached.value
			return &v
		}
		v := alpha*closes[len(closes)-1] + (1-alpha)*cached.value
		c.emaCache[key] = emaEntry{value: v, asOf: asOf}
		return &v
	}

	// Warm up: seed with the SMA of the first `period` closes then roll
	// forward through the rest.
	seed := 0.0
	for _, v := range closes[:period] {
		seed += v
	}
	ema := seed / float64(period)
	for _, v := range closes[period:] {
		ema = alpha*v + (1-alpha)*ema
	}
	c.emaCache[key] = emaEntry{value: ema, asOf: asOf}
	return &ema
}

// rsi computes the simple (non-Wilder) average-gain/average-loss RSI.
// Saturates to 50 on a truly flat window, per the spec's explicit
// requirement — diverging from features.py, which returns 100 when
// avg_loss==0 regardless of avg_gain.
func rsi(closes []float64, period int) *float64 {
	if len(closes) < period+1 {
		return nil
	}
	window := closes[len(closes)-period-1:]
	var gainSum, lossSum float64
	for i := 1; i < len(window); i++ {
		delta := window[i] - window[i-1]
		if delta > 0 {
			gainSum += delta
		} else {
			lossSum += -delta
		}
	}
	avgGain := gainSum / float64(period)
	avgLoss := lossSum / float64(period)

	if avgGain == 0 && avgLoss == 0 {
		v := 50.0
		return &v
	}
	if avgLoss == 0 {
		v := 100.0
		return &v
	}
	rs := avgGain / avgLoss
	v := 100 - (100 / (1 + rs))
	return &v
}

// bollinger returns the upper/lower bands at `mult` population-stddev
// around the SMA(period).
func bollinger(closes []float64, period int, mult float64) (upper, lower float64, ok bool) {
	m := sma(closes, period)
	if m == nil {
		return 0, 0, false
	}
	window := closes[len(closes)-period:]
	sd := populationStdDev(window, *m)
	return *m + mult*sd, *m - mult*sd, true
}

func populationStdDev(values []float64, mean float64) float64 {
	var sumSq float64
	for _, v := range values {
		d := v - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(values)))
}

// atr returns the simple mean (not Wilder-smoothed) true range over the
// last `period` bars.
func atr(bars []model.PriceBar, period int) *float64 {
	if len(bars) < period+1 {
		return nil
	}
	window := bars[len(bars)-period-1:]
	var sum float64
	for i := 1; i < len(window); i++ {
		cur, prev := window[i], window[i-1]
		tr := math.Max(cur.High-cur.Low, math.Max(math.Abs(cur.High-prev.Close), math.Abs(cur.Low-prev.Close)))
		sum += tr
	}
	v := sum / float64(period)
	return &v
}

// stochastic returns a simplified %K/%D (D == K, not smoothed), matching
// the source's simplification.
func stochastic(bars []model.PriceBar, period int) (k, d float64, ok bool) {
	if len(bars) < period {
		return 0, 0, false
	}
	window := bars[len(bars)-period:]
	hi, lo := window[0].High, window[0].Low
	for _, b := range window {
		if b.High > hi {
			hi = b.High
		}
		if b.Low < lo {
			lo = b.Low
		}
	}
	last := window[len(window)-1].Close
	if hi == lo {
		return 50, 50, true
	}
	k = (last - lo) / (hi - lo) * 100
	return k, k, true
}

// classifyVolatilityRegime uses annualized stddev of the last 20 simple
// returns against the spec's exact bands.
func classifyVolatilityRegime(closes []float64) string {
	if len(closes) < 21 {
		return ""
	}
	window := closes[len(closes)-21:]
	returns := make([]float64, 0, 20)
	for i := 1; i < len(window); i++ {
		returns = append(returns, (window[i]-window[i-1])/window[i-1])
	}
	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	sd := populationStdDev(returns, mean)
	annualized := sd * math.Sqrt(252)

	switch {
	case annualized < 0.15:
		return model.VolLow
	case annualized < 0.30:
		return model.VolNormal
	default:
		return model.VolHigh
	}
}

// classifyTrendRegime mirrors features.py's elif fallthrough exactly: SMA
// ordering plus price position relative to SMA20 determine the tag.
func classifyTrendRegime(sma5, sma20, sma50 *float64, lastClose float64) string {
	if sma5 == nil || sma20 == nil || sma50 == nil {
		return ""
	}
	switch {
	case *sma5 > *sma20 && *sma20 > *sma50 && lastClose > *sma5:
		return model.TrendUp
	case *sma5 < *sma20 && *sma20 < *sma50 && lastClose < *sma5:
		return model.TrendDown
	default:
		return model.TrendSideways
	}
}

// estimateBidAskSpread derives a spread estimate from the last bar's
// high-low range, reported as a feature. The broker's slippage model does
// not read it; the broker takes its spread from its own
// ReferencePriceSource.
func estimateBidAskSpread(last model.PriceBar) *float64 {
	if last.Close == 0 {
		return nil
	}
	v := (last.High - last.Low) / last.Close
	return &v
}

func estimateOrderFlowImbalance(bars []model.PriceBar) *float64 {
	if len(bars) < 2 {
		return nil
	}
	last := bars[len(bars)-1]
	prev := bars[len(bars)-2]
	if last.Volume+prev.Volume == 0 {
		return nil
	}
	dir := 0.0
	if last.Close > prev.Close {
		dir = 1
	} else if last.Close < prev.Close {
		dir = -1
	}
	v := dir * last.Volume / (last.Volume + prev.Volume)
	return &v
}

// vwapAndSlope folds in VWAPCollector.CalculateVWAP/CalculateSlope from the
// teacher as additional derived fields.
func vwapAndSlope(bars []model.PriceBar) (vwap, slope float64, ok bool) {
	if len(bars) == 0 {
		return 0, 0, false
	}
	var sumTPV, sumVol float64
	for _, b := range bars {
		tp := (b.High + b.Low + b.Close) / 3
		sumTPV += tp * b.Volume
		sumVol += b.Volume
	}
	if sumVol == 0 {
		return 0, 0, false
	}
	vwap = sumTPV / sumVol

	if len(bars) < 10 {
		return vwap, 0, true
	}
	first10 := bars[:10]
	var sumTPV10, sumVol10 float64
	for _, b := range first10 {
		tp := (b.High + b.Low + b.Close) / 3
		sumTPV10 += tp * b.Volume
		sumVol10 += b.Volume
	}
	if sumVol10 == 0 {
		return vwap, 0, true
	}
	vwap10 := sumTPV10 / sumVol10
	if vwap10 == 0 {
		return vwap, 0, true
	}
	slope = (vwap - vwap10) / vwap10 * 100
	return vwap, slope, true
}

// LastClose returns the most recent close for symbol, satisfying the
// broker's ReferencePriceSource interface.
func (c *Computer) LastClose(symbol string) (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	bars := c.bars[symbol]
	if len(bars) == 0 {
		return 0, false
	}
	return bars[len(bars)-1].Close, true
}

// SpreadEstimate returns the bid-ask spread estimate (as an absolute
// price, not bps) for symbol, satisfying the broker's
// ReferencePriceSource interface.
func (c *Computer) SpreadEstimate(symbol string) (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	bars := c.bars[symbol]
	if len(bars) == 0 {
		return 0, false
	}
	last := bars[len(bars)-1]
	if last.Close == 0 {
		return 0, false
	}
	return last.High - last.Low, true
}

// SortedTimestamps is a small test/debug helper confirming bars are held
// in ascending order.
func SortedTimestamps(bars []model.PriceBar) bool {
	return sort.SliceIsSorted(bars, func(i, j int) bool {
		return bars[i].Timestamp.Before(bars[j].Timestamp)
	})
}
