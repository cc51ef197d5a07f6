// Package quality implements execution-quality tracking (C8's other
// half): per-fill slippage vs mid/VWAP, 15-minute bucket aggregation, and
// venue comparison. Grounded on
// original_source/backend/app/trading/quality.py's QualityMonitor.
package quality

import (
	"sort"
	"sync"
	"time"
)

// SlippageBps is the canonical signed slippage formula: positive means
// the fill moved against the order's side.
func SlippageBps(fillPrice, referencePrice float64, side string) float64 {
	if referencePrice <= 0 {
		return 0
	}
	if side == "SELL" {
		return 10000.0 * (referencePrice - fillPrice) / referencePrice
	}
	return 10000.0 * (fillPrice - referencePrice) / referencePrice
}

// MarketDataPoint is one price/volume observation used for mid and VWAP
// lookups.
type MarketDataPoint struct {
	Price     float64   `json:"price"`
	Volume    float64   `json:"volume"`
	Timestamp time.Time `json:"timestamp"`
}

// ExecutionInput is what the engine's submission task reports once a
// fill completes; MidAtSubmit/MidAtFill/VWAPWindow are derived from
// ingested market data, not supplied by the caller.
type ExecutionInput struct {
	ExecutionID string
	Symbol      string
	Side        string
	Quantity    float64
	FillPrice   float64
	FillTime    time.Time
	Venue       string
	SubmitTime  time.Time
	OrderType   string
	Commission  float64
}

// ExecutionRecord is the durable per-fill quality record.
type ExecutionRecord struct {
	ExecutionID string    `json:"execution_id"`
	Symbol      string    `json:"symbol"`
	Side        string    `json:"side"`
	Quantity    float64   `json:"quantity"`
	FillPrice   float64   `json:"fill_price"`
	FillTime    time.Time `json:"fill_time"`
	Venue       string    `json:"venue"`
	SubmitTime  time.Time `json:"submit_time"`
	OrderType   string    `json:"order_type"`
	Commission  float64   `json:"commission"`

	MidAtSubmit float64  `json:"mid_at_submit"`
	MidAtFill   float64  `json:"mid_at_fill"`
	VWAPWindow  *float64 `json:"vwap_window,omitempty"`

	SlippageVsMidSubmitBps float64  `json:"slippage_vs_mid_submit_bps"`
	SlippageVsMidFillBps   float64  `json:"slippage_vs_mid_fill_bps"`
	SlippageVsVWAPBps      *float64 `json:"slippage_vs_vwap_bps,omitempty"`
	MarketImpactBps        float64  `json:"market_impact_bps"`
	TimeToFillMs           float64  `json:"time_to_fill_ms"`
}

// BucketStats is the running aggregate for one (venue, symbol,
// bucket-start) key, updated incrementally as executions arrive.
type BucketStats struct {
	Venue       string    `json:"venue"`
	Symbol      string    `json:"symbol"`
	BucketStart time.Time `json:"bucket_start"`
	Count       int       `json:"count"`

	AvgSlippageVsMidBps  float64 `json:"avg_slippage_vs_mid_bps"`
	AvgSlippageVsVWAPBps float64 `json:"avg_slippage_vs_vwap_bps"`
	AvgMarketImpactBps   float64 `json:"avg_market_impact_bps"`

	BestExecutionID    string  `json:"best_execution_id,omitempty"`
	BestSlippageBps    float64 `json:"best_slippage_bps"`
	WorstExecutionID   string  `json:"worst_execution_id,omitempty"`
	WorstSlippageBps   float64 `json:"worst_slippage_bps"`

	slippages []float64
}

// QualityStats is one bucket's reporting shape with percentiles filled in.
type QualityStats struct {
	Venue                string    `json:"venue"`
	Symbol               string    `json:"symbol"`
	BucketStart          time.Time `json:"bucket_start"`
	Count                int       `json:"count"`
	AvgSlippageVsMidBps  float64   `json:"avg_slippage_vs_mid_bps"`
	AvgSlippageVsVWAPBps float64   `json:"avg_slippage_vs_vwap_bps"`
	AvgMarketImpactBps   float64   `json:"avg_market_impact_bps"`
	P50                  float64   `json:"p50"`
	P75                  float64   `json:"p75"`
	P90                  float64   `json:"p90"`
	P99                  float64   `json:"p99"`
	BestExecutionID      string    `json:"best_execution_id,omitempty"`
	WorstExecutionID     string    `json:"worst_execution_id,omitempty"`
}

// VenuePerformance is one venue's comparative rating over a lookback
// window.
type VenuePerformance struct {
	Venue              string  `json:"venue"`
	Count              int     `json:"count"`
	AvgSlippageBps     float64 `json:"avg_slippage_bps"`
	MedianSlippageBps  float64 `json:"median_slippage_bps"`
	P90SlippageBps     float64 `json:"p90_slippage_bps"`
	QualityRating      string  `json:"quality_rating"`
}

// Quality ratings, thresholded on average slippage magnitude in bps.
const (
	RatingExcellent = "excellent"
	RatingGood      = "good"
	RatingFair      = "fair"
	RatingPoor      = "poor"
)

// Config mirrors quality.py's module-level constants.
type Config struct {
	VWAPWindow     time.Duration
	Bucket         time.Duration
	Retention      time.Duration
	MaxExecutions  int
	GoodBps        float64
	WarnBps        float64
	PoorBps        float64
}

func defaultConfig(c Config) Config {
	if c.VWAPWindow == 0 {
		c.VWAPWindow = 300 * time.Second
	}
	if c.Bucket == 0 {
		c.Bucket = 15 * time.Minute
	}
	if c.Retention == 0 {
		c.Retention = 30 * 24 * time.Hour
	}
	if c.MaxExecutions == 0 {
		c.MaxExecutions = 1000
	}
	if c.GoodBps == 0 {
		c.GoodBps = 5
	}
	if c.WarnBps == 0 {
		c.WarnBps = 15
	}
	if c.PoorBps == 0 {
		c.PoorBps = 30
	}
	return c
}

// Monitor tracks market data and executions and aggregates them into
// quality buckets. Safe for concurrent use.
type Monitor struct {
	mu sync.Mutex
	cfg Config

	marketData map[string][]MarketDataPoint
	executions []ExecutionRecord
	buckets    map[bucketKey]*BucketStats
}

type bucketKey struct {
	venue, symbol string
	bucketStart   time.Time
}

func NewMonitor(cfg Config) *Monitor {
	return &Monitor{
		cfg:        defaultConfig(cfg),
		marketData: make(map[string][]MarketDataPoint),
		buckets:    make(map[bucketKey]*BucketStats),
	}
}

// RecordMarketData ingests one price/volume tick for a symbol, used to
// derive mid-at-submit/mid-at-fill and VWAP windows.
func (m *Monitor) RecordMarketData(symbol string, price, volume float64, ts time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.marketData[symbol] = append(m.marketData[symbol], MarketDataPoint{Price: price, Volume: volume, Timestamp: ts})
}

// RecordExecution computes the full slippage/impact record for one fill
// and folds it into the relevant bucket.
func (m *Monitor) RecordExecution(in ExecutionInput) ExecutionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	points := m.marketData[in.Symbol]
	midAtSubmit := closestPrice(points, in.SubmitTime)
	midAtFill := latestPrice(points)
	vwap := calculateVWAP(points, in.FillTime, m.cfg.VWAPWindow)

	rec := ExecutionRecord{
		ExecutionID: in.ExecutionID,
		Symbol:      in.Symbol,
		Side:        in.Side,
		Quantity:    in.Quantity,
		FillPrice:   in.FillPrice,
		FillTime:    in.FillTime,
		Venue:       in.Venue,
		SubmitTime:  in.SubmitTime,
		OrderType:   in.OrderType,
		Commission:  in.Commission,
		MidAtSubmit: midAtSubmit,
		MidAtFill:   midAtFill,
		VWAPWindow:  vwap,
	}

	rec.SlippageVsMidSubmitBps = SlippageBps(in.FillPrice, midAtSubmit, in.Side)
	rec.SlippageVsMidFillBps = SlippageBps(in.FillPrice, midAtFill, in.Side)
	if vwap != nil {
		v := SlippageBps(in.FillPrice, *vwap, in.Side)
		rec.SlippageVsVWAPBps = &v
	}
	rec.MarketImpactBps = signedMidChangeBps(midAtSubmit, midAtFill, in.Side)
	if !in.SubmitTime.IsZero() {
		rec.TimeToFillMs = float64(in.FillTime.Sub(in.SubmitTime).Milliseconds())
	}

	m.executions = append(m.executions, rec)
	if len(m.executions) > m.cfg.MaxExecutions {
		m.executions = m.executions[len(m.executions)-m.cfg.MaxExecutions:]
	}

	m.updateBucketLocked(rec)
	m.cleanupOldLocked(in.FillTime)

	return rec
}

func (m *Monitor) updateBucketLocked(rec ExecutionRecord) {
	key := bucketKey{venue: rec.Venue, symbol: rec.Symbol, bucketStart: bucketStartOf(rec.FillTime, m.cfg.Bucket)}
	b, ok := m.buckets[key]
	if !ok {
		b = &BucketStats{Venue: rec.Venue, Symbol: rec.Symbol, BucketStart: key.bucketStart}
		m.buckets[key] = b
	}

	b.Count++
	n := float64(b.Count)
	b.AvgSlippageVsMidBps = runningAvg(b.AvgSlippageVsMidBps, n, rec.SlippageVsMidSubmitBps)
	b.AvgMarketImpactBps = runningAvg(b.AvgMarketImpactBps, n, rec.MarketImpactBps)
	if rec.SlippageVsVWAPBps != nil {
		b.AvgSlippageVsVWAPBps = runningAvg(b.AvgSlippageVsVWAPBps, n, *rec.SlippageVsVWAPBps)
	}

	if b.Count == 1 || rec.SlippageVsMidSubmitBps > b.WorstSlippageBps {
		b.WorstSlippageBps = rec.SlippageVsMidSubmitBps
		b.WorstExecutionID = rec.ExecutionID
	}
	if b.Count == 1 || rec.SlippageVsMidSubmitBps < b.BestSlippageBps {
		b.BestSlippageBps = rec.SlippageVsMidSubmitBps
		b.BestExecutionID = rec.ExecutionID
	}

	b.slippages = append(b.slippages, rec.SlippageVsMidSubmitBps)
}

// runningAvg folds a new value into an average already computed over
// n-1 samples, matching the source's (old*old_count + new) / new_count.
func runningAvg(oldAvg, n, newVal float64) float64 {
	if n <= 1 {
		return newVal
	}
	return (oldAvg*(n-1) + newVal) / n
}

// GetQualityStats reports per-bucket aggregates (with percentiles)
// filtered by venue/symbol (empty = any) within the trailing window,
// newest bucket first.
func (m *Monitor) GetQualityStats(venue, symbol string, hours float64) []QualityStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-time.Duration(hours * float64(time.Hour)))
	var out []QualityStats
	for _, b := range m.buckets {
		if venue != "" && b.Venue != venue {
			continue
		}
		if symbol != "" && b.Symbol != symbol {
			continue
		}
		if b.BucketStart.Before(cutoff) {
			continue
		}
		out = append(out, QualityStats{
			Venue:                b.Venue,
			Symbol:               b.Symbol,
			BucketStart:          b.BucketStart,
			Count:                b.Count,
			AvgSlippageVsMidBps:  b.AvgSlippageVsMidBps,
			AvgSlippageVsVWAPBps: b.AvgSlippageVsVWAPBps,
			AvgMarketImpactBps:   b.AvgMarketImpactBps,
			P50:                  percentile(b.slippages, 0.50),
			P75:                  percentile(b.slippages, 0.75),
			P90:                  percentile(b.slippages, 0.90),
			P99:                  percentile(b.slippages, 0.99),
			BestExecutionID:      b.BestExecutionID,
			WorstExecutionID:     b.WorstExecutionID,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BucketStart.After(out[j].BucketStart) })
	return out
}

// GetVenuePerformance aggregates every bucket per venue within the
// trailing window and assigns a quality rating.
func (m *Monitor) GetVenuePerformance(hours float64) []VenuePerformance {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-time.Duration(hours * float64(time.Hour)))
	byVenue := make(map[string][]float64)
	for _, b := range m.buckets {
		if b.BucketStart.Before(cutoff) {
			continue
		}
		byVenue[b.Venue] = append(byVenue[b.Venue], b.slippages...)
	}

	out := make([]VenuePerformance, 0, len(byVenue))
	for venue, vals := range byVenue {
		avg := mean(vals)
		out = append(out, VenuePerformance{
			Venue:             venue,
			Count:             len(vals),
			AvgSlippageBps:    avg,
			MedianSlippageBps: percentile(vals, 0.50),
			P90SlippageBps:    percentile(vals, 0.90),
			QualityRating:     m.ratingFor(absF(avg)),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Venue < out[j].Venue })
	return out
}

func (m *Monitor) ratingFor(absAvgBps float64) string {
	switch {
	case absAvgBps <= m.cfg.GoodBps:
		return RatingExcellent
	case absAvgBps <= m.cfg.WarnBps:
		return RatingGood
	case absAvgBps <= m.cfg.PoorBps:
		return RatingFair
	default:
		return RatingPoor
	}
}

// GetExecutionDetails looks up one execution by id via linear scan, as
// the source does.
func (m *Monitor) GetExecutionDetails(executionID string) (ExecutionRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.executions {
		if e.ExecutionID == executionID {
			return e, true
		}
	}
	return ExecutionRecord{}, false
}

// cleanupOldLocked drops buckets, executions, and market data older than
// the retention window, bounding on-disk and in-memory size.
func (m *Monitor) cleanupOldLocked(now time.Time) {
	cutoff := now.Add(-m.cfg.Retention)

	for key, b := range m.buckets {
		if b.BucketStart.Before(cutoff) {
			delete(m.buckets, key)
		}
	}

	kept := m.executions[:0:0]
	for _, e := range m.executions {
		if !e.FillTime.Before(cutoff) {
			kept = append(kept, e)
		}
	}
	m.executions = kept

	for symbol, points := range m.marketData {
		i := 0
		for _, p := range points {
			if !p.Timestamp.Before(cutoff) {
				points[i] = p
				i++
			}
		}
		m.marketData[symbol] = points[:i]
	}
}

// State is the durable snapshot payload: bounded executions and buckets
// only, never the raw market-data feed.
type State struct {
	Executions []ExecutionRecord `json:"executions"`
	Buckets    []BucketStats     `json:"buckets"`
}

func (m *Monitor) GetState() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	buckets := make([]BucketStats, 0, len(m.buckets))
	for _, b := range m.buckets {
		buckets = append(buckets, *b)
	}
	return State{Executions: append([]ExecutionRecord(nil), m.executions...), Buckets: buckets}
}

func (m *Monitor) SetState(s State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executions = append([]ExecutionRecord(nil), s.Executions...)
	m.buckets = make(map[bucketKey]*BucketStats, len(s.Buckets))
	for i := range s.Buckets {
		b := s.Buckets[i]
		key := bucketKey{venue: b.Venue, symbol: b.Symbol, bucketStart: b.BucketStart}
		m.buckets[key] = &b
	}
	// Bucket percentile slices are not persisted; best-effort repopulate
	// them from the surviving execution history so percentiles stay
	// available immediately after a restore.
	for _, e := range m.executions {
		key := bucketKey{venue: e.Venue, symbol: e.Symbol, bucketStart: bucketStartOf(e.FillTime, m.cfg.Bucket)}
		if b, ok := m.buckets[key]; ok {
			b.slippages = append(b.slippages, e.SlippageVsMidSubmitBps)
		}
	}
}

func bucketStartOf(t time.Time, bucket time.Duration) time.Time {
	t = t.UTC()
	return t.Truncate(bucket)
}

func calculateVWAP(points []MarketDataPoint, referenceTime time.Time, window time.Duration) *float64 {
	start := referenceTime.Add(-window)
	var pv, vol float64
	for _, p := range points {
		if p.Timestamp.Before(start) || p.Timestamp.After(referenceTime) {
			continue
		}
		pv += p.Price * p.Volume
		vol += p.Volume
	}
	if vol == 0 {
		return nil
	}
	v := pv / vol
	return &v
}

func closestPrice(points []MarketDataPoint, reference time.Time) float64 {
	if len(points) == 0 {
		return 0
	}
	best := points[0]
	bestDelta := absDuration(best.Timestamp.Sub(reference))
	for _, p := range points[1:] {
		d := absDuration(p.Timestamp.Sub(reference))
		if d < bestDelta {
			best, bestDelta = p, d
		}
	}
	return best.Price
}

func latestPrice(points []MarketDataPoint) float64 {
	if len(points) == 0 {
		return 0
	}
	return points[len(points)-1].Price
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

func signedMidChangeBps(midAtSubmit, midAtFill float64, side string) float64 {
	if midAtSubmit <= 0 {
		return 0
	}
	change := 10000.0 * (midAtFill - midAtSubmit) / midAtSubmit
	if side == "SELL" {
		return -change
	}
	return change
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

// percentile uses linear interpolation between closest ranks, matching
// the common "linear" quantile method; returns 0 for an empty input.
func percentile(vals []float64, p float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := p * float64(len(sorted)-1)
	lo := int(rank)
	hi := lo + 1
	if hi >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	frac := rank - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

func absF(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
