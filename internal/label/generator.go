// Package label implements the forward-return label generator (C3, second
// half). Grounded on the Python source's app/paper/labels.py; the package
// keeps its own capped price history per symbol, which the source also
// does (a 500-bar cap distinct from the feature computer's 200-bar
// window) even though the spec describes the two subsystems as "sharing
// the rolling window" — this package is fed from the same bar stream as
// the feature computer but keeps an independent buffer, matching the
// source's actual behavior.
package label

import (
	"sync"
	"time"

	"ziggylab/internal/model"
)

const (
	defaultHistoryCap   = 500
	directionThreshold  = 0.001 // 0.1%
)

var defaultHorizons = []int{5, 15, 60}

// Generator produces TradeLabels from a per-symbol price history.
type Generator struct {
	mu                 sync.Mutex
	horizonsMin        []int
	directionThreshold float64
	historyCap         int
	priceHistory       map[string][]model.PriceBar
}

// NewGenerator builds a Generator. A nil horizons slice selects the spec
// default {5, 15, 60}; threshold<=0 selects the default 0.1%.
func NewGenerator(horizonsMin []int, threshold float64) *Generator {
	if len(horizonsMin) == 0 {
		horizonsMin = defaultHorizons
	}
	if threshold <= 0 {
		threshold = directionThreshold
	}
	return &Generator{
		horizonsMin:        horizonsMin,
		directionThreshold: threshold,
		historyCap:         defaultHistoryCap,
		priceHistory:       make(map[string][]model.PriceBar),
	}
}

// AddPriceData records a bar for later label generation.
func (g *Generator) AddPriceData(bar model.PriceBar) {
	g.mu.Lock()
	defer g.mu.Unlock()
	hist := append(g.priceHistory[bar.Symbol], bar)
	if len(hist) > g.historyCap {
		hist = hist[len(hist)-g.historyCap:]
	}
	g.priceHistory[bar.Symbol] = hist
}

// GenerateTradeLabel computes forward returns, direction classes, and
// excursion metrics for a trade entered at entryTime/entryPrice.
func (g *Generator) GenerateTradeLabel(symbol string, entryTime time.Time, entryPrice float64, side string) model.Label {
	g.mu.Lock()
	defer g.mu.Unlock()

	lbl := model.Label{Symbol: symbol, EntryTime: entryTime, EntryPrice: entryPrice, Side: side}

	hist := g.priceHistory[symbol]
	if len(hist) == 0 {
		return lbl
	}

	entryIdx := closestIndex(hist, entryTime)
	if entryIdx < 0 {
		return lbl
	}

	for _, h := range g.horizonsMin {
		futureTime := entryTime.Add(time.Duration(h) * time.Minute)
		futureIdx := closestIndex(hist, futureTime)
		if futureIdx < 0 || futureIdx <= entryIdx {
			continue // missing future bar => horizon absent, not zero
		}
		futurePrice := hist[futureIdx].Close
		var forwardReturn float64
		if side == model.Buy {
			forwardReturn = (futurePrice - entryPrice) / entryPrice
		} else {
			forwardReturn = (entryPrice - futurePrice) / entryPrice
		}
		dir := g.classifyDirection(forwardReturn)

		switch h {
		case 5:
			lbl.Return5m = model.Float(forwardReturn)
			lbl.Direction5m = dir
		case 15:
			lbl.Return15m = model.Float(forwardReturn)
			lbl.Direction15m = dir
		case 60:
			lbl.Return60m = model.Float(forwardReturn)
			lbl.Direction60m = dir
		}
	}

	fav, adv, ok := calculateExcursions(hist, entryIdx, entryPrice, side)
	if ok {
		lbl.MaxFavorableExcursion = model.Float(fav)
		lbl.MaxAdverseExcursion = model.Float(adv)
	}

	return lbl
}

// UpdateTradeOutcome records the realized exit and return for a label.
func UpdateTradeOutcome(lbl model.Label, exitTime time.Time, exitPrice float64) model.Label {
	lbl.ExitTime = &exitTime
	lbl.ExitPrice = model.Float(exitPrice)

	var realized float64
	if lbl.Side == model.Buy {
		realized = (exitPrice - lbl.EntryPrice) / lbl.EntryPrice
	} else {
		realized = (lbl.EntryPrice - exitPrice) / lbl.EntryPrice
	}
	lbl.RealizedReturn = model.Float(realized)
	lbl.HoldDurationMins = model.Int(int(exitTime.Sub(lbl.EntryTime).Minutes()))
	return lbl
}

func closestIndex(hist []model.PriceBar, target time.Time) int {
	if len(hist) == 0 {
		return -1
	}
	minDiff := time.Duration(1<<63 - 1)
	idx := -1
	for i, b := range hist {
		diff := b.Timestamp.Sub(target)
		if diff < 0 {
			diff = -diff
		}
		if diff < minDiff {
			minDiff = diff
			idx = i
		}
	}
	return idx
}

func (g *Generator) classifyDirection(ret float64) string {
	switch {
	case ret > g.directionThreshold:
		return model.DirUp
	case ret < -g.directionThreshold:
		return model.DirDown
	default:
		return model.DirFlat
	}
}

// calculateExcursions returns (maxFavorable, maxAdverse) both >= 0, per the
// spec's label-monotonicity testable property.
func calculateExcursions(hist []model.PriceBar, entryIdx int, entryPrice float64, side string) (favorable, adverse float64, ok bool) {
	if entryIdx >= len(hist)-1 {
		return 0, 0, false
	}
	maxFav, maxAdv := 0.0, 0.0
	for i := entryIdx + 1; i < len(hist); i++ {
		price := hist[i].Close
		var excursion float64
		if side == model.Buy {
			excursion = (price - entryPrice) / entryPrice
		} else {
			excursion = (entryPrice - price) / entryPrice
		}
		if excursion > maxFav {
			maxFav = excursion
		}
		if excursion < maxAdv {
			maxAdv = excursion
		}
	}
	if maxAdv < 0 {
		maxAdv = -maxAdv
	}
	return maxFav, maxAdv, true
}
