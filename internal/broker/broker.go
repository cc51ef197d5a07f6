// Package broker implements the paper broker (C1): simulated order
// execution against a feature-computer-derived reference price, with
// slippage, fees, and signed-quantity position accounting. Grounded on
// spec.md §4.1; no literal teacher source survives for this component
// (trader/alpaca_trader.go was deleted unread — see DESIGN.md), so the
// mutex/slice bookkeeping idiom is carried over from
// trader/vwap_collector.go instead.
package broker

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"ziggylab/internal/model"
)

var (
	ErrInvalidSymbol   = errors.New("broker: invalid symbol")
	ErrInvalidQty      = errors.New("broker: qty must be positive")
	ErrInvalidSide     = errors.New("broker: side must be BUY or SELL")
	ErrOrderIDCollision = errors.New("broker: order id already exists")
	ErrLimitNotFillable = errors.New("broker: limit price not reached")
)

// ReferencePriceSource supplies the last known close for a symbol; the
// feature computer satisfies this interface.
type ReferencePriceSource interface {
	LastClose(symbol string) (float64, bool)
	SpreadEstimate(symbol string) (float64, bool)
}

// Config configures the cost model, with spec.md §4.1 defaults.
type Config struct {
	FeeBps        float64
	FeeMinimum    float64
	SlippageScale float64 // multiplier applied to the spread estimate
	DefaultPrice  map[string]float64 // asset-class -> fallback reference price
	LimitFillProb float64
	Rand          *rand.Rand
}

func defaultConfig(cfg Config) Config {
	if cfg.FeeBps == 0 {
		cfg.FeeBps = 1.0
	}
	if cfg.FeeMinimum == 0 {
		cfg.FeeMinimum = 0.01
	}
	if cfg.SlippageScale == 0 {
		cfg.SlippageScale = 0.5
	}
	if cfg.DefaultPrice == nil {
		cfg.DefaultPrice = map[string]float64{"equity": 100.0, "crypto": 30000.0}
	}
	if cfg.LimitFillProb == 0 {
		cfg.LimitFillProb = 0.8
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return cfg
}

// Broker owns the position book and order store exclusively; every other
// component observes through Positions/PerformanceSummary only.
type Broker struct {
	mu sync.Mutex

	cfg    Config
	prices ReferencePriceSource

	orders    map[string]model.Order
	positions map[string]model.Position
	fills     []model.Fill

	totalFees    float64
	realizedPnL  float64
}

func NewBroker(cfg Config, prices ReferencePriceSource) *Broker {
	return &Broker{
		cfg:       defaultConfig(cfg),
		prices:    prices,
		orders:    make(map[string]model.Order),
		positions: make(map[string]model.Position),
	}
}

// Submit executes an order against the simulated cost model. On any
// error the position book is not mutated, and the order is not recorded
// — the broker never silently drops an order; every failure is surfaced
// to the caller.
func (b *Broker) Submit(order model.Order, assetClass string) (model.Fill, error) {
	if order.Symbol == "" {
		return model.Fill{}, ErrInvalidSymbol
	}
	if order.Qty <= 0 {
		return model.Fill{}, ErrInvalidQty
	}
	if order.Side != model.Buy && order.Side != model.Sell {
		return model.Fill{}, ErrInvalidSide
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.orders[order.ID]; exists {
		return model.Fill{}, ErrOrderIDCollision
	}

	refPrice := b.referencePriceLocked(order.Symbol, assetClass)
	spread := b.spreadEstimateLocked(order.Symbol, refPrice)
	slippageBps := b.sampleSlippageBps(spread, refPrice)

	fillPrice := refPrice
	switch order.Side {
	case model.Buy:
		fillPrice = refPrice * (1 + slippageBps/10000)
	case model.Sell:
		fillPrice = refPrice * (1 - slippageBps/10000)
	}

	if order.Type == model.OrderLimit {
		if !b.limitAcceptableLocked(order, fillPrice) {
			return model.Fill{}, fmt.Errorf("%w: ref %.4f limit %.4f", ErrLimitNotFillable, fillPrice, order.LimitPrice)
		}
		if b.cfg.Rand.Float64() > b.cfg.LimitFillProb {
			return model.Fill{}, fmt.Errorf("%w: probabilistic reject", ErrLimitNotFillable)
		}
		fillPrice = order.LimitPrice
	}

	notional := fillPrice * order.Qty
	fees := math.Max(notional*b.cfg.FeeBps/10000, b.cfg.FeeMinimum)

	pnl := b.applyFillLocked(order, fillPrice)

	b.orders[order.ID] = order
	b.totalFees += fees
	b.realizedPnL += pnl

	fill := model.Fill{
		OrderRef:    order.ID,
		Symbol:      order.Symbol,
		Side:        order.Side,
		Qty:         order.Qty,
		AvgPrice:    fillPrice,
		Fees:        fees,
		SlippageBps: slippageBps,
		FillTime:    time.Now().UTC(),
	}
	b.fills = append(b.fills, fill)
	return fill, nil
}

func (b *Broker) referencePriceLocked(symbol, assetClass string) float64 {
	if b.prices != nil {
		if px, ok := b.prices.LastClose(symbol); ok && px > 0 {
			return px
		}
	}
	if px, ok := b.cfg.DefaultPrice[assetClass]; ok {
		return px
	}
	return b.cfg.DefaultPrice["equity"]
}

func (b *Broker) spreadEstimateLocked(symbol string, refPrice float64) float64 {
	if b.prices != nil {
		if spread, ok := b.prices.SpreadEstimate(symbol); ok && spread >= 0 {
			return spread
		}
	}
	return refPrice * 0.0005
}

// sampleSlippageBps draws from a bounded distribution scaled by the
// spread estimate: a half-normal magnitude capped at 3x the scaled
// spread, expressed in bps of reference price.
func (b *Broker) sampleSlippageBps(spread, refPrice float64) float64 {
	if refPrice <= 0 {
		return 0
	}
	spreadBps := (spread / refPrice) * 10000 * b.cfg.SlippageScale
	mag := math.Abs(b.cfg.Rand.NormFloat64()) * spreadBps
	return math.Min(mag, spreadBps*3)
}

func (b *Broker) limitAcceptableLocked(order model.Order, fillPrice float64) bool {
	switch order.Side {
	case model.Buy:
		return fillPrice <= order.LimitPrice
	case model.Sell:
		return fillPrice >= order.LimitPrice
	}
	return false
}

// applyFillLocked updates the position book with weighted-average-price
// accounting on same-direction aggregation and realizes PnL on any
// reduction of the existing position. Returns the realized PnL delta.
func (b *Broker) applyFillLocked(order model.Order, fillPrice float64) float64 {
	pos, ok := b.positions[order.Symbol]
	if !ok {
		pos = model.Position{Symbol: order.Symbol}
	}

	sign := 1.0
	if order.Side == model.Sell {
		sign = -1.0
	}
	deltaQty := sign * order.Qty

	var realized float64
	switch {
	case pos.Qty == 0 || sameSign(pos.Qty, deltaQty):
		// Opening or adding in the same direction: weighted-average price.
		newQty := pos.Qty + deltaQty
		if newQty != 0 {
			pos.AvgPrice = (pos.AvgPrice*math.Abs(pos.Qty) + fillPrice*math.Abs(deltaQty)) / math.Abs(newQty)
		}
		pos.Qty = newQty
	default:
		// Reducing or flipping: realize PnL on the closed portion.
		closedQty := math.Min(math.Abs(pos.Qty), math.Abs(deltaQty))
		if pos.Qty > 0 {
			realized = (fillPrice - pos.AvgPrice) * closedQty
		} else {
			realized = (pos.AvgPrice - fillPrice) * closedQty
		}
		newQty := pos.Qty + deltaQty
		switch {
		case newQty == 0:
			pos.Qty = 0
			pos.AvgPrice = 0
		case sameSign(newQty, deltaQty) && math.Abs(deltaQty) > math.Abs(pos.Qty):
			// Flipped direction: the remainder opens a new position at fillPrice.
			pos.Qty = newQty
			pos.AvgPrice = fillPrice
		default:
			pos.Qty = newQty
		}
	}

	b.positions[order.Symbol] = pos
	return realized
}

func sameSign(a, b float64) bool {
	return (a >= 0 && b >= 0) || (a <= 0 && b <= 0)
}

// Positions returns a read-only snapshot of the position book.
func (b *Broker) Positions() map[string]model.Position {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]model.Position, len(b.positions))
	for k, v := range b.positions {
		if v.Qty != 0 {
			out[k] = v
		}
	}
	return out
}

// PerformanceSummary reports the broker's aggregate book state.
type PerformanceSummary struct {
	NetPnL        float64 `json:"net_pnl"`
	TotalFees     float64 `json:"total_fees"`
	NumPositions  int     `json:"num_positions"`
	RealizedPnL   float64 `json:"realized_pnl"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
}

// PerformanceSummary computes unrealized PnL by marking every open
// position to its current reference price via the wired price source.
func (b *Broker) PerformanceSummary() PerformanceSummary {
	b.mu.Lock()
	defer b.mu.Unlock()

	var unrealized float64
	numPositions := 0
	for symbol, pos := range b.positions {
		if pos.Qty == 0 {
			continue
		}
		numPositions++
		mark := pos.AvgPrice
		if b.prices != nil {
			if px, ok := b.prices.LastClose(symbol); ok && px > 0 {
				mark = px
			}
		}
		if pos.Qty > 0 {
			unrealized += (mark - pos.AvgPrice) * pos.Qty
		} else {
			unrealized += (pos.AvgPrice - mark) * -pos.Qty
		}
	}

	return PerformanceSummary{
		NetPnL:        b.realizedPnL + unrealized - b.totalFees,
		TotalFees:     b.totalFees,
		NumPositions:  numPositions,
		RealizedPnL:   b.realizedPnL,
		UnrealizedPnL: unrealized,
	}
}

// Fills returns the broker's fill history in submission order.
func (b *Broker) Fills() []model.Fill {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]model.Fill, len(b.fills))
	copy(out, b.fills)
	return out
}

// State is the durable snapshot payload for the position book. Order and
// fill history are deliberately excluded: the durability manager restores
// static book state, never in-flight or historical activity.
type State struct {
	Positions   map[string]model.Position `json:"positions"`
	TotalFees   float64                   `json:"total_fees"`
	RealizedPnL float64                   `json:"realized_pnl"`
}

func (b *Broker) GetState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	positions := make(map[string]model.Position, len(b.positions))
	for k, v := range b.positions {
		positions[k] = v
	}
	return State{Positions: positions, TotalFees: b.totalFees, RealizedPnL: b.realizedPnL}
}

func (b *Broker) SetState(s State) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.positions = make(map[string]model.Position, len(s.Positions))
	for k, v := range s.Positions {
		b.positions[k] = v
	}
	b.totalFees = s.TotalFees
	b.realizedPnL = s.RealizedPnL
}
