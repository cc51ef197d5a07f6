// Package guardrail implements the pre-trade risk checks and sticky
// emergency-stop switch (C8's risk half). Grounded on
// original_source/backend/app/trading/guardrails.py's check_trade, a pure
// evaluation of the current risk state against configured limits.
//
// Guardrail is one of the two components the design notes permit as a
// process-wide singleton (the other is the broadcast hub); callers still
// construct it explicitly via NewGuardrail rather than reaching for a
// package-level instance.
package guardrail

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ziggylab/internal/metrics"
)

// Violation names, enumerated rather than free-form strings so callers
// can switch on them.
const (
	ViolationDailyDrawdown     = "daily-drawdown-exceeded"
	ViolationWeeklyDrawdown    = "weekly-drawdown-exceeded"
	ViolationExposureLimit     = "exposure-limit-exceeded"
	ViolationSingleTradeRisk   = "single-trade-risk-exceeded"
	ViolationDailyTradeLimit   = "daily-trade-limit-exceeded"
	ViolationConcurrentOrders  = "concurrent-order-limit-exceeded"
	ViolationCashReserve       = "cash-reserve-insufficient"
	ViolationRegimeKillSwitch  = "regime-kill-switch-active"
	ViolationRegimeExposure    = "regime-exposure-limit-exceeded"
)

// Limits mirrors guardrails.py's configured thresholds, all ratios
// against portfolio value unless noted.
type Limits struct {
	MaxDDDay           float64
	MaxDDWeek          float64
	MaxExposure        float64
	MaxSingleTradeRisk float64
	MaxDailyTrades     int
	MaxConcurrentOrder int
	MinCashReserve     float64
}

func defaultLimits(l Limits) Limits {
	if l.MaxDDDay == 0 {
		l.MaxDDDay = 0.03
	}
	if l.MaxDDWeek == 0 {
		l.MaxDDWeek = 0.06
	}
	if l.MaxExposure == 0 {
		l.MaxExposure = 1.5
	}
	if l.MaxSingleTradeRisk == 0 {
		l.MaxSingleTradeRisk = 0.01
	}
	if l.MaxDailyTrades == 0 {
		l.MaxDailyTrades = 100
	}
	if l.MaxConcurrentOrder == 0 {
		l.MaxConcurrentOrder = 50
	}
	if l.MinCashReserve == 0 {
		l.MinCashReserve = 0.05
	}
	return l
}

// RiskState is the portfolio-level counter set check_trade evaluates
// against. It is also the guardrail's persisted snapshot payload.
type RiskState struct {
	PortfolioValue   float64 `json:"portfolio_value"`
	CashBalance      float64 `json:"cash_balance"`
	GrossExposure    float64 `json:"gross_exposure"`
	DailyPnL         float64 `json:"daily_pnl"`
	WeeklyPnL        float64 `json:"weekly_pnl"`
	DailyTradeCount  int     `json:"daily_trade_count"`
	ConcurrentOrders int     `json:"concurrent_orders"`
	EmergencyStop    bool    `json:"emergency_stop"`

	DailyResetAt  time.Time `json:"daily_reset_at"`
	WeeklyResetAt time.Time `json:"weekly_reset_at"`
}

// Regime carries the transient market-regime inputs check_trade folds in
// on top of the portfolio-level limits: a circuit-breaker kill switch and
// an optional tighter exposure cap for the current regime.
type Regime struct {
	KillSwitchActive    bool
	MaxExposureOverride *float64
}

// CheckResult is check_trade's return shape.
type CheckResult struct {
	Allowed    bool               `json:"allowed"`
	Violations []string           `json:"violations"`
	Metrics    map[string]float64 `json:"metrics"`
}

// Guardrail holds the current risk state behind a mutex; every public
// method is safe for concurrent use from engine tasks.
type Guardrail struct {
	mu     sync.Mutex
	limits Limits
	state  RiskState
	log    zerolog.Logger
}

func NewGuardrail(limits Limits, initial RiskState, log zerolog.Logger) *Guardrail {
	if initial.PortfolioValue == 0 {
		initial.PortfolioValue = 1_000_000
	}
	if initial.CashBalance == 0 {
		initial.CashBalance = initial.PortfolioValue
	}
	return &Guardrail{limits: defaultLimits(limits), state: initial, log: log}
}

// CheckTrade is the pure risk evaluation: it reads the current state and
// reports allow/block plus every violated rule. It does not itself
// mutate state; RecordTradeExecution does that once a trade is actually
// submitted.
func (g *Guardrail) CheckTrade(symbol string, signedQty, estPrice float64, regime Regime) CheckResult {
	g.mu.Lock()
	defer g.mu.Unlock()

	s := g.state
	tradeValue := absF(signedQty) * estPrice

	var dailyDD, weeklyDD float64
	if s.PortfolioValue > 0 {
		dailyDD = -s.DailyPnL / s.PortfolioValue
		weeklyDD = -s.WeeklyPnL / s.PortfolioValue
	}

	projectedExposure := s.GrossExposure + tradeValue
	var exposureRatio float64
	if s.PortfolioValue > 0 {
		exposureRatio = projectedExposure / s.PortfolioValue
	}

	var singleTradeRisk, cashReserveRatio float64
	if s.PortfolioValue > 0 {
		singleTradeRisk = tradeValue / s.PortfolioValue
		cashReserveRatio = (s.CashBalance - tradeValue) / s.PortfolioValue
	}

	checkMetrics := map[string]float64{
		"daily_drawdown":      dailyDD,
		"weekly_drawdown":     weeklyDD,
		"trade_value":         tradeValue,
		"projected_exposure":  projectedExposure,
		"exposure_ratio":      exposureRatio,
		"single_trade_risk":   singleTradeRisk,
		"cash_reserve_ratio":  cashReserveRatio,
	}

	var violations []string
	if s.EmergencyStop {
		violations = append(violations, ViolationRegimeKillSwitch)
	}
	if regime.KillSwitchActive && !s.EmergencyStop {
		violations = append(violations, ViolationRegimeKillSwitch)
	}
	if dailyDD > g.limits.MaxDDDay {
		violations = append(violations, ViolationDailyDrawdown)
	}
	if weeklyDD > g.limits.MaxDDWeek {
		violations = append(violations, ViolationWeeklyDrawdown)
	}
	if exposureRatio > g.limits.MaxExposure {
		violations = append(violations, ViolationExposureLimit)
	}
	if singleTradeRisk > g.limits.MaxSingleTradeRisk {
		violations = append(violations, ViolationSingleTradeRisk)
	}
	if s.DailyTradeCount >= g.limits.MaxDailyTrades {
		violations = append(violations, ViolationDailyTradeLimit)
	}
	if s.ConcurrentOrders >= g.limits.MaxConcurrentOrder {
		violations = append(violations, ViolationConcurrentOrders)
	}
	if cashReserveRatio < g.limits.MinCashReserve {
		violations = append(violations, ViolationCashReserve)
	}
	if regime.MaxExposureOverride != nil && exposureRatio > *regime.MaxExposureOverride {
		violations = append(violations, ViolationRegimeExposure)
	}

	for _, v := range violations {
		metrics.RecordGuardrailViolation(v)
	}
	metrics.SetGuardrailState(s.EmergencyStop, exposureRatio)

	return CheckResult{Allowed: len(violations) == 0, Violations: violations, Metrics: checkMetrics}
}

// UpdateRiskMetrics replaces the mark-to-market figures the engine
// recomputes on every stats tick.
func (g *Guardrail) UpdateRiskMetrics(dailyPnL, weeklyPnL, cashBalance, grossExposure float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state.DailyPnL = dailyPnL
	g.state.WeeklyPnL = weeklyPnL
	g.state.CashBalance = cashBalance
	g.state.GrossExposure = grossExposure
}

// RecordTradeExecution is called once a trade actually submits, advancing
// the counters check_trade reads on the next call.
func (g *Guardrail) RecordTradeExecution(symbol string, signedQty, price float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state.DailyTradeCount++
	g.state.GrossExposure += absF(signedQty) * price
}

// OrderOpened/OrderClosed track concurrent outstanding orders, independent
// of the daily trade counter.
func (g *Guardrail) OrderOpened() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state.ConcurrentOrders++
}

func (g *Guardrail) OrderClosed() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state.ConcurrentOrders > 0 {
		g.state.ConcurrentOrders--
	}
}

// EmergencyStopTrade sets the sticky flag; every check_trade call
// disallows with regime-kill-switch-active until Resume is called.
func (g *Guardrail) EmergencyStopTrade() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state.EmergencyStop = true
	g.log.Warn().Msg("guardrail emergency stop engaged")
}

func (g *Guardrail) Resume() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state.EmergencyStop = false
	g.log.Info().Msg("guardrail emergency stop cleared")
}

// ResetDaily/ResetWeekly zero the daily/weekly counters and stamp the
// reset time. Nothing in the engine calls them; the counters keep
// accumulating until a caller does.
func (g *Guardrail) ResetDaily(now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state.DailyPnL = 0
	g.state.DailyTradeCount = 0
	g.state.DailyResetAt = now
}

func (g *Guardrail) ResetWeekly(now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state.WeeklyPnL = 0
	g.state.WeeklyResetAt = now
}

// Stats reports a read-only snapshot of the current risk state.
func (g *Guardrail) Stats() RiskState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// GetState/SetState support the durability manager's snapshot round-trip.
func (g *Guardrail) GetState() RiskState {
	return g.Stats()
}

func (g *Guardrail) SetState(s RiskState) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state = s
}

func absF(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
