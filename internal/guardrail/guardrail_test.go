package guardrail

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGuardrail(state RiskState) *Guardrail {
	return NewGuardrail(Limits{}, state, zerolog.Nop())
}

func TestCheckTrade_ExposureLimitExceeded(t *testing.T) {
	g := newTestGuardrail(RiskState{
		PortfolioValue: 1_000_000,
		CashBalance:    1_000_000,
		GrossExposure:  1_490_000,
	})

	res := g.CheckTrade("X", 200, 100, Regime{})

	assert.False(t, res.Allowed)
	assert.Contains(t, res.Violations, ViolationExposureLimit)
	assert.InDelta(t, 1.51, res.Metrics["exposure_ratio"], 1e-9)
}

func TestCheckTrade_AllowsWithinLimits(t *testing.T) {
	g := newTestGuardrail(RiskState{
		PortfolioValue: 1_000_000,
		CashBalance:    1_000_000,
	})

	res := g.CheckTrade("AAPL", 10, 100, Regime{})

	assert.True(t, res.Allowed)
	assert.Empty(t, res.Violations)
}

func TestCheckTrade_StickyEmergencyStopBlocksUntilResume(t *testing.T) {
	g := newTestGuardrail(RiskState{PortfolioValue: 1_000_000, CashBalance: 1_000_000})

	g.EmergencyStopTrade()
	res := g.CheckTrade("AAPL", 1, 100, Regime{})
	assert.False(t, res.Allowed)
	assert.Contains(t, res.Violations, ViolationRegimeKillSwitch)

	res2 := g.CheckTrade("AAPL", 1, 100, Regime{})
	assert.Contains(t, res2.Violations, ViolationRegimeKillSwitch)

	g.Resume()
	res3 := g.CheckTrade("AAPL", 1, 100, Regime{})
	assert.True(t, res3.Allowed)
}

func TestCheckTrade_RegimeExposureOverride(t *testing.T) {
	g := newTestGuardrail(RiskState{PortfolioValue: 1_000_000, CashBalance: 1_000_000, GrossExposure: 100_000})

	override := 0.05
	res := g.CheckTrade("AAPL", 100, 100, Regime{MaxExposureOverride: &override})

	assert.False(t, res.Allowed)
	assert.Contains(t, res.Violations, ViolationRegimeExposure)
}

func TestCheckTrade_DailyTradeLimitAndConcurrentOrders(t *testing.T) {
	limits := Limits{MaxDailyTrades: 2, MaxConcurrentOrder: 1}
	g := NewGuardrail(limits, RiskState{PortfolioValue: 1_000_000, CashBalance: 1_000_000}, zerolog.Nop())

	g.RecordTradeExecution("AAPL", 1, 10)
	g.RecordTradeExecution("AAPL", 1, 10)
	res := g.CheckTrade("AAPL", 1, 10, Regime{})
	assert.Contains(t, res.Violations, ViolationDailyTradeLimit)

	g2 := NewGuardrail(limits, RiskState{PortfolioValue: 1_000_000, CashBalance: 1_000_000}, zerolog.Nop())
	g2.OrderOpened()
	res2 := g2.CheckTrade("AAPL", 1, 10, Regime{})
	assert.Contains(t, res2.Violations, ViolationConcurrentOrders)
}

func TestCheckTrade_CashReserveInsufficient(t *testing.T) {
	g := newTestGuardrail(RiskState{PortfolioValue: 1_000_000, CashBalance: 40_000})

	res := g.CheckTrade("AAPL", 100, 100, Regime{})

	assert.Contains(t, res.Violations, ViolationCashReserve)
}

func TestGetStateSetState_RoundTrips(t *testing.T) {
	g := newTestGuardrail(RiskState{PortfolioValue: 1_000_000, CashBalance: 900_000, DailyTradeCount: 3})
	s := g.GetState()

	g2 := newTestGuardrail(RiskState{})
	g2.SetState(s)

	require.Equal(t, s, g2.GetState())
}
