package durability

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ziggylab/internal/bandit"
	"ziggylab/internal/broker"
	"ziggylab/internal/guardrail"
	"ziggylab/internal/model"
	"ziggylab/internal/quality"
)

type fixedPrices struct{}

func (fixedPrices) LastClose(symbol string) (float64, bool)      { return 100, true }
func (fixedPrices) SpreadEstimate(symbol string) (float64, bool) { return 0, true }

func fixedTime() time.Time { return time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC) }

func registerBandit(m *Manager, alloc *bandit.Allocator) {
	m.Register(Component{
		Name: "bandit",
		Save: func() (any, error) { return alloc.GetState(), nil },
		Load: func(raw json.RawMessage) error {
			var state map[string]bandit.Arm
			if err := json.Unmarshal(raw, &state); err != nil {
				return err
			}
			alloc.SetState(state)
			return nil
		},
	})
}

func registerGuardrail(m *Manager, guard *guardrail.Guardrail) {
	m.Register(Component{
		Name: "guardrail",
		Save: func() (any, error) { return guard.GetState(), nil },
		Load: func(raw json.RawMessage) error {
			var state guardrail.RiskState
			if err := json.Unmarshal(raw, &state); err != nil {
				return err
			}
			guard.SetState(state)
			return nil
		},
	})
}

func registerQuality(m *Manager, mon *quality.Monitor) {
	m.Register(Component{
		Name: "quality",
		Save: func() (any, error) { return mon.GetState(), nil },
		Load: func(raw json.RawMessage) error {
			var state quality.State
			if err := json.Unmarshal(raw, &state); err != nil {
				return err
			}
			mon.SetState(state)
			return nil
		},
	})
}

func registerBroker(m *Manager, brk *broker.Broker) {
	m.Register(Component{
		Name: "broker",
		Save: func() (any, error) { return brk.GetState(), nil },
		Load: func(raw json.RawMessage) error {
			var state broker.State
			if err := json.Unmarshal(raw, &state); err != nil {
				return err
			}
			brk.SetState(state)
			return nil
		},
	})
}

func TestSaveAllRestoreAll_RoundTripsAcrossComponents(t *testing.T) {
	dir := t.TempDir()
	log := zerolog.Nop()

	alloc := bandit.NewAllocator(bandit.Config{})
	alloc.AddTheory("mean_revert")
	alloc.UpdatePerformance("mean_revert", 42.0, 1.5, true, fixedTime())

	guard := guardrail.NewGuardrail(guardrail.Limits{}, guardrail.RiskState{PortfolioValue: 1_000_000, CashBalance: 1_000_000}, log)
	guard.UpdateRiskMetrics(-500, -1200, 999_500, 10_000)
	guard.EmergencyStopTrade()

	mon := quality.NewMonitor(quality.Config{})
	mon.RecordMarketData("AAPL", 100, 1000, fixedTime())
	mon.RecordExecution(quality.ExecutionInput{
		ExecutionID: "exec-1", Symbol: "AAPL", Side: model.Buy, Quantity: 10,
		FillPrice: 100.5, FillTime: fixedTime(), Venue: "sim", SubmitTime: fixedTime(),
	})

	brk := broker.NewBroker(broker.Config{}, fixedPrices{})
	_, err := brk.Submit(model.Order{ID: "o1", Symbol: "AAPL", Side: model.Buy, Qty: 5, Type: model.OrderMarket}, "equity")
	require.NoError(t, err)

	saveMgr := NewManager(dir, log)
	registerBandit(saveMgr, alloc)
	registerGuardrail(saveMgr, guard)
	registerQuality(saveMgr, mon)
	registerBroker(saveMgr, brk)

	saveReport := saveMgr.SaveAll()
	require.True(t, saveReport.OK())
	for _, name := range []string{"bandit", "guardrail", "quality", "broker"} {
		assert.FileExists(t, filepath.Join(dir, name+".json"))
	}

	freshAlloc := bandit.NewAllocator(bandit.Config{})
	freshGuard := guardrail.NewGuardrail(guardrail.Limits{}, guardrail.RiskState{}, log)
	freshMon := quality.NewMonitor(quality.Config{})
	freshBrk := broker.NewBroker(broker.Config{}, fixedPrices{})

	restoreMgr := NewManager(dir, log)
	registerBandit(restoreMgr, freshAlloc)
	registerGuardrail(restoreMgr, freshGuard)
	registerQuality(restoreMgr, freshMon)
	registerBroker(restoreMgr, freshBrk)

	restoreReport := restoreMgr.RestoreAll()
	require.True(t, restoreReport.OK())
	for _, res := range restoreReport.Results {
		assert.False(t, res.Skipped, "component %s should have found a prior snapshot", res.Component)
	}

	assert.Equal(t, alloc.GetState(), freshAlloc.GetState())
	assert.Equal(t, guard.GetState(), freshGuard.GetState())
	assert.Equal(t, mon.GetState(), freshMon.GetState())
	assert.Equal(t, brk.GetState(), freshBrk.GetState())
}

func TestRestoreAll_MissingSnapshotsAreSkippedNotFailed(t *testing.T) {
	dir := t.TempDir()
	mgr := NewManager(dir, zerolog.Nop())

	alloc := bandit.NewAllocator(bandit.Config{})
	registerBandit(mgr, alloc)

	report := mgr.RestoreAll()
	require.True(t, report.OK())
	require.Len(t, report.Results, 1)
	assert.True(t, report.Results[0].Skipped)
}

func TestSaveAll_OneComponentFailureDoesNotBlockOthers(t *testing.T) {
	dir := t.TempDir()
	mgr := NewManager(dir, zerolog.Nop())

	alloc := bandit.NewAllocator(bandit.Config{})
	alloc.AddTheory("mean_revert")
	registerBandit(mgr, alloc)

	mgr.Register(Component{
		Name: "broken",
		Save: func() (any, error) { return nil, assert.AnError },
		Load: func(raw json.RawMessage) error { return nil },
	})

	report := mgr.SaveAll()
	assert.False(t, report.OK())
	assert.FileExists(t, filepath.Join(dir, "bandit.json"))
	assert.NoFileExists(t, filepath.Join(dir, "broken.json"))
}
