package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ziggylab/internal/bandit"
	"ziggylab/internal/broker"
	"ziggylab/internal/engine"
	"ziggylab/internal/guardrail"
	"ziggylab/internal/model"
	"ziggylab/internal/quality"
	"ziggylab/internal/theory"
)

type fixedPrices struct{}

func (fixedPrices) LastClose(symbol string) (float64, bool)      { return 100, true }
func (fixedPrices) SpreadEstimate(symbol string) (float64, bool) { return 0.1, true }

func testServer(t *testing.T, secret string) *Server {
	t.Helper()
	log := zerolog.Nop()

	alloc := bandit.NewAllocator(bandit.Config{})
	alloc.AddTheory("mean_revert")

	guard := guardrail.NewGuardrail(guardrail.Limits{}, guardrail.RiskState{PortfolioValue: 1_000_000, CashBalance: 1_000_000}, log)
	mon := quality.NewMonitor(quality.Config{})
	brk := broker.NewBroker(broker.Config{}, fixedPrices{})
	registry := theory.NewDefaultRegistry()

	eng := engine.NewEngine(engine.Config{}, registry, alloc, brk, guard, fixedPrices{}, log)

	return NewServer(":0", secret, eng, guard, mon, alloc, nil, nil, log)
}

func TestHealthz_NoAuthRequired(t *testing.T) {
	s := testServer(t, "topsecret")

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	s.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestV1Routes_RejectMissingBearerToken(t *testing.T) {
	s := testServer(t, "topsecret")

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/runs/status", nil)
	s.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestIssueToken_WrongSecretRejected(t *testing.T) {
	s := testServer(t, "topsecret")

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/auth", nil)
	req.Header.Set("X-Operator-Token", "wrong")
	s.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestIssueTokenThenAccessProtectedRoute(t *testing.T) {
	s := testServer(t, "topsecret")

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/auth", nil)
	req.Header.Set("X-Operator-Token", "topsecret")
	s.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/v1/runs/status", nil)
	req.Header.Set("Authorization", "Bearer "+resp.Token)
	s.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestStartRun_WithoutAuthSecretConfigured(t *testing.T) {
	s := testServer(t, "")

	body, err := json.Marshal(model.RunParams{
		Universe:            []string{"AAPL"},
		Theories:            []string{"mean_revert"},
		MaxConcurrency:      4,
		MaxTradesPerMinute:  10,
		MaxExposureNotional: 100000,
		MaxOpenTrades:       5,
	})
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/runs", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	s.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		RunID string `json:"run_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.RunID)

	s.engine.Stop()
}

func TestGuardrailState_ReturnsRiskSnapshot(t *testing.T) {
	s := testServer(t, "")

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/guardrail", nil)
	s.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var state guardrail.RiskState
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &state))
	assert.Equal(t, 1_000_000.0, state.PortfolioValue)
}
