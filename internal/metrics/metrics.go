// Package metrics exposes prometheus collectors for every component of
// the lab, grouped by subsystem the way the teacher's metrics package
// does (one Vec per measurement, bundled Update* helpers that set several
// related gauges under one lock). Grounded on the teacher's metrics.go,
// re-subsystemed from trader/position/ai to engine/broker/guardrail/
// quality/bandit/learner/hub.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Registry is the custom prometheus registry for the lab's metrics.
	Registry = prometheus.NewRegistry()

	mu sync.RWMutex

	// ============================================
	// Engine metrics (C5)
	// ============================================

	EngineQueueDepth = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "ziggylab",
			Subsystem: "engine",
			Name:      "queue_depth",
			Help:      "Depth of the engine's internal queues",
		},
		[]string{"run_id", "queue"},
	)

	EngineDropsTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ziggylab",
			Subsystem: "engine",
			Name:      "drops_total",
			Help:      "Total number of signals or trade requests dropped",
		},
		[]string{"run_id", "reason"},
	)

	EngineTradesTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ziggylab",
			Subsystem: "engine",
			Name:      "trades_total",
			Help:      "Total number of trades executed per theory",
		},
		[]string{"run_id", "theory_id"},
	)

	EngineExposure = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "ziggylab",
			Subsystem: "engine",
			Name:      "exposure_notional",
			Help:      "Current reserved/filled exposure notional per symbol",
		},
		[]string{"run_id", "symbol"},
	)

	EngineRunning = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "ziggylab",
			Subsystem: "engine",
			Name:      "running",
			Help:      "Whether a run is active (1) or stopped (0)",
		},
		[]string{"run_id"},
	)

	// ============================================
	// Broker metrics (C1)
	// ============================================

	BrokerNetPnL = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ziggylab",
			Subsystem: "broker",
			Name:      "net_pnl",
			Help:      "Broker net P&L across realized and unrealized",
		},
	)

	BrokerFeesTotal = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ziggylab",
			Subsystem: "broker",
			Name:      "fees_total",
			Help:      "Cumulative fees paid",
		},
	)

	BrokerPositionsCount = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ziggylab",
			Subsystem: "broker",
			Name:      "positions_count",
			Help:      "Number of open positions",
		},
	)

	// ============================================
	// Guardrail metrics (C8, risk half)
	// ============================================

	GuardrailViolationsTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ziggylab",
			Subsystem: "guardrail",
			Name:      "violations_total",
			Help:      "Total number of trades blocked per violation type",
		},
		[]string{"violation"},
	)

	GuardrailEmergencyStop = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ziggylab",
			Subsystem: "guardrail",
			Name:      "emergency_stop",
			Help:      "Whether the sticky emergency stop is engaged (1) or not (0)",
		},
	)

	GuardrailExposureRatio = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ziggylab",
			Subsystem: "guardrail",
			Name:      "exposure_ratio",
			Help:      "Current gross exposure as a fraction of portfolio value",
		},
	)

	// ============================================
	// Quality metrics (C8, execution-quality half)
	// ============================================

	QualitySlippageBps = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ziggylab",
			Subsystem: "quality",
			Name:      "slippage_bps",
			Help:      "Execution slippage versus mid-at-submit, in bps",
			Buckets:   []float64{-50, -30, -15, -5, 0, 5, 15, 30, 50},
		},
		[]string{"venue", "symbol"},
	)

	QualityExecutionsTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ziggylab",
			Subsystem: "quality",
			Name:      "executions_total",
			Help:      "Total number of executions recorded per venue",
		},
		[]string{"venue"},
	)

	// ============================================
	// Bandit metrics (C4)
	// ============================================

	BanditArmWeight = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "ziggylab",
			Subsystem: "bandit",
			Name:      "arm_weight",
			Help:      "Last computed allocation weight per theory",
		},
		[]string{"theory_id"},
	)

	BanditArmSelections = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ziggylab",
			Subsystem: "bandit",
			Name:      "arm_selections_total",
			Help:      "Total number of times a theory's arm was updated",
		},
		[]string{"theory_id"},
	)

	// ============================================
	// Learner metrics (C6, C10)
	// ============================================

	LearnerBrierScore = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "ziggylab",
			Subsystem: "learner",
			Name:      "brier_score",
			Help:      "Most recent Brier score per feature family (\"overall\" for the aggregate)",
		},
		[]string{"family"},
	)

	LearnerDriftFlag = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "ziggylab",
			Subsystem: "learner",
			Name:      "drift_flag",
			Help:      "Whether the nightly job flagged drift for a feature family (1) or not (0)",
		},
		[]string{"family"},
	)

	LearnerUpdatesTotal = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: "ziggylab",
			Subsystem: "learner",
			Name:      "updates_total",
			Help:      "Total number of online learner partial-fit updates",
		},
	)

	// ============================================
	// Hub metrics (C7)
	// ============================================

	HubSubscribersCount = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ziggylab",
			Subsystem: "hub",
			Name:      "subscribers_count",
			Help:      "Number of connected broadcast subscribers",
		},
	)

	HubBroadcastsTotal = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: "ziggylab",
			Subsystem: "hub",
			Name:      "broadcasts_total",
			Help:      "Total number of messages broadcast",
		},
	)

	HubDroppedTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ziggylab",
			Subsystem: "hub",
			Name:      "dropped_total",
			Help:      "Total number of messages dropped per reason",
		},
		[]string{"reason"},
	)

	// ============================================
	// System metrics
	// ============================================

	SystemUptime = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ziggylab",
			Subsystem: "system",
			Name:      "uptime_seconds",
			Help:      "Process uptime in seconds",
		},
	)
)

// UpdateEngineMetrics sets every engine gauge for one run under a single
// lock, mirroring the status snapshot the control-plane API reports.
func UpdateEngineMetrics(runID string, signalQueueDepth, tradeQueueDepth int, running bool) {
	mu.Lock()
	defer mu.Unlock()

	EngineQueueDepth.WithLabelValues(runID, "signal").Set(float64(signalQueueDepth))
	EngineQueueDepth.WithLabelValues(runID, "trade").Set(float64(tradeQueueDepth))
	val := 0.0
	if running {
		val = 1.0
	}
	EngineRunning.WithLabelValues(runID).Set(val)
}

// RecordDrop increments the engine drop counter for one reason.
func RecordDrop(runID, reason string) {
	EngineDropsTotal.WithLabelValues(runID, reason).Inc()
}

// RecordTrade increments the per-theory trade counter.
func RecordTrade(runID, theoryID string) {
	EngineTradesTotal.WithLabelValues(runID, theoryID).Inc()
}

// SetExposure sets the current exposure notional for one symbol.
func SetExposure(runID, symbol string, notional float64) {
	EngineExposure.WithLabelValues(runID, symbol).Set(notional)
}

// UpdateBrokerMetrics sets the broker-wide performance gauges.
func UpdateBrokerMetrics(netPnL, feesTotal float64, positionsCount int) {
	mu.Lock()
	defer mu.Unlock()

	BrokerNetPnL.Set(netPnL)
	BrokerFeesTotal.Set(feesTotal)
	BrokerPositionsCount.Set(float64(positionsCount))
}

// RecordGuardrailViolation increments the violation counter for one
// violation type.
func RecordGuardrailViolation(violation string) {
	GuardrailViolationsTotal.WithLabelValues(violation).Inc()
}

// SetGuardrailState updates the guardrail gauges from a risk snapshot.
func SetGuardrailState(emergencyStop bool, exposureRatio float64) {
	mu.Lock()
	defer mu.Unlock()

	val := 0.0
	if emergencyStop {
		val = 1.0
	}
	GuardrailEmergencyStop.Set(val)
	GuardrailExposureRatio.Set(exposureRatio)
}

// RecordExecution observes one execution's slippage and increments the
// per-venue execution counter.
func RecordExecution(venue, symbol string, slippageBps float64) {
	QualitySlippageBps.WithLabelValues(venue, symbol).Observe(slippageBps)
	QualityExecutionsTotal.WithLabelValues(venue).Inc()
}

// SetBanditWeight sets the last computed allocation weight for a theory.
func SetBanditWeight(theoryID string, weight float64) {
	BanditArmWeight.WithLabelValues(theoryID).Set(weight)
}

// RecordBanditSelection increments the per-theory arm-update counter.
func RecordBanditSelection(theoryID string) {
	BanditArmSelections.WithLabelValues(theoryID).Inc()
}

// SetLearnerReport publishes the overall and per-family Brier scores plus
// drift flags from the most recent nightly report.
func SetLearnerReport(overallBrier float64, brierByFamily map[string]float64, driftFlags map[string]bool) {
	mu.Lock()
	defer mu.Unlock()

	LearnerBrierScore.WithLabelValues("overall").Set(overallBrier)
	for family, score := range brierByFamily {
		LearnerBrierScore.WithLabelValues(family).Set(score)
	}
	for family, flagged := range driftFlags {
		val := 0.0
		if flagged {
			val = 1.0
		}
		LearnerDriftFlag.WithLabelValues(family).Set(val)
	}
}

// RecordLearnerUpdate increments the online-learner update counter.
func RecordLearnerUpdate() {
	LearnerUpdatesTotal.Inc()
}

// SetHubSubscribers sets the current subscriber count.
func SetHubSubscribers(count int) {
	HubSubscribersCount.Set(float64(count))
}

// RecordBroadcast increments the broadcast counter.
func RecordBroadcast() {
	HubBroadcastsTotal.Inc()
}

// RecordHubDrop increments the hub drop counter for one reason.
func RecordHubDrop(reason string) {
	HubDroppedTotal.WithLabelValues(reason).Inc()
}

// SetUptime sets the process uptime gauge.
func SetUptime(seconds float64) {
	SystemUptime.Set(seconds)
}

// Init registers the standard go/process collectors alongside the
// package's own metrics.
func Init() {
	Registry.MustRegister(prometheus.NewGoCollector())
	Registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
}
