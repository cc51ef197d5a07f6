// Package engine implements the trade engine (C5): signal intake, rate
// limiting, concurrency control, exposure accounting, and order
// submission. Grounded on spec.md §4.5, with the background-task
// goroutine/WaitGroup/stop-channel lifecycle pattern absorbed from
// trader/auto_trader.go.
package engine

import (
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"ziggylab/internal/bandit"
	"ziggylab/internal/broker"
	"ziggylab/internal/guardrail"
	"ziggylab/internal/metrics"
	"ziggylab/internal/model"
	"ziggylab/internal/theory"
)

const (
	defaultSignalQueueCap = 10_000
	defaultTradeQueueCap  = 10_000
	defaultStatsInterval  = 10 * time.Second
	defaultJanitorInterval = 5 * time.Second
	rateLimitWindow       = 60 * time.Second
)

// Config is the deployment-level surface, independent of one run's
// params (which arrive via Start).
type Config struct {
	AssetClass          string
	MicrotradeNotional  float64
	SignalQueueCap      int
	TradeQueueCap       int
	StatsInterval       time.Duration
	JanitorInterval     time.Duration
	Rand                *rand.Rand
}

func defaultConfig(cfg Config) Config {
	if cfg.AssetClass == "" {
		cfg.AssetClass = "equity"
	}
	if cfg.MicrotradeNotional == 0 {
		cfg.MicrotradeNotional = 25.0
	}
	if cfg.SignalQueueCap == 0 {
		cfg.SignalQueueCap = defaultSignalQueueCap
	}
	if cfg.TradeQueueCap == 0 {
		cfg.TradeQueueCap = defaultTradeQueueCap
	}
	if cfg.StatsInterval == 0 {
		cfg.StatsInterval = defaultStatsInterval
	}
	if cfg.JanitorInterval == 0 {
		cfg.JanitorInterval = defaultJanitorInterval
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return cfg
}

// TheoryStats is the per-theory counter set in a status report or run
// summary.
type TheoryStats struct {
	Count    int     `json:"count"`
	Notional float64 `json:"notional"`
	Fees     float64 `json:"fees"`
}

// Status is get_status()'s return shape.
type Status struct {
	RunState    string                  `json:"status"`
	RunID       string                  `json:"run_id"`
	UptimeSecs  float64                 `json:"uptime_secs"`
	QueueDepth  int                     `json:"queue_depth"`
	TradesPerMin float64                `json:"trades_per_minute"`
	OpenTrades  int                     `json:"open_trades"`
	TotalPnL    float64                 `json:"total_pnl"`
	DropCount   int64                   `json:"drop_count"`
	ErrorCount  int64                   `json:"error_count"`
	LastError   string                  `json:"last_error,omitempty"`
	TheoryStats map[string]TheoryStats  `json:"theory_stats"`
}

// Summary is the stop()-time run summary.
type Summary struct {
	RunID          string                     `json:"run_id"`
	TheoryStats    map[string]TheoryStats     `json:"theory_stats"`
	Broker         broker.PerformanceSummary  `json:"broker_performance"`
	DropCount      int64                      `json:"drop_count"`
	ErrorCount     int64                      `json:"error_count"`
}

// LearnerHook and QualityHook are fire-and-forget ingest seams the
// submission task calls best-effort on a successful fill; nil hooks are
// skipped.
type LearnerHook func(sig model.Signal, fill model.Fill)
type QualityHook func(sig model.Signal, fill model.Fill, submitTime time.Time)

// Engine is the single per-run orchestrator named in spec.md §4.5. Not a
// singleton: one Engine per run.
type Engine struct {
	cfg      Config
	registry *theory.Registry
	alloc    *bandit.Allocator
	brk      *broker.Broker
	guard    *guardrail.Guardrail
	prices   broker.ReferencePriceSource
	log      zerolog.Logger

	learnerHook LearnerHook
	qualityHook QualityHook

	mu        sync.Mutex
	status    string
	runID     string
	params    model.RunParams
	startedAt time.Time

	signalQueue chan model.Signal
	tradeQueue  chan model.TradeRequest
	sem         chan struct{}
	stopCh      chan struct{}
	wg          sync.WaitGroup

	exposureMu sync.Mutex
	exposure   map[string]float64

	rateMu sync.Mutex
	window []time.Time

	statsMu     sync.Mutex
	theoryStats map[string]*TheoryStats
	lastError   string

	dropCount  int64
	errorCount int64
}

func NewEngine(cfg Config, registry *theory.Registry, alloc *bandit.Allocator, brk *broker.Broker, guard *guardrail.Guardrail, prices broker.ReferencePriceSource, log zerolog.Logger) *Engine {
	return &Engine{
		cfg:      defaultConfig(cfg),
		registry: registry,
		alloc:    alloc,
		brk:      brk,
		guard:    guard,
		prices:   prices,
		log:      log,
		status:   model.RunInitializing,
	}
}

// SetLearnerHook/SetQualityHook wire the best-effort ingest callbacks;
// both are optional.
func (e *Engine) SetLearnerHook(h LearnerHook) { e.learnerHook = h }
func (e *Engine) SetQualityHook(h QualityHook) { e.qualityHook = h }

// Params returns the static configuration of the current (or most recent)
// run, for the durability manager to persist; it carries no in-flight
// queue or goroutine state.
func (e *Engine) Params() model.RunParams {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.params
}

// Start validates params, allocates queues/semaphore, and launches the
// four persistent background loops (submission work is dispatched
// per-trade from tradeExecutorLoop, not run as its own loop). Returns the
// run-id.
func (e *Engine) Start(params model.RunParams) (string, error) {
	if len(params.Universe) == 0 {
		return "", fmt.Errorf("engine: universe must not be empty")
	}
	if len(params.Theories) == 0 {
		return "", fmt.Errorf("engine: theories must not be empty")
	}
	if params.MaxConcurrency <= 0 || params.MaxTradesPerMinute <= 0 || params.MaxExposureNotional <= 0 {
		return "", fmt.Errorf("engine: limits must be positive")
	}

	e.mu.Lock()
	if e.status == model.RunRunning {
		e.mu.Unlock()
		return "", fmt.Errorf("engine: already running")
	}
	e.params = params
	e.runID = uuid.NewString()
	e.startedAt = time.Now()
	e.status = model.RunRunning
	e.mu.Unlock()

	e.signalQueue = make(chan model.Signal, e.cfg.SignalQueueCap)
	e.tradeQueue = make(chan model.TradeRequest, e.cfg.TradeQueueCap)
	e.sem = make(chan struct{}, params.MaxConcurrency)
	e.stopCh = make(chan struct{})
	e.exposure = make(map[string]float64)
	e.window = nil

	e.statsMu.Lock()
	e.theoryStats = make(map[string]*TheoryStats)
	for _, id := range params.Theories {
		e.theoryStats[id] = &TheoryStats{}
		e.alloc.AddTheory(id)
	}
	e.statsMu.Unlock()

	// Four persistent background loops; submission tasks are a fifth,
	// dynamically spawned kind per spec.md §4.5 and track their own
	// wg.Add/Done pair in tradeExecutorLoop/submissionTask.
	e.wg.Add(4)
	go e.signalProcessorLoop()
	go e.tradeExecutorLoop()
	go e.statsUpdaterLoop()
	go e.janitorLoop()

	e.log.Info().Str("run_id", e.runID).Strs("universe", params.Universe).Msg("engine started")
	return e.runID, nil
}

// SubmitSignal enqueues a signal if the engine is running and the signal
// queue has room; otherwise it is rejected and the drop counter
// increments when the rejection is due to a full queue.
func (e *Engine) SubmitSignal(sig model.Signal) bool {
	e.mu.Lock()
	running := e.status == model.RunRunning
	e.mu.Unlock()
	if !running {
		return false
	}
	select {
	case e.signalQueue <- sig:
		return true
	default:
		atomic.AddInt64(&e.dropCount, 1)
		return false
	}
}

func (e *Engine) signalProcessorLoop() {
	defer e.wg.Done()
	for {
		select {
		case <-e.stopCh:
			return
		case sig, ok := <-e.signalQueue:
			if !ok {
				return
			}
			e.processSignal(sig)
		}
	}
}

func (e *Engine) processSignal(sig model.Signal) {
	th, ok := e.registry.Get(sig.TheoryID)
	if !ok || !th.Enabled() {
		return
	}

	e.exposureMu.Lock()
	current := e.exposure[sig.Symbol]
	e.exposureMu.Unlock()
	headroom := e.params.MaxExposureNotional - absF(current)
	if headroom <= 0 {
		return
	}

	refPrice, ok := e.prices.LastClose(sig.Symbol)
	if !ok || refPrice <= 0 {
		return
	}

	notional := e.cfg.MicrotradeNotional
	if headroom < notional {
		notional = headroom
	}
	qty := notional / refPrice
	if qty <= 0 {
		return
	}

	sideSign := 1.0
	if sig.Side == model.Sell {
		sideSign = -1.0
	}

	// Reserve the exposure now, synchronously with the cap check, so two
	// signals processed back-to-back can never both see headroom for the
	// same capacity before either trade has actually filled. submissionTask
	// reconciles this reservation to the real fill price, or reverses it
	// entirely on failure.
	e.exposureMu.Lock()
	e.exposure[sig.Symbol] += sideSign * refPrice * qty
	e.exposureMu.Unlock()

	req := model.TradeRequest{Signal: sig, Notional: notional, Qty: qty}
	select {
	case e.tradeQueue <- req:
	default:
		atomic.AddInt64(&e.dropCount, 1)
		e.exposureMu.Lock()
		e.exposure[sig.Symbol] -= sideSign * refPrice * qty
		e.exposureMu.Unlock()
	}
}

func (e *Engine) tradeExecutorLoop() {
	defer e.wg.Done()
	for {
		select {
		case <-e.stopCh:
			return
		case req, ok := <-e.tradeQueue:
			if !ok {
				return
			}
			if !e.admitRateLimit() {
				e.requeueWithBackoff(req)
				continue
			}
			e.sem <- struct{}{}
			e.wg.Add(1)
			go e.submissionTask(req)
		}
	}
}

// admitRateLimit enforces the rolling-60-second-window limiter: it
// prunes expired timestamps and admits the request only if the window is
// still under the configured ceiling, recording the admission atomically
// with the prune under one lock so the count stays exact.
func (e *Engine) admitRateLimit() bool {
	e.rateMu.Lock()
	defer e.rateMu.Unlock()
	now := time.Now()
	cutoff := now.Add(-rateLimitWindow)
	kept := e.window[:0]
	for _, t := range e.window {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	e.window = kept
	if len(e.window) >= e.params.MaxTradesPerMinute {
		return false
	}
	e.window = append(e.window, now)
	return true
}

func (e *Engine) requeueWithBackoff(req model.TradeRequest) {
	jitter := time.Duration(e.cfg.Rand.Intn(30)+10) * time.Millisecond
	time.Sleep(jitter)
	select {
	case e.tradeQueue <- req:
	default:
		atomic.AddInt64(&e.dropCount, 1)
		sideSign := 1.0
		if req.Signal.Side == model.Sell {
			sideSign = -1.0
		}
		if refPrice, ok := e.prices.LastClose(req.Signal.Symbol); ok {
			e.exposureMu.Lock()
			e.exposure[req.Signal.Symbol] -= sideSign * refPrice * req.Qty
			e.exposureMu.Unlock()
		}
	}
}

func (e *Engine) submissionTask(req model.TradeRequest) {
	defer e.wg.Done()
	defer func() { <-e.sem }()

	if e.guard != nil {
		e.guard.OrderOpened()
		defer e.guard.OrderClosed()
	}

	sig := req.Signal
	sideSign := 1.0
	if sig.Side == model.Sell {
		sideSign = -1.0
	}

	refPrice, _ := e.prices.LastClose(sig.Symbol)
	reserved := sideSign * refPrice * req.Qty

	releaseReservation := func() {
		e.exposureMu.Lock()
		e.exposure[sig.Symbol] -= reserved
		e.exposureMu.Unlock()
	}

	if e.guard != nil {
		check := e.guard.CheckTrade(sig.Symbol, sideSign*req.Qty, refPrice, guardrail.Regime{})
		if !check.Allowed {
			releaseReservation()
			e.setLastError(fmt.Sprintf("guardrail blocked %s: %v", sig.Symbol, check.Violations))
			return
		}
	}

	order := model.Order{
		ID:        uuid.NewString(),
		ClientID:  sig.ID,
		Symbol:    sig.Symbol,
		Side:      sig.Side,
		Qty:       req.Qty,
		Type:      model.OrderMarket,
		CreatedAt: time.Now().UTC(),
	}

	submitTime := time.Now()
	fill, err := e.brk.Submit(order, e.cfg.AssetClass)
	if err != nil {
		releaseReservation()
		atomic.AddInt64(&e.errorCount, 1)
		e.setLastError(err.Error())
		return
	}

	e.statsMu.Lock()
	st, ok := e.theoryStats[sig.TheoryID]
	if !ok {
		st = &TheoryStats{}
		e.theoryStats[sig.TheoryID] = st
	}
	st.Count++
	st.Notional += fill.AvgPrice * fill.Qty
	st.Fees += fill.Fees
	e.statsMu.Unlock()

	// Reconcile the reservation (made at refPrice) to the actual fill
	// price; slippage is usually small, but the cap must reflect reality.
	e.exposureMu.Lock()
	e.exposure[sig.Symbol] += sideSign*fill.AvgPrice*fill.Qty - reserved
	currentExposure := e.exposure[sig.Symbol]
	e.exposureMu.Unlock()

	if e.guard != nil {
		e.guard.RecordTradeExecution(sig.Symbol, sideSign*fill.Qty, fill.AvgPrice)
	}

	metrics.RecordTrade(e.runID, sig.TheoryID)
	metrics.SetExposure(e.runID, sig.Symbol, currentExposure)

	if e.learnerHook != nil {
		go e.learnerHook(sig, fill)
	}
	if e.qualityHook != nil {
		go e.qualityHook(sig, fill, submitTime)
	}
}

func (e *Engine) setLastError(msg string) {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	e.lastError = msg
	e.log.Warn().Str("run_id", e.runID).Str("error", msg).Msg("engine submission failure")
}

func (e *Engine) statsUpdaterLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.StatsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.refreshDerivedStats()
		}
	}
}

// refreshDerivedStats runs on the stats-interval cadence: it publishes
// per-symbol exposure, the queue-depth and running-state gauges, and the
// broker's net P&L, fee and open-position gauges from its performance
// summary, and feeds the guardrail's mark-to-market figures so its
// drawdown/exposure/cash-reserve checks evaluate live state instead of
// the values frozen at construction. It also recomputes the bandit's
// decayed allocation weights for the active theory set, since nothing
// else in the run loop calls Allocate.
func (e *Engine) refreshDerivedStats() {
	e.mu.Lock()
	running := e.status == model.RunRunning
	runID := e.runID
	theories := append([]string(nil), e.params.Theories...)
	e.mu.Unlock()

	e.exposureMu.Lock()
	var grossExposure float64
	for symbol, v := range e.exposure {
		grossExposure += absF(v)
		metrics.SetExposure(runID, symbol, v)
	}
	e.exposureMu.Unlock()

	var queueDepth, tradeQueueDepth int
	if e.signalQueue != nil {
		queueDepth = len(e.signalQueue)
	}
	if e.tradeQueue != nil {
		tradeQueueDepth = len(e.tradeQueue)
	}
	metrics.UpdateEngineMetrics(runID, queueDepth, tradeQueueDepth, running)

	if e.brk != nil {
		perf := e.brk.PerformanceSummary()
		openTrades := len(e.brk.Positions())
		metrics.UpdateBrokerMetrics(perf.NetPnL, perf.TotalFees, openTrades)

		if e.guard != nil {
			portfolioValue := e.guard.Stats().PortfolioValue
			cashBalance := portfolioValue - grossExposure + perf.RealizedPnL
			// The engine does not segment fills by calendar boundary and
			// does not call ResetDaily/ResetWeekly, so both mark-to-market
			// figures track the broker's cumulative net PnL.
			e.guard.UpdateRiskMetrics(perf.NetPnL, perf.NetPnL, cashBalance, grossExposure)
		}
	}

	if e.alloc != nil && len(theories) > 0 {
		result := e.alloc.Allocate(theories)
		for theoryID, weight := range result.Allocations {
			metrics.SetBanditWeight(theoryID, weight)
		}
		if result.Selected != "" && result.Selected != "none" {
			metrics.RecordBanditSelection(result.Selected)
		}
	}
}

func (e *Engine) janitorLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.JanitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			errs := atomic.LoadInt64(&e.errorCount)
			drops := atomic.LoadInt64(&e.dropCount)
			if errs > 0 || drops > 0 {
				e.log.Debug().Int64("errors", errs).Int64("drops", drops).Msg("engine janitor snapshot")
			}
		}
	}
}

// GetStatus reports the current run state and derived stats.
func (e *Engine) GetStatus() Status {
	e.mu.Lock()
	status, runID, startedAt := e.status, e.runID, e.startedAt
	e.mu.Unlock()

	e.rateMu.Lock()
	tradesPerMin := float64(len(e.window))
	e.rateMu.Unlock()

	var openTrades int
	var totalPnL float64
	if e.brk != nil {
		openTrades = len(e.brk.Positions())
		totalPnL = e.brk.PerformanceSummary().NetPnL
	}

	e.statsMu.Lock()
	theoryStats := make(map[string]TheoryStats, len(e.theoryStats))
	for k, v := range e.theoryStats {
		theoryStats[k] = *v
	}
	lastError := e.lastError
	e.statsMu.Unlock()

	var queueDepth int
	if e.signalQueue != nil {
		queueDepth = len(e.signalQueue)
	}

	var uptime float64
	if !startedAt.IsZero() {
		uptime = time.Since(startedAt).Seconds()
	}

	return Status{
		RunState:     status,
		RunID:        runID,
		UptimeSecs:   uptime,
		QueueDepth:   queueDepth,
		TradesPerMin: tradesPerMin,
		OpenTrades:   openTrades,
		TotalPnL:     totalPnL,
		DropCount:    atomic.LoadInt64(&e.dropCount),
		ErrorCount:   atomic.LoadInt64(&e.errorCount),
		LastError:    lastError,
		TheoryStats:  theoryStats,
	}
}

// Stop transitions running (or error) -> stopping -> stopped, cancels every
// background task, awaits completion, and returns the run summary. In any
// other state it changes nothing and returns a summary holding only the
// run id.
func (e *Engine) Stop() Summary {
	e.mu.Lock()
	if e.status != model.RunRunning && e.status != model.RunError {
		e.mu.Unlock()
		return Summary{RunID: e.runID}
	}
	e.status = model.RunStopping
	e.mu.Unlock()

	close(e.stopCh)
	e.wg.Wait()

	e.mu.Lock()
	e.status = model.RunStopped
	e.mu.Unlock()

	e.statsMu.Lock()
	theoryStats := make(map[string]TheoryStats, len(e.theoryStats))
	for k, v := range e.theoryStats {
		theoryStats[k] = *v
	}
	e.statsMu.Unlock()

	var perf broker.PerformanceSummary
	if e.brk != nil {
		perf = e.brk.PerformanceSummary()
	}

	return Summary{
		RunID:       e.runID,
		TheoryStats: theoryStats,
		Broker:      perf,
		DropCount:   atomic.LoadInt64(&e.dropCount),
		ErrorCount:  atomic.LoadInt64(&e.errorCount),
	}
}

func absF(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
