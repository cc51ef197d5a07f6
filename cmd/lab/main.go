// Command lab wires every component into a running paper-trading lab:
// config, logger, durability, the engine and its collaborators, the
// nightly learning job, and the control-plane HTTP server. Grounded on
// auto_trader.go's goroutine/WaitGroup/stop-channel shutdown idiom,
// generalized here to golang.org/x/sync/errgroup since the process now
// supervises several independent long-running loops (API server,
// snapshot ticker, nightly job ticker, market scheduler) rather than one.
package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"ziggylab/internal/api"
	"ziggylab/internal/bandit"
	"ziggylab/internal/broker"
	"ziggylab/internal/config"
	"ziggylab/internal/durability"
	"ziggylab/internal/engine"
	"ziggylab/internal/feature"
	"ziggylab/internal/feed"
	"ziggylab/internal/guardrail"
	"ziggylab/internal/hub"
	"ziggylab/internal/learner"
	"ziggylab/internal/learnjob"
	"ziggylab/internal/logging"
	"ziggylab/internal/metrics"
	"ziggylab/internal/model"
	"ziggylab/internal/quality"
	"ziggylab/internal/store"
	"ziggylab/internal/theory"
)

func main() {
	startTime := time.Now()
	cfg := config.Load()
	log := logging.New(cfg.LogLevel, nil)
	metrics.Init()

	eventStore, err := store.Open(cfg.EventLogDBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open event log store")
	}
	defer eventStore.Close()

	priceFeed := buildFeed()

	brk := broker.NewBroker(broker.Config{}, feed.ReferenceAdapter{Feed: priceFeed})
	guard := guardrail.NewGuardrail(guardrail.Limits{
		MaxDDDay:           cfg.MaxDDDay,
		MaxDDWeek:          cfg.MaxDDWeek,
		MaxExposure:        cfg.MaxExposure,
		MaxSingleTradeRisk: cfg.MaxSingleTradeRisk,
		MaxDailyTrades:     cfg.MaxDailyTrades,
		MaxConcurrentOrder: cfg.MaxConcurrentOrder,
		MinCashReserve:     cfg.MinCashReserve,
	}, guardrail.RiskState{
		PortfolioValue: cfg.InitialPortfolio,
		CashBalance:    cfg.InitialPortfolio,
	}, log)
	mon := quality.NewMonitor(quality.Config{
		VWAPWindow: cfg.QualityVWAPWindow,
		Bucket:     cfg.QualityBucket,
		Retention:  cfg.QualityRetention,
		GoodBps:    cfg.SlippageGoodBps,
		WarnBps:    cfg.SlippageWarnBps,
		PoorBps:    cfg.SlippagePoorBps,
	})
	alloc := bandit.NewAllocator(bandit.Config{
		Algorithm:     cfg.BanditAlgorithm,
		DecayFactor:   cfg.DecayFactor,
		MinAllocation: cfg.MinAllocation,
		UCBConstant:   cfg.UCBConstant,
		Epsilon:       cfg.Epsilon,
	})
	registry := theory.NewDefaultRegistry()
	eng := engine.NewEngine(engine.Config{
		MicrotradeNotional: cfg.MicrotradeNotional,
	}, registry, alloc, brk, guard, feed.ReferenceAdapter{Feed: priceFeed}, log)

	lrn := learner.NewLearner(learner.Config{})
	broadcastHub := hub.NewHub(log)

	durMgr := durability.NewManager(cfg.SnapshotPath, log)
	registerDurableComponents(durMgr, alloc, guard, mon, brk, lrn)

	if report := durMgr.RestoreAll(); !report.OK() {
		logFailures(log, "snapshot restore", report)
	}

	wireEngineHooks(eng, mon, broadcastHub, eventStore, log)

	server := api.NewServer(cfg.ControlPlaneAddr, cfg.OperatorAuthToken, eng, guard, mon, alloc, eventStore, durMgr, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return server.Run() })
	g.Go(func() error { return runSnapshotLoop(gctx, durMgr, cfg.SnapshotInterval, startTime, log) })
	g.Go(func() error { return runNightlyLearnJob(gctx, eventStore, cfg, log) })

	if synth, ok := priceFeed.(*feed.Synthetic); ok {
		g.Go(func() error { return runMarketScheduler(gctx, synth, registry, eng, log) })
	}

	<-ctx.Done()
	log.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("control plane shutdown error")
	}
	eng.Stop()
	if report := durMgr.SaveAll(); !report.OK() {
		logFailures(log, "final snapshot save", report)
	}

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("a supervised loop exited with an error")
	}
}

func logFailures(log zerolog.Logger, phase string, report durability.Report) {
	for _, res := range report.Results {
		if res.Err != nil {
			log.Warn().Str("component", res.Component).Err(res.Err).Msgf("%s failed", phase)
		}
	}
}

// buildFeed selects Alpaca when credentials are present in the
// environment and falls back to the synthetic feed for local runs.
func buildFeed() feed.PriceFeed {
	apiKey := os.Getenv("ALPACA_API_KEY")
	apiSecret := os.Getenv("ALPACA_API_SECRET")
	if apiKey != "" && apiSecret != "" {
		return feed.NewAlpaca(apiKey, apiSecret)
	}
	return feed.NewSynthetic(time.Now().UnixNano(), 100, 0.001)
}

// registerDurableComponents wires C1/C4/C6/C8's GetState/SetState pairs
// into the manager, each Load closure doing its own json.Unmarshal
// against the concrete type its component expects — no generic helper,
// matching the rest of the codebase's non-generic style.
func registerDurableComponents(
	durMgr *durability.Manager,
	alloc *bandit.Allocator,
	guard *guardrail.Guardrail,
	mon *quality.Monitor,
	brk *broker.Broker,
	lrn *learner.Learner,
) {
	durMgr.Register(durability.Component{
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
	durMgr.Register(durability.Component{
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
	durMgr.Register(durability.Component{
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
	durMgr.Register(durability.Component{
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
	durMgr.Register(durability.Component{
		Name: "learner",
		Save: func() (any, error) { return lrn.GetState(), nil },
		Load: func(raw json.RawMessage) error {
			var state learner.State
			if err := json.Unmarshal(raw, &state); err != nil {
				return err
			}
			return lrn.SetState(state)
		},
	})
}

// wireEngineHooks connects the engine's best-effort fill callbacks to the
// execution-quality monitor, the broadcast hub, and the event-log store.
// The recorded event's ProbUp is the signal's confidence as a rough
// stand-in for a calibrated probability; Label is left unset here since
// the trade's realized outcome is not known at fill time — a
// reconciliation step that revisits open positions once they close and
// backfills Label is future work, not built by this entrypoint.
func wireEngineHooks(eng *engine.Engine, mon *quality.Monitor, broadcastHub *hub.Hub, eventStore *store.Store, log zerolog.Logger) {
	eng.SetQualityHook(func(sig model.Signal, fill model.Fill, submitTime time.Time) {
		mon.RecordExecution(quality.ExecutionInput{
			ExecutionID: fill.OrderRef,
			Symbol:      fill.Symbol,
			Side:        fill.Side,
			Quantity:    fill.Qty,
			FillPrice:   fill.AvgPrice,
			FillTime:    fill.FillTime,
			Venue:       "sim",
			SubmitTime:  submitTime,
			Commission:  fill.Fees,
		})
		metrics.RecordExecution("sim", fill.Symbol, fill.SlippageBps)
		broadcastHub.BroadcastToType(fill, "fills")
	})

	eng.SetLearnerHook(func(sig model.Signal, fill model.Fill) {
		prob := sig.Confidence
		if sig.Side == model.Sell {
			prob = 1 - prob
		}
		ev := learnjob.Event{Timestamp: fill.FillTime, Symbol: sig.Symbol, ProbUp: &prob}
		if err := eventStore.RecordEvent(ev); err != nil {
			log.Warn().Err(err).Str("symbol", sig.Symbol).Msg("failed to record learning event")
		}
		metrics.RecordLearnerUpdate()
	})
}

func runSnapshotLoop(ctx context.Context, durMgr *durability.Manager, interval time.Duration, startTime time.Time, log zerolog.Logger) error {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if report := durMgr.SaveAll(); !report.OK() {
				log.Warn().Msg("periodic snapshot save had component failures")
			}
			metrics.SetUptime(time.Since(startTime).Seconds())
		}
	}
}

func runNightlyLearnJob(ctx context.Context, eventStore *store.Store, cfg config.Config, log zerolog.Logger) error {
	reportStore := learnjob.NewFileReportStore(cfg.LearnReportPath)
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			result := learnjob.RunNightlyJob(eventStore, reportStore, 30, cfg.DriftThreshold, time.Now(), log)
			if result.Status == "error" {
				log.Warn().Str("error", result.Error).Msg("nightly learning job failed")
			}
		}
	}
}

// runMarketScheduler drives the synthetic feed's clock and feeds bars
// through the feature pipeline into every enabled theory, submitting
// whatever signals they generate to the engine. This loop only runs
// against the synthetic feed; this entrypoint has no polling loop for a
// live Alpaca feed and never calls feed.Alpaca.RefreshQuote.
func runMarketScheduler(ctx context.Context, synth *feed.Synthetic, registry *theory.Registry, eng *engine.Engine, log zerolog.Logger) error {
	computer := feature.NewComputer(200)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			status := eng.GetStatus()
			if status.RunState != model.RunRunning {
				continue
			}
			synth.Tick()

			params := eng.Params()
			for _, symbol := range params.Universe {
				q, ok := synth.LastQuote(symbol)
				if !ok {
					continue
				}
				computer.AddBar(model.PriceBar{
					Symbol: symbol, Timestamp: q.Timestamp,
					Open: q.Price, High: q.Price, Low: q.Price, Close: q.Price,
					Volume: q.Volume,
				})
				features, ok := computer.ComputeFeatures(symbol)
				if !ok {
					continue
				}
				for _, theoryID := range params.Theories {
					th, ok := registry.Get(theoryID)
					if !ok || !th.Enabled() {
						continue
					}
					for _, sig := range th.GenerateSignals(features) {
						if !eng.SubmitSignal(sig) {
							metrics.RecordDrop(status.RunID, "signal_queue_full")
						}
					}
				}
			}
		}
	}
}
