// Package config loads the lab's env-configured surface, mirroring the
// teacher's direct os.Getenv style (see market/api_client.go) rather than a
// config-file framework.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is the full environment-configured surface named in the spec's
// external-interfaces section, plus the additional guardrail limits that
// only the original Python implementation enforces.
type Config struct {
	MaxConcurrency      int
	MaxTradesPerMinute  int
	MicrotradeNotional  float64
	MaxExposureNotional float64
	MaxOpenTrades       int
	MaxTradesPerSymbol  int

	MaxDailyTrades     int
	MaxConcurrentOrder int
	InitialPortfolio   float64

	MaxDDDay           float64
	MaxDDWeek          float64
	MaxExposure        float64
	MaxSingleTradeRisk float64
	MinCashReserve     float64

	BanditAlgorithm string
	DecayFactor     float64
	MinAllocation   float64
	UCBConstant     float64
	Epsilon         float64

	WSQueueMaxSize    int
	WSEnqueueTimeout  time.Duration
	WSSendTimeout     time.Duration
	HeartbeatInterval time.Duration

	QualityVWAPWindow  time.Duration
	QualityBucket      time.Duration
	QualityRetention   time.Duration
	SlippageGoodBps    float64
	SlippageWarnBps    float64
	SlippagePoorBps    float64

	LearnReportPath string
	DriftThreshold  float64

	SnapshotPath     string
	SnapshotInterval time.Duration

	ControlPlaneAddr  string
	OperatorAuthToken string
	EventLogDBPath    string

	LogLevel string
}

// Load reads the process environment into a Config, falling back to the
// spec-mandated defaults for anything unset. A .env file in the working
// directory is loaded first if present; its absence is not an error,
// since production deployments set the environment directly.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		MaxConcurrency:      envInt("MAX_CONCURRENCY", 64),
		MaxTradesPerMinute:  envInt("MAX_TRADES_PER_MINUTE", 600),
		MicrotradeNotional:  envFloat("MICROTRADE_NOTIONAL", 25.0),
		MaxExposureNotional: envFloat("MAX_EXPOSURE_NOTIONAL", 10_000),
		MaxOpenTrades:       envInt("MAX_OPEN_TRADES", 1000),
		MaxTradesPerSymbol:  envInt("MAX_TRADES_PER_SYMBOL", 50),

		MaxDailyTrades:     envInt("MAX_DAILY_TRADES", 100),
		MaxConcurrentOrder: envInt("MAX_CONCURRENT_ORDERS", 50),
		InitialPortfolio:   envFloat("INITIAL_PORTFOLIO_VALUE", 1_000_000),

		MaxDDDay:           envFloat("MAX_DD_DAY", 0.03),
		MaxDDWeek:          envFloat("MAX_DD_WEEK", 0.06),
		MaxExposure:        envFloat("MAX_EXPOSURE", 1.5),
		MaxSingleTradeRisk: envFloat("MAX_SINGLE_TRADE_RISK", 0.01),
		MinCashReserve:     envFloat("MIN_CASH_RESERVE", 0.05),

		BanditAlgorithm: envStr("BANDIT_ALGORITHM", "thompson"),
		DecayFactor:     envFloat("DECAY_FACTOR", 0.995),
		MinAllocation:   envFloat("MIN_ALLOCATION", 0.05),
		UCBConstant:     envFloat("UCB_C", 1.0),
		Epsilon:         envFloat("EPSILON", 0.1),

		WSQueueMaxSize:    envInt("WS_QUEUE_MAXSIZE", 100),
		WSEnqueueTimeout:  time.Duration(envInt("WS_ENQUEUE_TIMEOUT_MS", 50)) * time.Millisecond,
		WSSendTimeout:     durationFromSeconds("WS_SEND_TIMEOUT_S", 2.5),
		HeartbeatInterval: durationFromSeconds("HEARTBEAT_INTERVAL_S", 25),

		QualityVWAPWindow: time.Duration(envInt("QUALITY_VWAP_WINDOW_S", 300)) * time.Second,
		QualityBucket:     time.Duration(envInt("QUALITY_BUCKET_MIN", 15)) * time.Minute,
		QualityRetention:  time.Duration(envInt("QUALITY_RETENTION_DAYS", 30)) * 24 * time.Hour,
		SlippageGoodBps:   envFloat("SLIPPAGE_GOOD_BPS", 5),
		SlippageWarnBps:   envFloat("SLIPPAGE_WARNING_BPS", 15),
		SlippagePoorBps:   envFloat("SLIPPAGE_POOR_BPS", 30),

		LearnReportPath: envStr("LEARN_REPORT_PATH", "data/learn_report.json"),
		DriftThreshold:  envFloat("DRIFT_THRESHOLD", 0.02),

		SnapshotPath:     envStr("SNAPSHOT_PATH", "data/snapshot.json"),
		SnapshotInterval: time.Duration(envInt("SNAPSHOT_INTERVAL_MIN", 5)) * time.Minute,

		ControlPlaneAddr:  envStr("CONTROL_PLANE_ADDR", ":8090"),
		OperatorAuthToken: envStr("OPERATOR_AUTH_TOKEN", ""),
		EventLogDBPath:    envStr("EVENT_LOG_DB_PATH", "data/events.db"),

		LogLevel: envStr("LOG_LEVEL", "info"),
	}
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func durationFromSeconds(key string, def float64) time.Duration {
	secs := envFloat(key, def)
	return time.Duration(secs * float64(time.Second))
}
