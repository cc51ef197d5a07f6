// Package bandit implements the theory allocator (C4): per-theory arms
// with exponential decay, and Thompson/UCB1/epsilon-greedy allocation and
// update. Grounded on original_source/backend/app/paper/allocator.py.
package bandit

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

const (
	AlgoThompson  = "thompson"
	AlgoUCB1      = "ucb1"
	AlgoEpsilon   = "epsilon_greedy"

	ucbSoftmaxTemperature = 2.0
)

// Arm is the bandit-side state for one theory.
type Arm struct {
	TheoryID string `json:"theory_id"`

	Alpha float64 `json:"alpha"`
	Beta  float64 `json:"beta"`

	AlphaDecayed float64 `json:"alpha_decayed"`
	BetaDecayed  float64 `json:"beta_decayed"`

	UCBCumReward   float64 `json:"ucb_cum_reward"`
	UCBSelections  float64 `json:"ucb_selections"`
	RecentReward   float64 `json:"recent_reward"`
	RecentSelected float64 `json:"recent_selections"`

	TotalTrades   int     `json:"total_trades"`
	WinningTrades int     `json:"winning_trades"`
	TotalPnLBps   float64 `json:"total_pnl_bps"`

	LastUpdate       time.Time `json:"last_update"`
	LastAllocWeight  float64   `json:"last_allocation_weight"`
}

// Config configures the allocator, mirroring the spec's §6 config surface.
type Config struct {
	Algorithm     string
	DecayFactor   float64
	MinAllocation float64
	UCBConstant   float64
	Epsilon       float64
	Rand          *rand.Rand // optional, for deterministic tests (scenario 3)
}

func defaultConfig(cfg Config) Config {
	if cfg.Algorithm == "" {
		cfg.Algorithm = AlgoThompson
	}
	if cfg.DecayFactor == 0 {
		cfg.DecayFactor = 0.995
	}
	if cfg.MinAllocation == 0 {
		cfg.MinAllocation = 0.05
	}
	if cfg.UCBConstant == 0 {
		cfg.UCBConstant = 1.0
	}
	if cfg.Epsilon == 0 {
		cfg.Epsilon = 0.1
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return cfg
}

// AllocationResult is the return shape of Allocate.
type AllocationResult struct {
	Allocations    map[string]float64 `json:"allocations"`
	Selected       string             `json:"selected"`
	Confidence     float64            `json:"confidence"`
	AlgorithmState string             `json:"algorithm_state"`
}

// Allocator owns the bandit arms exclusively; only it mutates them.
type Allocator struct {
	mu   sync.Mutex
	cfg  Config
	arms map[string]*Arm
}

func NewAllocator(cfg Config) *Allocator {
	return &Allocator{cfg: defaultConfig(cfg), arms: make(map[string]*Arm)}
}

// AddTheory idempotently initializes an arm with alpha=beta=1 and zero
// accumulators, per spec.md §4.4 and the data-model invariant that arm
// creation is idempotent.
func (a *Allocator) AddTheory(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.addTheoryLocked(id)
}

func (a *Allocator) addTheoryLocked(id string) *Arm {
	if arm, ok := a.arms[id]; ok {
		return arm
	}
	arm := &Arm{
		TheoryID:     id,
		Alpha:        1,
		Beta:         1,
		AlphaDecayed: 1,
		BetaDecayed:  1,
	}
	a.arms[id] = arm
	return arm
}

// Allocate applies decay to every arm's decayed counters, scores available
// theories by the configured algorithm, and returns weights that sum to 1
// with each >= MinAllocation. An empty theory list returns an empty
// allocation with a reserved "none" selection — allocator operations never
// fail, per spec.md §4.4's failure semantics.
func (a *Allocator) Allocate(available []string) AllocationResult {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, id := range available {
		a.addTheoryLocked(id)
	}

	// Decay is applied to every arm's decayed counters on every allocate
	// call, regardless of the active algorithm — concept-drift handling
	// independent of algorithm choice (allocator.py's _apply_decay).
	for _, arm := range a.arms {
		arm.AlphaDecayed = 1 + (arm.AlphaDecayed-1)*a.cfg.DecayFactor
		arm.BetaDecayed = 1 + (arm.BetaDecayed-1)*a.cfg.DecayFactor
		arm.RecentReward *= a.cfg.DecayFactor
		arm.RecentSelected *= a.cfg.DecayFactor
	}

	if len(available) == 0 {
		return AllocationResult{Allocations: map[string]float64{}, Selected: "none", AlgorithmState: a.cfg.Algorithm}
	}

	var result AllocationResult
	switch a.cfg.Algorithm {
	case AlgoUCB1:
		result = a.ucb1Locked(available)
	case AlgoEpsilon:
		result = a.epsilonGreedyLocked(available)
	default:
		result = a.thompsonLocked(available)
	}

	for id, w := range result.Allocations {
		a.arms[id].LastAllocWeight = w
	}
	return result
}

func (a *Allocator) thompsonLocked(available []string) AllocationResult {
	samples := make(map[string]float64, len(available))
	best := available[0]
	bestSample := -1.0
	for _, id := range available {
		arm := a.arms[id]
		s := sampleBeta(a.cfg.Rand, arm.AlphaDecayed, arm.BetaDecayed)
		samples[id] = s
		if s > bestSample {
			bestSample = s
			best = id
		}
	}
	weights := normalizeWithFloor(samples, available, a.cfg.MinAllocation)
	return AllocationResult{
		Allocations:    weights,
		Selected:       best,
		Confidence:     weights[best],
		AlgorithmState: AlgoThompson,
	}
}

func (a *Allocator) ucb1Locked(available []string) AllocationResult {
	var totalSelections float64
	for _, id := range available {
		totalSelections += a.arms[id].UCBSelections
	}
	logT := math.Log(math.Max(totalSelections, 1))

	scores := make(map[string]float64, len(available))
	best := available[0]
	bestScore := math.Inf(-1)
	hasInf := false
	for _, id := range available {
		arm := a.arms[id]
		var score float64
		if arm.UCBSelections == 0 {
			score = math.Inf(1)
			hasInf = true
		} else {
			mean := arm.UCBCumReward / arm.UCBSelections
			score = mean + a.cfg.UCBConstant*math.Sqrt(2*logT/arm.UCBSelections)
		}
		scores[id] = score
		if score > bestScore {
			bestScore = score
			best = id
		}
	}

	// Clamp a single infinity to a finite large value before softmax.
	if hasInf {
		maxFinite := 0.0
		for _, s := range scores {
			if !math.IsInf(s, 1) && s > maxFinite {
				maxFinite = s
			}
		}
		clamp := maxFinite + 10
		for id, s := range scores {
			if math.IsInf(s, 1) {
				scores[id] = clamp
			}
		}
	}

	weights := softmax(scores, ucbSoftmaxTemperature)
	weights = normalizeWithFloor(weights, available, a.cfg.MinAllocation)
	return AllocationResult{
		Allocations:    weights,
		Selected:       best,
		Confidence:     weights[best],
		AlgorithmState: AlgoUCB1,
	}
}

func (a *Allocator) epsilonGreedyLocked(available []string) AllocationResult {
	best := available[0]
	bestMean := math.Inf(-1)
	for _, id := range available {
		arm := a.arms[id]
		mean := 0.0
		if arm.UCBSelections > 0 {
			mean = arm.UCBCumReward / arm.UCBSelections
		}
		if mean > bestMean {
			bestMean = mean
			best = id
		}
	}

	selected := best
	if a.cfg.Rand.Float64() < a.cfg.Epsilon {
		selected = available[a.cfg.Rand.Intn(len(available))]
	}

	k := len(available)
	floor := a.cfg.MinAllocation
	bulk := 1.0 - float64(k-1)*floor
	weights := make(map[string]float64, k)
	for _, id := range available {
		if id == selected {
			weights[id] = bulk
		} else {
			weights[id] = floor
		}
	}
	return AllocationResult{
		Allocations:    weights,
		Selected:       selected,
		Confidence:     weights[selected],
		AlgorithmState: AlgoEpsilon,
	}
}

// UpdatePerformance records a trade outcome against an arm's cumulative and
// decayed counters.
func (a *Allocator) UpdatePerformance(id string, pnlBps, feesBps float64, wasWinner bool, ts time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	arm := a.addTheoryLocked(id)

	arm.TotalTrades++
	if wasWinner {
		arm.WinningTrades++
	}
	arm.TotalPnLBps += pnlBps
	arm.LastUpdate = ts

	netPnl := pnlBps - feesBps
	if netPnl > 0 {
		arm.AlphaDecayed++
	} else {
		arm.BetaDecayed++
	}

	reward := clamp01((netPnl + 100) / 200)
	arm.UCBCumReward += reward
	arm.UCBSelections++
	arm.RecentReward += reward
	arm.RecentSelected++
}

// GetState serializes all arms for snapshotting. LastUpdate is included;
// unlike the Python source's get_state (which omits last_update from the
// arms payload) the Go snapshot keeps it, since the spec's snapshot
// round-trip property requires set_state(get_state(S))==S for the whole
// arm, and last_update carries diagnostic value with no reason to drop it.
func (a *Allocator) GetState() map[string]Arm {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]Arm, len(a.arms))
	for id, arm := range a.arms {
		out[id] = *arm
	}
	return out
}

func (a *Allocator) SetState(state map[string]Arm) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.arms = make(map[string]*Arm, len(state))
	for id, arm := range state {
		v := arm
		a.arms[id] = &v
	}
}

// GetAllocations returns the last computed weight per theory.
func (a *Allocator) GetAllocations() map[string]float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]float64, len(a.arms))
	for id, arm := range a.arms {
		out[id] = arm.LastAllocWeight
	}
	return out
}

// PerformanceSummary reports cumulative win-rate and PnL per theory.
type PerformanceSummary struct {
	TotalTrades   int     `json:"total_trades"`
	WinningTrades int     `json:"winning_trades"`
	WinRate       float64 `json:"win_rate"`
	TotalPnLBps   float64 `json:"total_pnl_bps"`
}

func (a *Allocator) GetPerformanceSummary() map[string]PerformanceSummary {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]PerformanceSummary, len(a.arms))
	for id, arm := range a.arms {
		winRate := 0.0
		if arm.TotalTrades > 0 {
			winRate = float64(arm.WinningTrades) / float64(arm.TotalTrades)
		}
		out[id] = PerformanceSummary{
			TotalTrades:   arm.TotalTrades,
			WinningTrades: arm.WinningTrades,
			WinRate:       winRate,
			TotalPnLBps:   arm.TotalPnLBps,
		}
	}
	return out
}

// ResetTheory resets one arm back to its prior state, keeping cumulative
// diagnostics but zeroing decayed/UCB accumulators.
func (a *Allocator) ResetTheory(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	old, ok := a.arms[id]
	if !ok {
		return
	}
	a.arms[id] = &Arm{
		TheoryID: id, Alpha: 1, Beta: 1, AlphaDecayed: 1, BetaDecayed: 1,
		TotalTrades: old.TotalTrades, WinningTrades: old.WinningTrades, TotalPnLBps: old.TotalPnLBps,
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func softmax(scores map[string]float64, temperature float64) map[string]float64 {
	maxScore := math.Inf(-1)
	for _, s := range scores {
		if s > maxScore {
			maxScore = s
		}
	}
	var sum float64
	exps := make(map[string]float64, len(scores))
	for id, s := range scores {
		e := math.Exp((s - maxScore) / temperature)
		exps[id] = e
		sum += e
	}
	out := make(map[string]float64, len(scores))
	for id, e := range exps {
		out[id] = e / sum
	}
	return out
}

// normalizeWithFloor renormalizes weights so every entry is >= floor and
// the set sums to 1 (Thompson/UCB1's "renormalized after the floor").
func normalizeWithFloor(weights map[string]float64, ids []string, floor float64) map[string]float64 {
	k := len(ids)
	if k == 0 {
		return map[string]float64{}
	}
	if floor*float64(k) >= 1 {
		floor = 1.0 / float64(k)
	}

	var sum float64
	for _, id := range ids {
		sum += weights[id]
	}

	remaining := 1 - floor*float64(k)
	out := make(map[string]float64, k)
	if sum <= 0 {
		for _, id := range ids {
			out[id] = 1.0 / float64(k)
		}
		return out
	}
	for _, id := range ids {
		out[id] = floor + remaining*(weights[id]/sum)
	}
	return out
}
