// Package learner implements the online learner (C6): an incremental
// model with a choice of backend, standard-scaled features via a shared
// running-statistics scaler, and durable state for snapshotting. Grounded
// on original_source/backend/app/paper/learner.py.
package learner

import (
	"fmt"
	"io"

	"github.com/rs/zerolog"
)

const (
	TaskClassification = "classification"
	TaskRegression     = "regression"

	BackendLinear   = "linear_sgd"
	BackendNeural   = "feedforward"
	BackendFallback = "fallback"
	BackendAuto     = "auto"
)

// Config selects the learner's task type and preferred backend.
type Config struct {
	TaskType    string
	Backend     string // "auto" degrades neural -> linear -> fallback
	FeatureDim  int
	HiddenDim   int
	BufferSize  int
	Seed        int64
	// Log is optional; a nil value discards the one-time backend-choice
	// log line instead of logging it.
	Log *zerolog.Logger
}

func defaultConfig(cfg Config) Config {
	if cfg.TaskType == "" {
		cfg.TaskType = TaskClassification
	}
	if cfg.Backend == "" {
		cfg.Backend = BackendAuto
	}
	if cfg.HiddenDim == 0 {
		cfg.HiddenDim = 8
	}
	if cfg.BufferSize == 0 {
		cfg.BufferSize = 1000
	}
	if cfg.Log == nil {
		discard := zerolog.New(io.Discard)
		cfg.Log = &discard
	}
	return cfg
}

// Batch is one fitted batch, retained in a bounded ring buffer for
// optional experience replay.
type Batch struct {
	Features     [][]float64
	Labels       []float64
	SampleWeight []float64
}

// PredictionResult mirrors the Python source's PredictionResult.
type PredictionResult struct {
	Predictions   []float64 `json:"predictions"`
	Probabilities []float64 `json:"probabilities,omitempty"`
	Confidence    []float64 `json:"confidence,omitempty"`
}

// Explanation reports per-feature importance and, where available, the
// per-feature contribution to one prediction.
type Explanation struct {
	FeatureImportance []float64 `json:"feature_importance,omitempty"`
	Contributions     []float64 `json:"contributions,omitempty"`
	Unsupported       bool      `json:"unsupported,omitempty"`
}

// Learner is the task-agnostic incremental model described by spec.md
// §4.6. Constructed explicitly by the caller; not a singleton.
type Learner struct {
	cfg Config

	backend string
	scaler  *RunningScaler
	linear  *linearModel
	neural  *neuralModel

	isFitted bool
	buffer   []Batch

	loggedBackendChoice bool
}

// NewLearner selects a concrete backend deterministically: the requested
// backend if usable, else linear_sgd, else fallback — logged exactly
// once, per spec.md §4.6's degrade-and-log-once requirement. In this Go
// port every backend is always "available" (none depend on an optional
// runtime library, unlike sklearn/torch in the source); the chain still
// runs for an explicitly-neural request with no FeatureDim configured,
// which cannot construct a net and degrades to linear_sgd.
func NewLearner(cfg Config) *Learner {
	cfg = defaultConfig(cfg)
	l := &Learner{cfg: cfg, scaler: NewRunningScaler(cfg.FeatureDim)}
	l.backend = l.selectBackend(cfg.Backend)
	l.logBackendChoice()
	return l
}

func (l *Learner) selectBackend(requested string) string {
	switch requested {
	case BackendNeural, BackendAuto:
		if l.cfg.FeatureDim > 0 {
			l.neural = newNeuralModel(l.cfg.FeatureDim, l.cfg.HiddenDim, l.cfg.Seed)
			return BackendNeural
		}
		l.linear = newLinearModel()
		return BackendLinear
	case BackendLinear:
		l.linear = newLinearModel()
		return BackendLinear
	default:
		l.linear = newLinearModel()
		return BackendFallback
	}
}

func (l *Learner) logBackendChoice() {
	if l.loggedBackendChoice {
		return
	}
	l.loggedBackendChoice = true
	l.cfg.Log.Info().Str("backend", l.backend).Str("task_type", l.cfg.TaskType).Msg("learner backend selected")
}

// PartialFit updates the model with one batch and returns its training
// metrics (accuracy for classification, mse for regression).
func (l *Learner) PartialFit(X [][]float64, y []float64, sampleWeight []float64) map[string]float64 {
	if len(X) == 0 || len(y) == 0 {
		return map[string]float64{}
	}

	l.buffer = append(l.buffer, Batch{Features: X, Labels: y, SampleWeight: sampleWeight})
	if len(l.buffer) > l.cfg.BufferSize {
		l.buffer = l.buffer[1:]
	}

	for _, x := range X {
		l.scaler.Update(x)
	}
	scaledX := make([][]float64, len(X))
	for i, x := range X {
		scaledX[i] = l.scaler.Transform(x)
	}

	switch l.backend {
	case BackendNeural:
		l.neural.partialFit(l.cfg.TaskType, scaledX, y, sampleWeight)
	default:
		l.linear.partialFit(l.cfg.TaskType, scaledX, y, sampleWeight)
	}
	l.isFitted = true

	return l.batchMetrics(scaledX, y)
}

func (l *Learner) batchMetrics(scaledX [][]float64, y []float64) map[string]float64 {
	var correct, sqErrSum float64
	for i, x := range scaledX {
		pred := l.predictOne(x)
		if l.cfg.TaskType == TaskClassification {
			if pred == y[i] {
				correct++
			}
		} else {
			d := pred - y[i]
			sqErrSum += d * d
		}
	}
	if l.cfg.TaskType == TaskClassification {
		return map[string]float64{"accuracy": correct / float64(len(y))}
	}
	return map[string]float64{"mse": sqErrSum / float64(len(y))}
}

func (l *Learner) predictOne(scaledX []float64) float64 {
	if l.backend == BackendNeural {
		return l.neural.predict(l.cfg.TaskType, scaledX)
	}
	return l.linear.predict(l.cfg.TaskType, scaledX)
}

// Predict scores a batch. Unfitted models return zero predictions, per
// the source's is_fitted guard.
func (l *Learner) Predict(X [][]float64) PredictionResult {
	if !l.isFitted {
		return PredictionResult{Predictions: make([]float64, len(X))}
	}

	result := PredictionResult{Predictions: make([]float64, len(X))}
	if l.cfg.TaskType == TaskClassification {
		result.Probabilities = make([]float64, len(X))
		result.Confidence = make([]float64, len(X))
	}

	for i, x := range X {
		scaled := l.scaler.Transform(x)
		result.Predictions[i] = l.predictOne(scaled)
		if l.cfg.TaskType == TaskClassification {
			var proba float64
			if l.backend == BackendNeural {
				proba = l.neural.predictProba(scaled)
			} else {
				proba = l.linear.predictProba(scaled)
			}
			result.Probabilities[i] = proba
			result.Confidence[i] = maxFloat(proba, 1-proba)
		}
	}
	return result
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// Explain reports feature importance for linear/fallback backends; the
// neural backend has no single-coefficient explanation, matching the
// source's explicit "not implemented for torch backend".
func (l *Learner) Explain(x []float64) Explanation {
	if !l.isFitted || l.backend == BackendNeural {
		return Explanation{Unsupported: true}
	}
	scaled := l.scaler.Transform(x)
	contributions := make([]float64, len(l.linear.Weights))
	for i, w := range l.linear.Weights {
		if i < len(scaled) {
			contributions[i] = w * scaled[i]
		}
	}
	return Explanation{
		FeatureImportance: append([]float64(nil), l.linear.Weights...),
		Contributions:     contributions,
	}
}

// State is the durable snapshot payload for the learner.
type State struct {
	TaskType string         `json:"task_type"`
	Backend  string         `json:"backend"`
	IsFitted bool           `json:"is_fitted"`
	Scaler   RunningScaler  `json:"scaler"`
	Linear   *linearModel   `json:"linear,omitempty"`
	Neural   *neuralModel   `json:"neural,omitempty"`
}

func (l *Learner) GetState() State {
	return State{
		TaskType: l.cfg.TaskType,
		Backend:  l.backend,
		IsFitted: l.isFitted,
		Scaler:   *l.scaler,
		Linear:   l.linear,
		Neural:   l.neural,
	}
}

func (l *Learner) SetState(s State) error {
	if s.Backend != l.backend {
		return fmt.Errorf("learner: state backend %q does not match configured backend %q", s.Backend, l.backend)
	}
	scaler := s.Scaler
	l.scaler = &scaler
	l.isFitted = s.IsFitted
	if s.Linear != nil {
		l.linear = s.Linear
	}
	if s.Neural != nil {
		l.neural = s.Neural
	}
	return nil
}
