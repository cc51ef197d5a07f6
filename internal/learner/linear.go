package learner

import "math"

// linearModel is a logistic/linear SGD model with a constant learning
// rate and no regularization — this is the spec's literal definition of
// the fallback backend, and is reused unchanged as the "linear_sgd"
// backend too since both were a single SimpleFallbackLearner class in the
// Python source; only the neural backend differs structurally.
type linearModel struct {
	Weights      []float64 `json:"weights"`
	Bias         float64   `json:"bias"`
	LearningRate float64   `json:"learning_rate"`
}

func newLinearModel() *linearModel {
	return &linearModel{LearningRate: 0.01}
}

func (m *linearModel) ensureInit(dim int) {
	if m.Weights == nil {
		m.Weights = make([]float64, dim)
		m.LearningRate = 0.01
	}
}

func (m *linearModel) partialFit(task string, X [][]float64, y []float64, weights []float64) {
	if len(X) == 0 {
		return
	}
	m.ensureInit(len(X[0]))

	for i, x := range X {
		w := 1.0
		if weights != nil {
			w = weights[i]
		}
		pred := dot(x, m.Weights) + m.Bias

		var errTerm float64
		switch task {
		case TaskClassification:
			sigmoid := 1 / (1 + math.Exp(-pred))
			errTerm = sigmoid - y[i]
		default:
			errTerm = pred - y[i]
		}

		for j, xi := range x {
			m.Weights[j] -= m.LearningRate * w * errTerm * xi
		}
		m.Bias -= m.LearningRate * w * errTerm
	}
}

func (m *linearModel) predict(task string, x []float64) float64 {
	if m.Weights == nil {
		return 0
	}
	pred := dot(x, m.Weights) + m.Bias
	if task == TaskClassification {
		if pred > 0 {
			return 1
		}
		return 0
	}
	return pred
}

func (m *linearModel) predictProba(x []float64) float64 {
	if m.Weights == nil {
		return 0.5
	}
	pred := dot(x, m.Weights) + m.Bias
	return 1 / (1 + math.Exp(-pred))
}

func dot(a, b []float64) float64 {
	var sum float64
	for i := range a {
		if i >= len(b) {
			break
		}
		sum += a[i] * b[i]
	}
	return sum
}
