package learner

import "math"

const neuralLearningRate = 0.001

// neuralModel is a small feed-forward net: one hidden layer with ReLU,
// a single output unit (sigmoid for classification, linear for
// regression), trained by plain backprop. This stands in for the Python
// source's optional PyTorch backend — no neural-network library appears
// anywhere in the pack, and a hand-rolled single-hidden-layer net is the
// idiomatic "small" net the spec calls for.
type neuralModel struct {
	HiddenDim int         `json:"hidden_dim"`
	W1        [][]float64 `json:"w1"` // hiddenDim x inputDim
	B1        []float64   `json:"b1"`
	W2        []float64   `json:"w2"` // hiddenDim
	B2        float64     `json:"b2"`
}

func newNeuralModel(inputDim, hiddenDim int, seed int64) *neuralModel {
	r := newSeededRand(seed)
	w1 := make([][]float64, hiddenDim)
	for i := range w1 {
		w1[i] = make([]float64, inputDim)
		for j := range w1[i] {
			w1[i][j] = r() * 0.1
		}
	}
	w2 := make([]float64, hiddenDim)
	for i := range w2 {
		w2[i] = r() * 0.1
	}
	return &neuralModel{HiddenDim: hiddenDim, W1: w1, B1: make([]float64, hiddenDim), W2: w2}
}

func (m *neuralModel) forward(x []float64) (hidden []float64, output float64) {
	hidden = make([]float64, m.HiddenDim)
	for i := range hidden {
		z := m.B1[i]
		for j, xi := range x {
			if j < len(m.W1[i]) {
				z += m.W1[i][j] * xi
			}
		}
		hidden[i] = math.Max(0, z) // ReLU
	}
	z2 := m.B2
	for i, h := range hidden {
		z2 += m.W2[i] * h
	}
	return hidden, z2
}

func (m *neuralModel) partialFit(task string, X [][]float64, y []float64, weights []float64) {
	for i, x := range X {
		w := 1.0
		if weights != nil {
			w = weights[i]
		}
		hidden, z2 := m.forward(x)

		var pred, errTerm float64
		switch task {
		case TaskClassification:
			pred = 1 / (1 + math.Exp(-z2))
			errTerm = pred - y[i]
		default:
			pred = z2
			errTerm = pred - y[i]
		}

		gradOut := w * errTerm
		for j := range m.W2 {
			grad := gradOut * hidden[j]
			m.W2[j] -= neuralLearningRate * grad
			if hidden[j] > 0 {
				gradHidden := gradOut * m.W2[j]
				for k := range m.W1[j] {
					if k < len(x) {
						m.W1[j][k] -= neuralLearningRate * gradHidden * x[k]
					}
				}
				m.B1[j] -= neuralLearningRate * gradHidden
			}
		}
		m.B2 -= neuralLearningRate * gradOut
	}
}

func (m *neuralModel) predict(task string, x []float64) float64 {
	_, z2 := m.forward(x)
	switch task {
	case TaskClassification:
		if z2 > 0 {
			return 1
		}
		return 0
	default:
		return z2
	}
}

func (m *neuralModel) predictProba(x []float64) float64 {
	_, z2 := m.forward(x)
	return 1 / (1 + math.Exp(-z2))
}

// newSeededRand returns a tiny deterministic PRNG closure (xorshift) so
// neural weight init doesn't depend on math/rand's global state, keeping
// model construction reproducible given a seed.
func newSeededRand(seed int64) func() float64 {
	state := uint64(seed)
	if state == 0 {
		state = 1
	}
	return func() float64 {
		state ^= state << 13
		state ^= state >> 7
		state ^= state << 17
		return (float64(state%2000) - 1000) / 1000
	}
}
