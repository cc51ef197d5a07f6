package learner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPartialFit_LinearLearnsSeparableData(t *testing.T) {
	l := NewLearner(Config{TaskType: TaskClassification, Backend: BackendLinear, FeatureDim: 1})

	X := [][]float64{{5}, {6}, {7}, {-5}, {-6}, {-7}}
	y := []float64{1, 1, 1, 0, 0, 0}
	var metrics map[string]float64
	for i := 0; i < 200; i++ {
		metrics = l.PartialFit(X, y, nil)
	}
	require.Contains(t, metrics, "accuracy")
	assert.Greater(t, metrics["accuracy"], 0.8)
}

func TestPredict_UnfittedReturnsZeros(t *testing.T) {
	l := NewLearner(Config{TaskType: TaskRegression, Backend: BackendLinear, FeatureDim: 2})
	result := l.Predict([][]float64{{1, 2}, {3, 4}})
	assert.Equal(t, []float64{0, 0}, result.Predictions)
}

func TestSelectBackend_NeuralWithoutFeatureDimDegradesToLinear(t *testing.T) {
	l := NewLearner(Config{TaskType: TaskClassification, Backend: BackendNeural, FeatureDim: 0})
	assert.Equal(t, BackendLinear, l.backend)
}

func TestExplain_UnsupportedForNeuralBackend(t *testing.T) {
	l := NewLearner(Config{TaskType: TaskClassification, Backend: BackendNeural, FeatureDim: 3})
	l.PartialFit([][]float64{{1, 2, 3}}, []float64{1}, nil)
	exp := l.Explain([]float64{1, 2, 3})
	assert.True(t, exp.Unsupported)
}

func TestExplain_LinearReportsContributions(t *testing.T) {
	l := NewLearner(Config{TaskType: TaskClassification, Backend: BackendLinear, FeatureDim: 2})
	l.PartialFit([][]float64{{1, 2}, {3, 4}}, []float64{1, 0}, nil)
	exp := l.Explain([]float64{1, 2})
	assert.Len(t, exp.FeatureImportance, 2)
	assert.Len(t, exp.Contributions, 2)
}

func TestGetStateSetState_RoundTrips(t *testing.T) {
	l := NewLearner(Config{TaskType: TaskClassification, Backend: BackendLinear, FeatureDim: 2})
	l.PartialFit([][]float64{{1, 2}, {3, 4}}, []float64{1, 0}, nil)
	state := l.GetState()

	l2 := NewLearner(Config{TaskType: TaskClassification, Backend: BackendLinear, FeatureDim: 2})
	require.NoError(t, l2.SetState(state))
	assert.Equal(t, state.Linear.Weights, l2.linear.Weights)
	assert.True(t, l2.isFitted)
}

func TestRunningScaler_WelfordSingleIncrementPerSample(t *testing.T) {
	s := NewRunningScaler(3)
	s.Update([]float64{1, 2, 3})
	s.Update([]float64{2, 3, 4})
	assert.Equal(t, 2, s.Count)
}
