package learnjob

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func prob(v float64) *float64 { return &v }
func lbl(v int) *int          { return &v }

func TestBrierScore(t *testing.T) {
	assert.InDelta(t, 0.0, BrierScore([]float64{1, 1, 0, 0}, []int{1, 1, 0, 0}), 1e-6)
	assert.InDelta(t, 1.0, BrierScore([]float64{0, 0, 1, 1}, []int{1, 1, 0, 0}), 1e-6)
	assert.InDelta(t, 0.25, BrierScore([]float64{0.5, 0.5, 0.5, 0.5}, []int{1, 0, 1, 0}), 1e-6)
	assert.InDelta(t, 0.075, BrierScore([]float64{0.8, 0.6, 0.3, 0.1}, []int{1, 1, 0, 0}), 1e-6)
	assert.Equal(t, 1.0, BrierScore(nil, nil))
}

func TestReliabilityDiagram_BasicSpreadsAcrossBins(t *testing.T) {
	probs := []float64{0.1, 0.3, 0.5, 0.7, 0.9}
	labels := []int{0, 0, 1, 1, 1}
	diag := ReliabilityDiagram(probs, labels, 5)
	assert.LessOrEqual(t, len(diag), 5)
	total := 0
	for _, b := range diag {
		total += b.Count
	}
	assert.Equal(t, 5, total)
}

func TestReliabilityDiagram_EmptyData(t *testing.T) {
	assert.Nil(t, ReliabilityDiagram(nil, nil, 10))
}

func TestReliabilityDiagram_CollapsesToSingleBin(t *testing.T) {
	probs := []float64{0.48, 0.49, 0.50, 0.51, 0.52}
	labels := []int{0, 1, 0, 1, 1}
	diag := ReliabilityDiagram(probs, labels, 10)
	require.Len(t, diag, 1)
	assert.Equal(t, 5, diag[0].Count)
}

func TestBrierByFamily_ClassifiesByTopAttribution(t *testing.T) {
	events := []Event{
		{ProbUp: prob(0.8), Label: lbl(1), ShapTop: []FeatureWeight{{"rsi", 0.3}, {"momentum", 0.2}}},
		{ProbUp: prob(0.3), Label: lbl(0), ShapTop: []FeatureWeight{{"vix", 0.4}, {"put_call", 0.2}}},
		{ProbUp: prob(0.7), Label: lbl(1), ShapTop: []FeatureWeight{{"breadth", 0.5}, {"advance", 0.3}}},
	}
	scores := BrierByFamily(events)
	require.NotEmpty(t, scores)
	for _, s := range scores {
		assert.GreaterOrEqual(t, s, 0.0)
		assert.LessOrEqual(t, s, 1.0)
	}
	assert.Contains(t, scores, "momentum")
	assert.Contains(t, scores, "sentiment")
	assert.Contains(t, scores, "breadth")
}

func TestBrierByFamily_UnknownFeatureFallsToOther(t *testing.T) {
	events := []Event{
		{ProbUp: prob(0.6), Label: lbl(1), ShapTop: []FeatureWeight{{"unknown_feature_xyz", 0.5}}},
	}
	scores := BrierByFamily(events)
	assert.Contains(t, scores, "other")
}

func TestBrierByFamily_NoExplanationFallsToUnknown(t *testing.T) {
	events := []Event{
		{ProbUp: prob(0.6), Label: lbl(1)},
		{ProbUp: prob(0.4), Label: lbl(0), ShapTop: []FeatureWeight{}},
	}
	scores := BrierByFamily(events)
	assert.Contains(t, scores, "unknown")
}

func TestBrierByFamily_SkipsMissingData(t *testing.T) {
	events := []Event{
		{ProbUp: prob(0.6), ShapTop: []FeatureWeight{{"rsi", 0.3}}}, // no label
		{Label: lbl(1), ShapTop: []FeatureWeight{{"vix", 0.4}}},     // no prob
	}
	scores := BrierByFamily(events)
	assert.Empty(t, scores)
}

func TestDriftFlags(t *testing.T) {
	current := map[string]float64{"momentum": 0.30, "sentiment": 0.25, "breadth": 0.35}
	previous := map[string]float64{"momentum": 0.25, "sentiment": 0.24, "breadth": 0.30}
	flags := DriftFlags(current, previous, 0.02)
	assert.True(t, flags["momentum"])
	assert.False(t, flags["sentiment"])
	assert.True(t, flags["breadth"])
}

func TestDriftFlags_NewFamilyNeverFlagged(t *testing.T) {
	current := map[string]float64{"momentum": 0.25, "new_family": 0.28}
	previous := map[string]float64{"momentum": 0.24}
	flags := DriftFlags(current, previous, 0.02)
	assert.False(t, flags["new_family"])
}

func TestDriftFlags_OnlyCurrentFamiliesReported(t *testing.T) {
	current := map[string]float64{"momentum": 0.25}
	previous := map[string]float64{"momentum": 0.24, "sentiment": 0.31}
	flags := DriftFlags(current, previous, 0.02)
	assert.Contains(t, flags, "momentum")
	assert.NotContains(t, flags, "sentiment")
}

func TestAnalyzeFeatureImportanceDrift_NoData(t *testing.T) {
	drift := AnalyzeFeatureImportanceDrift(nil, 30, time.Now())
	assert.Equal(t, "no_data", drift.Status)
}

func TestAnalyzeFeatureImportanceDrift_DetectsDirectionalChange(t *testing.T) {
	now := time.Now()
	events := []Event{
		{Timestamp: now.Add(-10 * 24 * time.Hour), ShapTop: []FeatureWeight{{"momentum", 0.5}, {"sentiment", 0.1}}},
		{Timestamp: now.Add(-15 * 24 * time.Hour), ShapTop: []FeatureWeight{{"momentum", 0.4}, {"sentiment", 0.1}}},
		{Timestamp: now.Add(-40 * 24 * time.Hour), ShapTop: []FeatureWeight{{"momentum", 0.1}, {"sentiment", 0.5}}},
		{Timestamp: now.Add(-45 * 24 * time.Hour), ShapTop: []FeatureWeight{{"momentum", 0.1}, {"sentiment", 0.4}}},
	}
	drift := AnalyzeFeatureImportanceDrift(events, 30, now)
	require.Equal(t, "success", drift.Status)
	require.NotEmpty(t, drift.TopChanges)

	byFeature := map[string]FeatureChange{}
	for _, c := range drift.TopChanges {
		byFeature[c.Feature] = c
	}
	if c, ok := byFeature["momentum"]; ok {
		assert.Greater(t, c.ChangePct, 0.0)
	}
	if c, ok := byFeature["sentiment"]; ok {
		assert.Less(t, c.ChangePct, 0.0)
	}
}

func TestSuggestFeatureWeights_OrdersByInverseScore(t *testing.T) {
	report := Report{BrierScores: map[string]float64{"momentum": 0.20, "sentiment": 0.35, "breadth": 0.25}}
	weights := SuggestFeatureWeights(report)
	assert.Greater(t, weights["momentum"], weights["sentiment"])
	assert.Greater(t, weights["momentum"], weights["breadth"])
	assert.Greater(t, weights["breadth"], weights["sentiment"])
	for _, w := range weights {
		assert.GreaterOrEqual(t, w, 0.0)
		assert.LessOrEqual(t, w, 1.0)
	}
}

func TestSuggestFeatureWeights_Empty(t *testing.T) {
	assert.Empty(t, SuggestFeatureWeights(Report{BrierScores: map[string]float64{}}))
}

func TestSuggestFeatureWeights_SingleFamilyGetsZero(t *testing.T) {
	weights := SuggestFeatureWeights(Report{BrierScores: map[string]float64{"momentum": 0.25}})
	require.Len(t, weights, 1)
	assert.Equal(t, 0.0, weights["momentum"])
}

type fakeEventSource struct {
	events []Event
	err    error
}

func (f fakeEventSource) Events(since time.Time) ([]Event, error) { return f.events, f.err }

type fakeReportStore struct {
	latest  Report
	hasPrev bool
	saved   []Report
	saveErr error
}

func (f *fakeReportStore) Save(r Report) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = append(f.saved, r)
	return nil
}

func (f *fakeReportStore) LoadLatest() (Report, bool, error) {
	return f.latest, f.hasPrev, nil
}

func TestGenerateReport_NoData(t *testing.T) {
	src := fakeEventSource{}
	store := &fakeReportStore{}
	report, err := GenerateReport(src, store, 30, 0.02, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "no_data", report.Status)
	assert.Equal(t, 30, report.LookbackDays)
}

func TestGenerateReport_Success(t *testing.T) {
	now := time.Now()
	src := fakeEventSource{events: []Event{
		{Timestamp: now.Add(-5 * 24 * time.Hour), Symbol: "AAPL", ProbUp: prob(0.8), Label: lbl(1), ShapTop: []FeatureWeight{{"momentum", 0.3}}},
		{Timestamp: now.Add(-10 * 24 * time.Hour), Symbol: "TSLA", ProbUp: prob(0.3), Label: lbl(0), ShapTop: []FeatureWeight{{"sentiment", 0.4}}},
	}}
	store := &fakeReportStore{}
	report, err := GenerateReport(src, store, 30, 0.02, now)
	require.NoError(t, err)
	assert.Equal(t, "success", report.Status)
	assert.Equal(t, 2, report.TotalEvents)
	assert.NotEmpty(t, report.BrierScores)
}

func TestGenerateReport_DetectsDriftAgainstPreviousReport(t *testing.T) {
	now := time.Now()
	src := fakeEventSource{events: []Event{
		{Timestamp: now.Add(-5 * 24 * time.Hour), ProbUp: prob(0.8), Label: lbl(0), ShapTop: []FeatureWeight{{"momentum", 0.5}}},
	}}
	store := &fakeReportStore{hasPrev: true, latest: Report{BrierScores: map[string]float64{"momentum": 0.20}}}
	report, err := GenerateReport(src, store, 30, 0.02, now)
	require.NoError(t, err)
	assert.NotEmpty(t, report.DriftFlags)
	assert.NotEmpty(t, report.Recommendations)
}

func TestRunNightlyJob_Success(t *testing.T) {
	now := time.Now()
	src := fakeEventSource{events: []Event{
		{Timestamp: now.Add(-5 * 24 * time.Hour), ProbUp: prob(0.8), Label: lbl(1), ShapTop: []FeatureWeight{{"momentum", 0.3}}},
	}}
	store := &fakeReportStore{}
	result := RunNightlyJob(src, store, 30, 0.02, now, zerolog.Nop())
	assert.Equal(t, "success", result.Status)
	assert.Equal(t, 1, result.EventsAnalyzed)
	assert.True(t, result.ReportSaved)
	require.Len(t, store.saved, 1)
}

func TestRunNightlyJob_GenerationFailureIsCaptured(t *testing.T) {
	src := fakeEventSource{err: errors.New("database connection failed")}
	store := &fakeReportStore{}
	result := RunNightlyJob(src, store, 30, 0.02, time.Now(), zerolog.Nop())
	assert.Equal(t, "error", result.Status)
	assert.Contains(t, result.Error, "database connection failed")
}

func TestRunNightlyJob_SaveFailureStillReportsAnalysis(t *testing.T) {
	now := time.Now()
	src := fakeEventSource{events: []Event{
		{Timestamp: now.Add(-time.Hour), ProbUp: prob(0.6), Label: lbl(1), ShapTop: []FeatureWeight{{"momentum", 0.3}}},
	}}
	store := &fakeReportStore{saveErr: errors.New("disk full")}
	result := RunNightlyJob(src, store, 30, 0.02, now, zerolog.Nop())
	assert.Equal(t, "success", result.Status)
	assert.False(t, result.ReportSaved)
}

func TestFileReportStore_RoundTrips(t *testing.T) {
	dir := t.TempDir()
	store := NewFileReportStore(dir + "/report.json")

	report := Report{Status: "success", TotalEvents: 10, OverallBrier: 0.25, BrierScores: map[string]float64{"momentum": 0.22}}
	require.NoError(t, store.Save(report))

	loaded, ok, err := store.LoadLatest()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, report.TotalEvents, loaded.TotalEvents)
	assert.InDelta(t, report.OverallBrier, loaded.OverallBrier, 1e-9)
}

func TestFileReportStore_MissingFileReturnsNotFound(t *testing.T) {
	store := NewFileReportStore(t.TempDir() + "/missing.json")
	_, ok, err := store.LoadLatest()
	assert.False(t, ok)
	assert.Error(t, err)
}
