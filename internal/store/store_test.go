package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ziggylab/internal/engine"
	"ziggylab/internal/learnjob"
	"ziggylab/internal/model"
)

func fixedTime() time.Time { return time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC) }

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordEvent_RoundTripsThroughEvents(t *testing.T) {
	s := openTestStore(t)

	prob := 0.73
	label := 1
	ev := learnjob.Event{
		Timestamp: fixedTime(),
		Symbol:    "AAPL",
		ProbUp:    &prob,
		Label:     &label,
		ShapTop:   []learnjob.FeatureWeight{{Feature: "rsi_14", Weight: 0.4}},
	}
	require.NoError(t, s.RecordEvent(ev))

	got, err := s.Events(fixedTime().Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "AAPL", got[0].Symbol)
	require.NotNil(t, got[0].ProbUp)
	assert.InDelta(t, 0.73, *got[0].ProbUp, 1e-9)
	require.NotNil(t, got[0].Label)
	assert.Equal(t, 1, *got[0].Label)
	require.Len(t, got[0].ShapTop, 1)
	assert.Equal(t, "rsi_14", got[0].ShapTop[0].Feature)
}

func TestEvents_ExcludesEventsBeforeSince(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.RecordEvent(learnjob.Event{Timestamp: fixedTime().Add(-48 * time.Hour), Symbol: "OLD"}))
	require.NoError(t, s.RecordEvent(learnjob.Event{Timestamp: fixedTime(), Symbol: "NEW"}))

	got, err := s.Events(fixedTime().Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "NEW", got[0].Symbol)
}

func TestEvents_NilProbUpAndLabelSurviveRoundTrip(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.RecordEvent(learnjob.Event{Timestamp: fixedTime(), Symbol: "AAPL"}))

	got, err := s.Events(fixedTime().Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Nil(t, got[0].ProbUp)
	assert.Nil(t, got[0].Label)
}

func TestRunLifecycle_StartStopAndList(t *testing.T) {
	s := openTestStore(t)

	params := model.RunParams{Universe: []string{"AAPL"}, Theories: []string{"mean_revert"}, Seed: 7}
	require.NoError(t, s.RecordRunStart("run-1", params, fixedTime()))

	rec, err := s.GetRun("run-1")
	require.NoError(t, err)
	assert.Equal(t, params, rec.Params)
	assert.Nil(t, rec.StoppedAt)
	assert.Nil(t, rec.Summary)

	summary := engine.Summary{RunID: "run-1", DropCount: 2}
	require.NoError(t, s.RecordRunStop("run-1", summary, fixedTime().Add(time.Hour)))

	rec, err = s.GetRun("run-1")
	require.NoError(t, err)
	require.NotNil(t, rec.StoppedAt)
	require.NotNil(t, rec.Summary)
	assert.Equal(t, int64(2), rec.Summary.DropCount)

	runs, err := s.ListRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "run-1", runs[0].RunID)
}

func TestGetRun_MissingReturnsErrRunNotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetRun("missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
}
