// Package learnjob implements the nightly learning job (C10): Brier-score
// accuracy auditing of past probability predictions, broken down by
// feature family, with drift detection against the previous report and
// suggested feature-family reweighting. Grounded on
// original_source/backend/app/tasks/learn.go (tested by
// original_source/backend/tests/tasks/test_learn_brier.py; the module
// itself was not present in the filtered source tree, so every function
// here is reconstructed from its test suite's documented behavior).
package learnjob

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"ziggylab/internal/metrics"
	"ziggylab/internal/snapshot"
)

const (
	defaultLookbackDays    = 30
	defaultReliabilityBins = 10
	defaultDriftThreshold  = 0.02
	reportVersion          = 1
)

// FeatureWeight names one SHAP-style attribution: a feature name paired
// with its signed contribution weight for one event.
type FeatureWeight struct {
	Feature string
	Weight  float64
}

// Event is one past probability prediction with its realized outcome,
// the minimal shape the job needs regardless of what persisted it.
type Event struct {
	Timestamp time.Time
	Symbol    string
	ProbUp    *float64 // nil means the event carries no usable prediction
	Label     *int     // nil means the outcome is not yet known; 1=up, 0=down
	ShapTop   []FeatureWeight // ordered by descending |weight|
}

// EventSource supplies past prediction/outcome events for a lookback
// window. A concrete implementation backed by persisted fill and label
// history is wired in at the call site; this package only consumes the
// interface so it stays testable without a database.
type EventSource interface {
	Events(since time.Time) ([]Event, error)
}

// ReportStore persists and retrieves the most recent learning report.
// Implemented here with internal/snapshot; an interface so the job logic
// is testable against an in-memory fake.
type ReportStore interface {
	Save(report Report) error
	LoadLatest() (Report, bool, error)
}

// familyOf classifies a feature name into one of the families the spec's
// feature set groups by. Unrecognized names fall into "other" rather than
// being dropped, so every event with an explanation always lands somewhere.
func familyOf(feature string) string {
	switch {
	case containsAny(feature, "momentum", "rsi", "macd", "trend", "stochastic"):
		return "momentum"
	case containsAny(feature, "sentiment", "vix", "put_call", "news"):
		return "sentiment"
	case containsAny(feature, "breadth", "advance", "decline"):
		return "breadth"
	case containsAny(feature, "macro", "rate", "cpi", "gdp", "yield"):
		return "macro"
	case containsAny(feature, "spread", "imbalance", "microstructure", "orderflow", "vwap"):
		return "microstructure"
	default:
		return "other"
	}
}

func containsAny(s string, subs ...string) bool {
	lowered := strings.ToLower(s)
	for _, sub := range subs {
		if strings.Contains(lowered, sub) {
			return true
		}
	}
	return false
}

// BrierScore is the mean squared error between predicted probabilities
// and binary outcomes. Empty input returns 1.0, the worst possible score,
// rather than an undefined 0/0 average.
func BrierScore(probs []float64, labels []int) float64 {
	if len(probs) == 0 || len(probs) != len(labels) {
		return 1.0
	}
	var sum float64
	for i, p := range probs {
		d := p - float64(labels[i])
		sum += d * d
	}
	return sum / float64(len(probs))
}

// ReliabilityBin is one non-empty bucket of a reliability diagram.
type ReliabilityBin struct {
	BinCenter     float64 `json:"bin_center"`
	MeanPredicted float64 `json:"mean_predicted"`
	MeanObserved  float64 `json:"mean_observed"`
	Count         int     `json:"count"`
}

// ReliabilityDiagram buckets predictions into nBins equal-width buckets
// over [0,1] by rounding p*nBins to the nearest bucket index (clamped to
// the valid range), and reports only the buckets that received at least
// one prediction.
func ReliabilityDiagram(probs []float64, labels []int, nBins int) []ReliabilityBin {
	if nBins <= 0 {
		nBins = defaultReliabilityBins
	}
	if len(probs) == 0 || len(probs) != len(labels) {
		return nil
	}

	type acc struct {
		sumP, sumO float64
		count      int
	}
	buckets := make(map[int]*acc)
	for i, p := range probs {
		idx := int(math.Round(p * float64(nBins)))
		if idx >= nBins {
			idx = nBins - 1
		}
		if idx < 0 {
			idx = 0
		}
		a, ok := buckets[idx]
		if !ok {
			a = &acc{}
			buckets[idx] = a
		}
		a.sumP += p
		a.sumO += float64(labels[i])
		a.count++
	}

	indices := make([]int, 0, len(buckets))
	for idx := range buckets {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	out := make([]ReliabilityBin, 0, len(indices))
	for _, idx := range indices {
		a := buckets[idx]
		out = append(out, ReliabilityBin{
			BinCenter:     (float64(idx) + 0.5) / float64(nBins),
			MeanPredicted: a.sumP / float64(a.count),
			MeanObserved:  a.sumO / float64(a.count),
			Count:         a.count,
		})
	}
	return out
}

// BrierByFamily groups events by the family of their most important
// feature (ShapTop's first, highest-weight entry) and computes each
// family's Brier score. Events with no usable prediction/outcome pair are
// skipped; events with no attribution land in "unknown".
func BrierByFamily(events []Event) map[string]float64 {
	grouped := make(map[string]struct {
		probs  []float64
		labels []int
	})
	for _, e := range events {
		if e.ProbUp == nil || e.Label == nil {
			continue
		}
		family := "unknown"
		if len(e.ShapTop) > 0 {
			family = familyOf(e.ShapTop[0].Feature)
		}
		g := grouped[family]
		g.probs = append(g.probs, *e.ProbUp)
		g.labels = append(g.labels, *e.Label)
		grouped[family] = g
	}

	out := make(map[string]float64, len(grouped))
	for family, g := range grouped {
		out[family] = BrierScore(g.probs, g.labels)
	}
	return out
}

// DriftFlags compares each family's current Brier score against its prior
// value and flags a regression (the score got worse by more than
// threshold). A family with no prior baseline is never flagged, and only
// families present in current are reported.
func DriftFlags(current, previous map[string]float64, threshold float64) map[string]bool {
	flags := make(map[string]bool, len(current))
	for family, score := range current {
		prev, ok := previous[family]
		if !ok {
			flags[family] = false
			continue
		}
		flags[family] = score-prev > threshold
	}
	return flags
}

// FeatureChange is one feature's importance shift between the recent and
// prior windows of analyzeFeatureImportanceDrift.
type FeatureChange struct {
	Feature         string  `json:"feature"`
	RecentMean      float64 `json:"recent_mean"`
	PreviousMean    float64 `json:"previous_mean"`
	ChangePct       float64 `json:"change_pct"`
}

// FeatureImportanceDrift reports, for each feature seen in events, the
// percentage change in mean |weight| between the recent window (age <=
// windowDays) and everything older, sorted by magnitude of change.
type FeatureImportanceDrift struct {
	Status     string          `json:"status"`
	WindowDays int             `json:"window_days"`
	TopChanges []FeatureChange `json:"top_changes"`
}

func AnalyzeFeatureImportanceDrift(events []Event, windowDays int, now time.Time) FeatureImportanceDrift {
	if windowDays <= 0 {
		windowDays = defaultLookbackDays
	}
	if len(events) == 0 {
		return FeatureImportanceDrift{Status: "no_data", WindowDays: windowDays}
	}

	type acc struct {
		recentSum, recentN     float64
		previousSum, previousN float64
	}
	byFeature := make(map[string]*acc)
	cutoff := now.Add(-time.Duration(windowDays) * 24 * time.Hour)

	for _, e := range events {
		recent := !e.Timestamp.Before(cutoff)
		for _, fw := range e.ShapTop {
			a, ok := byFeature[fw.Feature]
			if !ok {
				a = &acc{}
				byFeature[fw.Feature] = a
			}
			w := math.Abs(fw.Weight)
			if recent {
				a.recentSum += w
				a.recentN++
			} else {
				a.previousSum += w
				a.previousN++
			}
		}
	}

	changes := make([]FeatureChange, 0, len(byFeature))
	for feature, a := range byFeature {
		if a.recentN == 0 || a.previousN == 0 {
			continue
		}
		recentMean := a.recentSum / a.recentN
		previousMean := a.previousSum / a.previousN
		if previousMean == 0 {
			continue
		}
		changes = append(changes, FeatureChange{
			Feature:      feature,
			RecentMean:   recentMean,
			PreviousMean: previousMean,
			ChangePct:    (recentMean - previousMean) / previousMean,
		})
	}

	sort.Slice(changes, func(i, j int) bool {
		return math.Abs(changes[i].ChangePct) > math.Abs(changes[j].ChangePct)
	})
	if len(changes) > 5 {
		changes = changes[:5]
	}

	return FeatureImportanceDrift{Status: "success", WindowDays: windowDays, TopChanges: changes}
}

// Recommendation is one actionable item surfaced by a report.
type Recommendation struct {
	Type   string `json:"type"`
	Family string `json:"family,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// Report is the full output of one nightly run, and is also the payload
// persisted by ReportStore between runs so the next run has a baseline to
// diff drift against.
type Report struct {
	Status       string                 `json:"status"`
	GeneratedAt  time.Time              `json:"generated_at"`
	LookbackDays int                    `json:"lookback_days"`
	TotalEvents  int                    `json:"total_events"`
	OverallBrier float64                `json:"overall_brier"`
	BrierScores  map[string]float64     `json:"brier_scores"`
	Reliability  []ReliabilityBin       `json:"reliability,omitempty"`
	DriftFlags   map[string]bool        `json:"drift_flags,omitempty"`
	Importance   FeatureImportanceDrift `json:"importance_drift,omitempty"`
	Recommendations []Recommendation    `json:"recommendations,omitempty"`
}

// GenerateReport pulls lookbackDays of events from src, scores them
// overall and per feature family, and diffs the per-family scores against
// the previous report (if one exists) to flag drift.
func GenerateReport(src EventSource, prev ReportStore, lookbackDays int, driftThreshold float64, now time.Time) (Report, error) {
	if lookbackDays <= 0 {
		lookbackDays = defaultLookbackDays
	}
	if driftThreshold <= 0 {
		driftThreshold = defaultDriftThreshold
	}

	events, err := src.Events(now.Add(-time.Duration(lookbackDays) * 24 * time.Hour))
	if err != nil {
		return Report{}, fmt.Errorf("learnjob: fetch events: %w", err)
	}
	if len(events) == 0 {
		return Report{Status: "no_data", GeneratedAt: now, LookbackDays: lookbackDays}, nil
	}

	var probs []float64
	var labels []int
	for _, e := range events {
		if e.ProbUp == nil || e.Label == nil {
			continue
		}
		probs = append(probs, *e.ProbUp)
		labels = append(labels, *e.Label)
	}

	report := Report{
		Status:       "success",
		GeneratedAt:  now,
		LookbackDays: lookbackDays,
		TotalEvents:  len(events),
		OverallBrier: BrierScore(probs, labels),
		BrierScores:  BrierByFamily(events),
		Reliability:  ReliabilityDiagram(probs, labels, defaultReliabilityBins),
		Importance:   AnalyzeFeatureImportanceDrift(events, defaultLookbackDays, now),
	}

	if prev != nil {
		if prevReport, ok, err := prev.LoadLatest(); err == nil && ok {
			report.DriftFlags = DriftFlags(report.BrierScores, prevReport.BrierScores, driftThreshold)
		}
	}

	for family, flagged := range report.DriftFlags {
		if flagged {
			report.Recommendations = append(report.Recommendations, Recommendation{
				Type:   "drift_alert",
				Family: family,
				Detail: fmt.Sprintf("brier score for %s regressed by more than %.3f", family, driftThreshold),
			})
		}
	}
	sort.Slice(report.Recommendations, func(i, j int) bool { return report.Recommendations[i].Family < report.Recommendations[j].Family })

	return report, nil
}

// SuggestFeatureWeights proposes a relative weight per family, in
// [0,1], inversely proportional to that family's Brier score: the family
// with the best (lowest) score gets weight 1.0, the worst gets 0.0, and
// everything else is linearly interpolated between them via 1/score. A
// single-family report has no relative ordering to derive from, so that
// family gets weight 0.0.
func SuggestFeatureWeights(report Report) map[string]float64 {
	weights := make(map[string]float64, len(report.BrierScores))
	if len(report.BrierScores) == 0 {
		return weights
	}

	inv := make(map[string]float64, len(report.BrierScores))
	minInv, maxInv := math.Inf(1), math.Inf(-1)
	for family, score := range report.BrierScores {
		v := 1.0
		if score > 0 {
			v = 1.0 / score
		} else {
			v = math.Inf(1)
		}
		inv[family] = v
		if v < minInv {
			minInv = v
		}
		if v > maxInv {
			maxInv = v
		}
	}

	span := maxInv - minInv
	for family, v := range inv {
		if span <= 0 || math.IsInf(span, 0) {
			weights[family] = 0.0
			continue
		}
		weights[family] = (v - minInv) / span
	}
	return weights
}

// JobResult summarizes one run of RunNightlyJob for logging/alerting.
type JobResult struct {
	Status          string `json:"status"`
	EventsAnalyzed  int    `json:"events_analyzed"`
	DriftAlerts     int    `json:"drift_alerts"`
	Recommendations int    `json:"recommendations"`
	ReportSaved     bool   `json:"report_saved"`
	Error           string `json:"error,omitempty"`
}

// RunNightlyJob generates a report, persists it, and reduces the result
// to a JobResult a scheduler can log or alert on. A failure anywhere in
// generation is captured as an error result rather than propagated, since
// a missed night of learning should never take down the caller.
func RunNightlyJob(src EventSource, store ReportStore, lookbackDays int, driftThreshold float64, now time.Time, log zerolog.Logger) JobResult {
	report, err := GenerateReport(src, store, lookbackDays, driftThreshold, now)
	if err != nil {
		log.Error().Err(err).Msg("learnjob: report generation failed")
		return JobResult{Status: "error", Error: err.Error()}
	}

	driftAlerts := 0
	for _, flagged := range report.DriftFlags {
		if flagged {
			driftAlerts++
		}
	}

	if report.Status == "success" {
		metrics.SetLearnerReport(report.OverallBrier, report.BrierScores, report.DriftFlags)
	}

	saved := true
	if err := store.Save(report); err != nil {
		log.Warn().Err(err).Msg("learnjob: report save failed")
		saved = false
	}

	return JobResult{
		Status:          report.Status,
		EventsAnalyzed:  report.TotalEvents,
		DriftAlerts:     driftAlerts,
		Recommendations: len(report.Recommendations),
		ReportSaved:     saved,
	}
}

// FileReportStore persists reports as atomic JSON snapshots on disk via
// internal/snapshot.
type FileReportStore struct {
	path string
}

func NewFileReportStore(path string) *FileReportStore {
	return &FileReportStore{path: path}
}

func (s *FileReportStore) Save(report Report) error {
	return snapshot.WriteAtomic(s.path, reportVersion, report)
}

func (s *FileReportStore) LoadLatest() (Report, bool, error) {
	var report Report
	_, err := snapshot.ReadInto(s.path, &report)
	if err != nil {
		return Report{}, false, err
	}
	return report, true, nil
}
