package kpi

import (
	"testing"
	"time"

	"github.com/INESCTEC/predico-collabforecast-sub000/internal/domain"
)

func day(d int) time.Time {
	return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC)
}

func TestDenseRankHandlesTies(t *testing.T) {
	ranks := denseRank([]float64{10, 10, 20, 5})
	want := []int{2, 2, 3, 1}
	for i := range want {
		if ranks[i] != want[i] {
			t.Fatalf("rank[%d] = %d, want %d", i, ranks[i], want[i])
		}
	}
}

func TestQualifyDisqualifiesOnExcessiveMisses(t *testing.T) {
	e := NewEngine(Params{DisqualifyMissDays: 5, DaysInMonth: 30})
	adjustedAvg := map[string]float64{"A": 1, "B": 2}
	missing := map[string]int{"A": 3, "B": 6}
	qualified, disqualified := e.qualify(adjustedAvg, missing, nil)
	if !qualified["A"] || disqualified["A"] {
		t.Fatalf("A should qualify")
	}
	if qualified["B"] || !disqualified["B"] {
		t.Fatalf("B should be disqualified")
	}
}

func TestFixedPaymentForecasterExcludedFromQualification(t *testing.T) {
	e := NewEngine(Params{DisqualifyMissDays: 5, DaysInMonth: 30})
	adjustedAvg := map[string]float64{"A": 1}
	missing := map[string]int{"A": 0}
	qualified, disqualified := e.qualify(adjustedAvg, missing, map[string]bool{"A": true})
	if qualified["A"] || disqualified["A"] {
		t.Fatalf("fixed-payment forecaster must be neither qualified nor disqualified")
	}
}

// TestComputeMonthlyAssignsLeagues covers spec scenario S6: three
// forecasters with distinct penalty-adjusted averages land in distinct
// league bands once cutoffs are tight enough to separate them.
func TestComputeMonthlyAssignsLeagues(t *testing.T) {
	e := NewEngine(Params{
		PenaltyQuantile:    0.75,
		DisqualifyMissDays: 5,
		EliteCutoff:        1,
		ChallengerCutoff:   2,
		RunnerUpCutoff:     3,
		DaysInMonth:        3,
	})
	scores := []DailyScore{
		{ForecasterID: "A", Day: day(1), Value: 1.0},
		{ForecasterID: "A", Day: day(2), Value: 1.0},
		{ForecasterID: "A", Day: day(3), Value: 1.0},
		{ForecasterID: "B", Day: day(1), Value: 5.0},
		{ForecasterID: "B", Day: day(2), Value: 5.0},
		{ForecasterID: "B", Day: day(3), Value: 5.0},
		{ForecasterID: "C", Day: day(1), Value: 10.0},
		{ForecasterID: "C", Day: day(2), Value: 10.0},
		{ForecasterID: "C", Day: day(3), Value: 10.0},
	}
	records := e.ComputeMonthly("r1", scores, nil, nil, domain.MetricPinball, domain.TrackProbabilistic, 2024, 1)

	byID := map[string]domain.MonthlyKPIRecord{}
	for _, r := range records {
		byID[r.ForecasterID] = r
	}
	if byID["A"].League != domain.LeagueElite {
		t.Fatalf("expected A elite, got %s", byID["A"].League)
	}
	if byID["B"].League != domain.LeagueChallenger {
		t.Fatalf("expected B challenger, got %s", byID["B"].League)
	}
	if byID["C"].League != domain.LeagueRunnerUp {
		t.Fatalf("expected C runner_up, got %s", byID["C"].League)
	}
	if !byID["A"].IsBestForecaster {
		t.Fatalf("expected A flagged as best forecaster")
	}
}

// TestComputeMonthlyPenaltyFillsMissingDays covers spec scenario S7: a
// forecaster that misses a day gets that day back-filled with the
// configured percentile of all observed scores rather than being dropped
// from the average outright.
func TestComputeMonthlyPenaltyFillsMissingDays(t *testing.T) {
	e := NewEngine(Params{PenaltyQuantile: 0.75, DisqualifyMissDays: 5, DaysInMonth: 2})
	scores := []DailyScore{
		{ForecasterID: "A", Day: day(1), Value: 1.0},
		{ForecasterID: "A", Day: day(2), Value: 3.0},
		{ForecasterID: "B", Day: day(1), Value: 2.0},
		// B misses day 2 entirely.
	}
	records := e.ComputeMonthly("r1", scores, nil, nil, domain.MetricPinball, domain.TrackProbabilistic, 2024, 1)
	var bRec domain.MonthlyKPIRecord
	for _, r := range records {
		if r.ForecasterID == "B" {
			bRec = r
		}
	}
	if bRec.DaysMissing != 1 {
		t.Fatalf("expected B to have 1 missing day, got %d", bRec.DaysMissing)
	}
	// Penalty level is the 75th percentile of {1,3,2} = 2.5; B's filled average = (2+2.5)/2 = 2.25.
	if diff := bRec.PenaltyAdjustedAvg - 2.25; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("expected penalty-adjusted avg 2.25, got %v", bRec.PenaltyAdjustedAvg)
	}
}

// TestComputeMonthlyDeterministicTrackProducesHistogramsAndBoxplots covers
// the deterministic-track branch of ComputeMonthly, which the probabilistic
// scenarios above never exercise: each record gets a residual histogram
// (vs. the best forecaster) and per-power-bin boxplots.
func TestComputeMonthlyDeterministicTrackProducesHistogramsAndBoxplots(t *testing.T) {
	e := NewEngine(Params{
		PenaltyQuantile:    0.75,
		DisqualifyMissDays: 5,
		EliteCutoff:        1,
		ChallengerCutoff:   2,
		RunnerUpCutoff:     3,
		DaysInMonth:        2,
		HistogramBins:      4,
		PowerBins:          2,
	})
	scores := []DailyScore{
		{ForecasterID: "A", Day: day(1), Value: 1.0},
		{ForecasterID: "A", Day: day(2), Value: 1.5},
		{ForecasterID: "B", Day: day(1), Value: 4.0},
		{ForecasterID: "B", Day: day(2), Value: 4.5},
	}
	idx := []time.Time{day(1), day(2)}
	residuals := map[string]ForecasterResidual{
		"A": {ForecasterID: "A", Index: idx, Residuals: []float64{0.1, -0.2}, Observed: []float64{10, 20}},
		"B": {ForecasterID: "B", Index: idx, Residuals: []float64{1.0, -1.5}, Observed: []float64{10, 20}},
	}

	records := e.ComputeMonthly("r1", scores, nil, residuals, domain.MetricRMSE, domain.TrackDeterministic, 2024, 1)

	byID := map[string]domain.MonthlyKPIRecord{}
	for _, r := range records {
		byID[r.ForecasterID] = r
	}

	// A has the lower monthly score, so it is the best forecaster and its
	// own histogram/best histogram should be the same distribution.
	if !byID["A"].IsBestForecaster {
		t.Fatalf("expected A to be the best forecaster")
	}
	for _, fid := range []string{"A", "B"} {
		rec := byID[fid]
		if rec.ResidualHistogram == nil || rec.BestForecasterHistogram == nil {
			t.Fatalf("%s: expected residual histograms to be populated", fid)
		}
		if len(rec.ResidualHistogram.Counts) != 4 {
			t.Fatalf("%s: expected 4 histogram bins, got %d", fid, len(rec.ResidualHistogram.Counts))
		}
		if rec.PowerBinBoxplots == nil {
			t.Fatalf("%s: expected power-bin boxplots to be populated", fid)
		}
		if len(rec.PowerBinBoxplots) != 2 {
			t.Fatalf("%s: expected 2 power bins, got %d", fid, len(rec.PowerBinBoxplots))
		}
	}
}

func TestThresholdSeriesTracksCumulativeMean(t *testing.T) {
	e := NewEngine(Params{EliteCutoff: 1, ChallengerCutoff: 2, RunnerUpCutoff: 3})
	scores := []DailyScore{
		{ForecasterID: "A", Day: day(1), Value: 1.0},
		{ForecasterID: "B", Day: day(1), Value: 2.0},
		{ForecasterID: "A", Day: day(2), Value: 3.0},
		{ForecasterID: "B", Day: day(2), Value: 1.0},
	}
	points := e.ThresholdSeries(scores, nil)
	if len(points) != 2 {
		t.Fatalf("expected 2 threshold points, got %d", len(points))
	}
	if points[1].EliteThreshold == nil {
		t.Fatalf("expected elite threshold populated on day 2")
	}
}
