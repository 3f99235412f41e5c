package strategy

import (
	"math"
	"testing"
	"time"

	"github.com/INESCTEC/predico-collabforecast-sub000/internal/frame"
	"github.com/INESCTEC/predico-collabforecast-sub000/internal/skillscore"
)

func mkIndex(n int) []time.Time {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	idx := make([]time.Time, n)
	for i := range idx {
		idx[i] = base.Add(time.Duration(i) * 15 * time.Minute)
	}
	return idx
}

func buildFrame(idx []time.Time, columns map[string][]float64) *frame.Frame {
	f := frame.NewFromIndex(idx)
	for name, values := range columns {
		f.SetColumn(name, idx, values)
	}
	return f
}

func constSeries(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// S1: weighted average with three forecasters of known scores.
func TestWeightedAverageThreeForecasters(t *testing.T) {
	idx := mkIndex(200)
	xTrain := buildFrame(idx, map[string][]float64{
		"A_q50": constSeries(200, 100),
		"B_q50": constSeries(200, 100),
		"C_q50": constSeries(200, 100),
	})
	yTrain := buildFrame(idx, map[string][]float64{"target": constSeries(200, 100)})

	w := NewWeightedAverage(WeightedAverageParams{Beta: 0.1, OutlierDetection: false, DefaultScore: 999999, NScoreDays: 6})
	// Force known scores directly, bypassing Fit's RMSE-from-identical-data (which would be 0 for all).
	if err := w.Fit(xTrain, yTrain, []string{"q50"}); err != nil {
		t.Fatalf("fit failed: %v", err)
	}
	w.scores = map[string]skillscore.ColumnScores{"q50": {"A_q50": 10, "B_q50": 20, "C_q50": 30}}

	testIdx := idx[:1]
	xTest := buildFrame(testIdx, map[string][]float64{
		"A_q50": {100}, "B_q50": {200}, "C_q50": {300},
	})

	rows, err := w.Predict(xTest, []string{"q50"})
	if err != nil {
		t.Fatalf("predict failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if math.Abs(rows[0].Value-142.5) > 1.0 {
		t.Fatalf("expected ensemble ~142.5, got %v", rows[0].Value)
	}

	qw := w.Weights()["q50"]
	if math.Abs(qw["A"]-0.665) > 0.01 {
		t.Fatalf("expected weight A ~0.665, got %v", qw["A"])
	}
}

// S2: arithmetic mean with an outlier forecaster.
func TestArithmeticMeanRemovesOutlier(t *testing.T) {
	idx := mkIndex(50)
	base := make([]float64, 50)
	other1 := make([]float64, 50)
	other2 := make([]float64, 50)
	outlierCol := make([]float64, 50)
	for i := range base {
		v := 10.0 + float64(i%5)
		base[i] = v
		other1[i] = v + 0.5
		other2[i] = v - 0.5
		outlierCol[i] = v * 10
	}
	xTest := buildFrame(idx, map[string][]float64{
		"A_q50": base, "B_q50": other1, "C_q50": other2, "D_q50": outlierCol,
	})

	withOutlierRemoval := NewArithmeticMean(OutlierParams{Enabled: true, Alpha: 2.0, MinForecasters: 4})
	_ = withOutlierRemoval.Fit(nil, nil, []string{"q50"})
	rowsRemoved, err := withOutlierRemoval.Predict(xTest, []string{"q50"})
	if err != nil {
		t.Fatalf("predict failed: %v", err)
	}

	withoutRemoval := NewArithmeticMean(OutlierParams{Enabled: false})
	_ = withoutRemoval.Fit(nil, nil, []string{"q50"})
	rowsAll, err := withoutRemoval.Predict(xTest, []string{"q50"})
	if err != nil {
		t.Fatalf("predict failed: %v", err)
	}

	if rowsRemoved[0].Value >= rowsAll[0].Value {
		t.Fatalf("expected outlier-removed mean to be smaller than all-inclusive mean: %v vs %v", rowsRemoved[0].Value, rowsAll[0].Value)
	}
}

// S3: best-forecaster fallback when the champion is absent from test data.
func TestBestForecasterFallsBackWhenChampionMissing(t *testing.T) {
	idx := mkIndex(200)
	xTrain := buildFrame(idx, map[string][]float64{
		"A_q50": constSeries(200, 100),
		"B_q50": constSeries(200, 100),
	})
	yTrain := buildFrame(idx, map[string][]float64{"target": constSeries(200, 100)})

	b := NewBestForecaster(DefaultWeightedAverageParams())
	if err := b.Fit(xTrain, yTrain, []string{"q50"}); err != nil {
		t.Fatalf("fit failed: %v", err)
	}
	b.champions["q50"] = "B_q50" // force B as champion regardless of identical-data scoring

	testIdx := idx[:1]
	xTest := buildFrame(testIdx, map[string][]float64{"C_q50": {42}})

	rows, err := b.Predict(xTest, []string{"q50"})
	if err != nil {
		t.Fatalf("predict failed: %v", err)
	}
	if len(rows) != 1 || rows[0].Value != 42 {
		t.Fatalf("expected fallback to C's series (42), got %v", rows)
	}
	if b.Weights()["q50"]["C"] != 1.0 {
		t.Fatalf("expected weight 1.0 on fallback forecaster C, got %v", b.Weights()["q50"])
	}
}

func TestPredictBeforeFitFails(t *testing.T) {
	idx := mkIndex(1)
	xTest := buildFrame(idx, map[string][]float64{"A_q50": {1}})

	strategies := []Strategy{NewWeightedAverage(DefaultWeightedAverageParams()), NewArithmeticMean(DefaultOutlierParams()), NewBestForecaster(DefaultWeightedAverageParams()), NewMedian()}
	for _, s := range strategies {
		if _, err := s.Predict(xTest, []string{"q50"}); err == nil {
			t.Fatalf("%s: expected not-fitted error", s.Name())
		}
	}
}

func TestPredictEmptyTestReturnsEmptyNotError(t *testing.T) {
	m := NewMedian()
	_ = m.Fit(nil, nil, []string{"q50"})
	rows, err := m.Predict(frame.New(), []string{"q50"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected empty table, got %d rows", len(rows))
	}
}

func TestWeightsSumToOne(t *testing.T) {
	idx := mkIndex(50)
	xTest := buildFrame(idx, map[string][]float64{
		"A_q50": constSeries(50, 10), "B_q50": constSeries(50, 20), "C_q50": constSeries(50, 30),
	})

	m := NewMedian()
	_ = m.Fit(nil, nil, []string{"q50"})
	if _, err := m.Predict(xTest, []string{"q50"}); err != nil {
		t.Fatalf("predict failed: %v", err)
	}

	sum := 0.0
	for _, w := range m.Weights()["q50"] {
		if w < 0 {
			t.Fatalf("negative weight: %v", w)
		}
		sum += w
	}
	if math.Abs(sum-1.0) > 1e-6 {
		t.Fatalf("expected weights to sum to 1, got %v", sum)
	}
}

func TestRegistryGetAndNotFound(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("x", func() Strategy { return NewMedian() }); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := r.Register("x", func() Strategy { return NewMedian() }); err == nil {
		t.Fatalf("expected error on duplicate registration")
	}
	if _, err := r.Get("missing"); err == nil {
		t.Fatalf("expected strategy-not-found error")
	}
	s, err := r.Get("x")
	if err != nil || s == nil {
		t.Fatalf("expected successful get, err=%v", err)
	}
}

func TestDefaultRegistryHasFourStrategies(t *testing.T) {
	names := Default.List()
	want := map[string]bool{"weighted_avg": true, "arithmetic_mean": true, "best_forecaster": true, "median": true}
	if len(names) != len(want) {
		t.Fatalf("expected %d strategies, got %v", len(want), names)
	}
	for _, n := range names {
		if !want[n] {
			t.Fatalf("unexpected strategy %q registered", n)
		}
	}
}
