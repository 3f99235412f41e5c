package skillscore

import (
	"testing"
	"time"
)

func mkTimes(n int) []time.Time {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	idx := make([]time.Time, n)
	for i := range idx {
		idx[i] = base.Add(time.Duration(i) * 15 * time.Minute)
	}
	return idx
}

func TestPinballLossQ10(t *testing.T) {
	// S4: obs=[100,100], pred=[90,110], pinball at 0.1 = mean(0.1*10, 0.9*10) = 5.0
	got := pinball([]float64{100, 100}, []float64{90, 110}, 0.1)
	if got != 5.0 {
		t.Fatalf("expected 5.0, got %v", got)
	}
}

func TestWinklerIntervalViolation(t *testing.T) {
	// S5: obs=150, q10=110, q90=130 -> (130-110) + (2/0.2)*(150-130) = 20 + 200 = 220
	got := winkler([]float64{150}, []float64{110}, []float64{130}, 0.2)
	if got != 220 {
		t.Fatalf("expected 220, got %v", got)
	}
}

func TestParseQuantile(t *testing.T) {
	for label, want := range map[string]float64{"q10": 0.1, "q50": 0.5, "q90": 0.9} {
		got, err := ParseQuantile(label)
		if err != nil {
			t.Fatalf("unexpected error for %s: %v", label, err)
		}
		if got != want {
			t.Fatalf("%s: expected %v, got %v", label, want, got)
		}
	}
	if _, err := ParseQuantile("bogus"); err == nil {
		t.Fatalf("expected error for invalid label")
	}
}

func TestComputeForecastersSkillScoresEmitsWinklerOnlyWhenPaired(t *testing.T) {
	idx := mkTimes(4)
	obs := []float64{100, 100, 100, 100}
	calc := NewCalculator([]string{"q10", "q50", "q90"})

	subs := []SubmissionSeries{
		{ID: "A", Quantile: "q10", Index: idx, Values: []float64{90, 90, 90, 90}},
		{ID: "A", Quantile: "q90", Index: idx, Values: []float64{110, 110, 110, 110}},
		{ID: "B", Quantile: "q10", Index: idx, Values: []float64{90, 90, 90, 90}},
	}

	rows, err := calc.ComputeForecastersSkillScores(obs, idx, subs, 0.2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	hasWinkler := map[string]bool{}
	for _, r := range rows {
		if r.Metric == "winkler" {
			hasWinkler[r.ID] = true
		}
	}
	if !hasWinkler["A"] {
		t.Fatalf("expected winkler for A which has both quantiles")
	}
	if hasWinkler["B"] {
		t.Fatalf("did not expect winkler for B which lacks q90")
	}
}

func TestComputeScoresIdempotent(t *testing.T) {
	idx := mkTimes(200)
	calc := NewCalculator([]string{"q50"})

	X := buildFrame(idx, map[string][]float64{"A_q50": constSeries(len(idx), 100)})
	y := buildFrame(idx, map[string][]float64{"target": constSeries(len(idx), 100)})

	first, err := calc.ComputeScores(X, y, []string{"q50"}, 6)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := calc.ComputeScores(X, y, []string{"q50"}, 6)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first["q50"]["A_q50"] != second["q50"]["A_q50"] {
		t.Fatalf("compute_scores is not idempotent: %v vs %v", first, second)
	}
}
