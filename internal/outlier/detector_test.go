package outlier

import (
	"testing"
	"time"

	"github.com/INESCTEC/predico-collabforecast-sub000/internal/frame"
)

func mkIndex(n int) []time.Time {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	idx := make([]time.Time, n)
	for i := range idx {
		idx[i] = base.Add(time.Duration(i) * 15 * time.Minute)
	}
	return idx
}

func TestDetectBelowMinForecastersReturnsEmpty(t *testing.T) {
	idx := mkIndex(10)
	f := frame.NewFromIndex(idx)
	f.SetColumn("A", idx, make([]float64, 10))
	f.SetColumn("B", idx, make([]float64, 10))

	d := NewDetector(20.0, 4)
	if got := d.Detect(f); got != nil {
		t.Fatalf("expected nil/empty, got %v", got)
	}
}

func TestDetectFlagsMagnitudeOutlier(t *testing.T) {
	idx := mkIndex(50)
	f := frame.NewFromIndex(idx)

	base := make([]float64, 50)
	other1 := make([]float64, 50)
	other2 := make([]float64, 50)
	outlierCol := make([]float64, 50)
	for i := range base {
		v := 10.0 + float64(i%5)
		base[i] = v
		other1[i] = v + 0.5
		other2[i] = v - 0.5
		outlierCol[i] = v * 50 // wildly different magnitude
	}
	f.SetColumn("A", idx, base)
	f.SetColumn("B", idx, other1)
	f.SetColumn("C", idx, other2)
	f.SetColumn("D", idx, outlierCol)

	d := NewDetector(2.0, 4) // tighter alpha than production default to make the test deterministic
	got := d.Detect(f)

	found := false
	for _, c := range got {
		if c == "D" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected D to be flagged as outlier, got %v", got)
	}
}

func TestDTWDistanceZeroForIdenticalSeries(t *testing.T) {
	s := []float64{1, 2, 3, 4, 5}
	if d := DTWDistance(s, s); d != 0 {
		t.Fatalf("expected 0, got %v", d)
	}
}
