package frame

import (
	"math"
	"testing"
	"time"
)

func mkIndex(n int, step time.Duration) []time.Time {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	idx := make([]time.Time, n)
	for i := range idx {
		idx[i] = base.Add(time.Duration(i) * step)
	}
	return idx
}

func TestSetColumnAlignsOnIndex(t *testing.T) {
	idx := mkIndex(4, 15*time.Minute)
	f := NewFromIndex(idx)
	f.SetColumn("a", idx[1:3], []float64{1, 2})

	col, ok := f.Column("a")
	if !ok {
		t.Fatalf("expected column a to exist")
	}
	if !math.IsNaN(col[0]) || col[1] != 1 || col[2] != 2 || !math.IsNaN(col[3]) {
		t.Fatalf("unexpected alignment: %v", col)
	}
}

func TestDropAnyNull(t *testing.T) {
	idx := mkIndex(3, time.Hour)
	f := NewFromIndex(idx)
	f.SetColumn("a", idx, []float64{1, math.NaN(), 3})
	f.SetColumn("b", idx, []float64{1, 2, 3})

	out := f.DropAnyNull()
	if out.Len() != 2 {
		t.Fatalf("expected 2 rows after drop, got %d", out.Len())
	}
}

func TestInnerJoinIntersectsIndex(t *testing.T) {
	idxA := mkIndex(3, time.Hour)
	idxB := idxA[1:]

	a := NewFromIndex(idxA)
	a.SetColumn("x", idxA, []float64{1, 2, 3})
	b := NewFromIndex(idxB)
	b.SetColumn("y", idxB, []float64{20, 30})

	joined := InnerJoin(a, b)
	if joined.Len() != 2 {
		t.Fatalf("expected 2 rows, got %d", joined.Len())
	}
}

func TestResampleMean(t *testing.T) {
	idx := mkIndex(4, 15*time.Minute)
	f := NewFromIndex(idx)
	f.SetColumn("v", idx, []float64{1, 3, 5, 7})

	out := f.Resample(time.Hour, Mean)
	if out.Len() != 1 {
		t.Fatalf("expected single hourly bucket, got %d", out.Len())
	}
	if got := out.At("v", 0); got != 4 {
		t.Fatalf("expected mean 4, got %v", got)
	}
}

func TestInterpolateFillsInteriorGaps(t *testing.T) {
	col := []float64{1, math.NaN(), math.NaN(), 4, math.NaN()}
	interpolateInPlace(col)
	if col[1] != 2 || col[2] != 3 {
		t.Fatalf("interior gap not interpolated: %v", col)
	}
	if !math.IsNaN(col[4]) {
		t.Fatalf("trailing gap should remain NaN, got %v", col[4])
	}
}

func TestPercentileMedian(t *testing.T) {
	vals := []float64{4, 1, 3, 2}
	if got := Percentile(vals, 0.5); got != 2.5 {
		t.Fatalf("expected median 2.5, got %v", got)
	}
}

func TestLongWidePivotRoundTrip(t *testing.T) {
	idx := mkIndex(2, time.Hour)
	f := NewFromIndex(idx)
	f.SetColumn("q10", idx, []float64{1, 2})
	f.SetColumn("q90", idx, []float64{9, 10})

	long := f.ToLong()
	wide := FromLong(long)

	if !wide.HasColumn("q10") || !wide.HasColumn("q90") {
		t.Fatalf("expected both columns after round trip")
	}
	if wide.Len() != 2 {
		t.Fatalf("expected 2 rows, got %d", wide.Len())
	}
}
