package frame

import (
	"math"
	"sort"
	"time"
)

// Mean returns the null-aware arithmetic mean of a column, or NaN if every
// value is null.
func (f *Frame) Mean(col string) float64 {
	c, ok := f.columns[col]
	if !ok {
		return math.NaN()
	}
	return Mean(c)
}

// Mean computes the null-aware mean of a slice.
func Mean(values []float64) float64 {
	sum, n := 0.0, 0
	for _, v := range values {
		if math.IsNaN(v) {
			continue
		}
		sum += v
		n++
	}
	if n == 0 {
		return math.NaN()
	}
	return sum / float64(n)
}

// Median computes the null-aware median of a slice.
func Median(values []float64) float64 {
	return Percentile(values, 0.5)
}

// StdDev computes the null-aware sample standard deviation of a slice.
func StdDev(values []float64) float64 {
	mean := Mean(values)
	if math.IsNaN(mean) {
		return math.NaN()
	}
	sumSq, n := 0.0, 0
	for _, v := range values {
		if math.IsNaN(v) {
			continue
		}
		d := v - mean
		sumSq += d * d
		n++
	}
	if n < 2 {
		return 0
	}
	return math.Sqrt(sumSq / float64(n-1))
}

// Percentile computes the null-aware linear-interpolated percentile (q in
// [0,1]) of a slice, ignoring NaN entries.
func Percentile(values []float64, q float64) float64 {
	clean := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) {
			clean = append(clean, v)
		}
	}
	if len(clean) == 0 {
		return math.NaN()
	}
	sort.Float64s(clean)
	if len(clean) == 1 {
		return clean[0]
	}
	pos := q * float64(len(clean)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return clean[lo]
	}
	frac := pos - float64(lo)
	return clean[lo]*(1-frac) + clean[hi]*frac
}

// Min and Max are null-aware.
func Min(values []float64) float64 {
	m := math.NaN()
	for _, v := range values {
		if math.IsNaN(v) {
			continue
		}
		if math.IsNaN(m) || v < m {
			m = v
		}
	}
	return m
}

func Max(values []float64) float64 {
	m := math.NaN()
	for _, v := range values {
		if math.IsNaN(v) {
			continue
		}
		if math.IsNaN(m) || v > m {
			m = v
		}
	}
	return m
}

// CountNonNull counts non-NaN entries.
func CountNonNull(values []float64) int {
	n := 0
	for _, v := range values {
		if !math.IsNaN(v) {
			n++
		}
	}
	return n
}

// FiveNumberSummary holds a boxplot-style summary of a distribution.
type FiveNumberSummary struct {
	Min, Q1, Median, Q3, Max float64
	Count                    int
}

// Summarize computes the five-number summary of a slice of values.
func Summarize(values []float64) FiveNumberSummary {
	return FiveNumberSummary{
		Min:    Min(values),
		Q1:     Percentile(values, 0.25),
		Median: Percentile(values, 0.5),
		Q3:     Percentile(values, 0.75),
		Max:    Max(values),
		Count:  CountNonNull(values),
	}
}

// Resample aggregates the frame onto a fixed frequency using the supplied
// reducer (e.g. Mean) per bucket. Buckets with no source rows are NaN.
func (f *Frame) Resample(freq time.Duration, reduce func([]float64) float64) *Frame {
	if f.Len() == 0 {
		return New()
	}
	start := f.index[0].Truncate(freq)
	end := f.index[len(f.index)-1]
	var buckets []time.Time
	for t := start; !t.After(end); t = t.Add(freq) {
		buckets = append(buckets, t)
	}
	out := NewFromIndex(buckets)
	bucketOf := func(t time.Time) int {
		d := t.Sub(start)
		idx := int(d / freq)
		if idx < 0 || idx >= len(buckets) {
			return -1
		}
		return idx
	}
	for _, name := range f.order {
		col, _ := f.Column(name)
		grouped := make([][]float64, len(buckets))
		for row, t := range f.index {
			b := bucketOf(t)
			if b < 0 {
				continue
			}
			grouped[b] = append(grouped[b], col[row])
		}
		vals := make([]float64, len(buckets))
		for i, g := range grouped {
			if len(g) == 0 {
				vals[i] = math.NaN()
			} else {
				vals[i] = reduce(g)
			}
		}
		out.SetColumn(name, buckets, vals)
	}
	return out
}

// Interpolate fills interior NaN gaps in every column via linear
// interpolation between the nearest non-null neighbours. Leading/trailing
// gaps are left as NaN.
func (f *Frame) Interpolate() {
	for _, name := range f.order {
		col := f.columns[name]
		interpolateInPlace(col)
		f.columns[name] = col
	}
}

func interpolateInPlace(col []float64) {
	n := len(col)
	i := 0
	for i < n {
		if !math.IsNaN(col[i]) {
			i++
			continue
		}
		start := i - 1
		j := i
		for j < n && math.IsNaN(col[j]) {
			j++
		}
		if start < 0 || j >= n {
			i = j
			continue
		}
		lo, hi := col[start], col[j]
		span := j - start
		for k := start + 1; k < j; k++ {
			frac := float64(k-start) / float64(span)
			col[k] = lo + frac*(hi-lo)
		}
		i = j
	}
}

// LongRow is one (timestamp, variable, value) record of a long-form table.
type LongRow struct {
	Time     time.Time
	Variable string
	Value    float64
}

// ToLong pivots selected columns (or all, if empty) into long form.
func (f *Frame) ToLong(columns ...string) []LongRow {
	cols := columns
	if len(cols) == 0 {
		cols = f.order
	}
	rows := make([]LongRow, 0, len(cols)*f.Len())
	for _, name := range cols {
		col, ok := f.columns[name]
		if !ok {
			continue
		}
		for row, t := range f.index {
			rows = append(rows, LongRow{Time: t, Variable: name, Value: col[row]})
		}
	}
	return rows
}

// FromLong pivots a long-form table back into a wide Frame keyed by Variable.
func FromLong(rows []LongRow) *Frame {
	timeSet := make(map[int64]time.Time)
	byVar := make(map[string][]LongRow)
	for _, r := range rows {
		timeSet[r.Time.UnixNano()] = r.Time
		byVar[r.Variable] = append(byVar[r.Variable], r)
	}
	idx := make([]time.Time, 0, len(timeSet))
	for _, t := range timeSet {
		idx = append(idx, t)
	}
	out := NewFromIndex(idx)
	for variable, vrows := range byVar {
		times := make([]time.Time, len(vrows))
		vals := make([]float64, len(vrows))
		for i, r := range vrows {
			times[i] = r.Time
			vals[i] = r.Value
		}
		out.SetColumn(variable, times, vals)
	}
	return out
}
