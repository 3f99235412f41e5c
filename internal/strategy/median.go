package strategy

import "github.com/INESCTEC/predico-collabforecast-sub000/internal/frame"

// Median outputs, per quantile, the per-timestamp median across every
// submitted forecaster column (no outlier removal), weighted equally. It exercises the simpleStrategy base path
// and needs no training beyond noting it has been fit.
type Median struct {
	simpleStrategy
}

// NewMedian returns an unfitted Median strategy.
func NewMedian() *Median {
	m := &Median{}
	m.resetWeights()
	return m
}

func (m *Median) Name() string { return "median" }

// Fit has nothing to learn from history; it only marks the strategy ready.
func (m *Median) Fit(xTrain, yTrain *frame.Frame, quantiles []string) error {
	m.resetWeights()
	m.fitted = true
	return nil
}

func (m *Median) Predict(xTest *frame.Frame, quantiles []string) ([]frame.LongRow, error) {
	return m.predictEqualWeighted(xTest, quantiles, m.Name(), medianAcrossRows)
}

// medianAcrossRows computes, for each row position, the median across the
// given per-forecaster series.
func medianAcrossRows(series [][]float64) []float64 {
	if len(series) == 0 {
		return nil
	}
	n := len(series[0])
	out := make([]float64, n)
	row := make([]float64, len(series))
	for i := 0; i < n; i++ {
		for j := range series {
			row[j] = series[j][i]
		}
		out[i] = frame.Median(row)
	}
	return out
}
