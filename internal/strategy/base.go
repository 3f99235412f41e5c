package strategy

import (
	"github.com/INESCTEC/predico-collabforecast-sub000/internal/frame"
)

// simpleStrategy is a base helper for strategies that need nothing more
// than "iterate quantiles, extract matching columns, format the output
// table, weight every column equally" (no outlier removal). Median embeds it; other strategies
// that need skill-score-derived weights bypass it.
type simpleStrategy struct {
	fitted  bool
	weights map[string]QuantileWeights
}

func (s *simpleStrategy) IsFitted() bool { return s.fitted }

func (s *simpleStrategy) Weights() map[string]QuantileWeights {
	return s.weights
}

func (s *simpleStrategy) resetWeights() {
	s.weights = make(map[string]QuantileWeights)
}

// predictEqualWeighted runs aggregate over every matching column for each
// quantile, records equal weights 1/n, and assembles the long-form table.
// aggregate receives the per-forecaster slices, aligned row-for-row, and
// returns the combined series.
func (s *simpleStrategy) predictEqualWeighted(xTest *frame.Frame, quantiles []string, strategyName string, aggregate func(rows [][]float64) []float64) ([]frame.LongRow, error) {
	if !s.fitted {
		return nil, errNotFitted(strategyName)
	}
	if xTest.Len() == 0 {
		return nil, nil
	}

	var out []frame.LongRow
	for _, q := range quantiles {
		cols := columnsForQuantile(xTest, q)
		if len(cols) == 0 {
			continue
		}

		series := make([][]float64, len(cols))
		for i, c := range cols {
			col, _ := xTest.Column(c)
			series[i] = col
		}
		combined := aggregate(series)
		clipNonNegative(combined)
		emitQuantile(&out, xTest.Index(), q, combined)

		qw := QuantileWeights{}
		weight := 1.0 / float64(len(cols))
		for _, c := range cols {
			qw[forecasterPrefix(c, q)] = weight
		}
		s.weights[q] = qw
	}
	return out, nil
}
