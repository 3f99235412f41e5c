package strategy

import "github.com/INESCTEC/predico-collabforecast-sub000/internal/frame"

// ArithmeticMean is the unweighted benchmark: equal weight 1/n across
// survivors after optional outlier removal.
type ArithmeticMean struct {
	params  OutlierParams
	fitted  bool
	weights map[string]QuantileWeights
	dropped map[string][]string
}

// NewArithmeticMean returns an unfitted arithmetic-mean strategy.
func NewArithmeticMean(params OutlierParams) *ArithmeticMean {
	return &ArithmeticMean{params: params, weights: map[string]QuantileWeights{}, dropped: map[string][]string{}}
}

func (a *ArithmeticMean) Name() string                           { return "arithmetic_mean" }
func (a *ArithmeticMean) IsFitted() bool                         { return a.fitted }
func (a *ArithmeticMean) Weights() map[string]QuantileWeights    { return a.weights }
func (a *ArithmeticMean) Dropped() map[string][]string           { return a.dropped }

// Fit has no history-derived state beyond marking readiness: the mean needs
// no skill scores.
func (a *ArithmeticMean) Fit(xTrain, yTrain *frame.Frame, quantiles []string) error {
	a.weights = map[string]QuantileWeights{}
	a.dropped = map[string][]string{}
	a.fitted = true
	return nil
}

func (a *ArithmeticMean) Predict(xTest *frame.Frame, quantiles []string) ([]frame.LongRow, error) {
	if !a.fitted {
		return nil, errNotFitted(a.Name())
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
		survivors, dropped := removeOutliers(xTest, cols, a.params)
		if len(dropped) > 0 {
			a.dropped[q] = dropped
		}
		if len(survivors) == 0 {
			continue
		}

		combined := make([]float64, xTest.Len())
		counts := make([]int, xTest.Len())
		for _, c := range survivors {
			col, _ := xTest.Column(c)
			for row, v := range col {
				if v != v { // NaN
					continue
				}
				combined[row] += v
				counts[row]++
			}
		}
		for row := range combined {
			if counts[row] > 0 {
				combined[row] /= float64(counts[row])
			}
		}
		clipNonNegative(combined)
		emitQuantile(&out, xTest.Index(), q, combined)

		qw := QuantileWeights{}
		weight := 1.0 / float64(len(survivors))
		for _, c := range survivors {
			qw[forecasterPrefix(c, q)] = weight
		}
		a.weights[q] = qw
	}
	return out, nil
}
