package strategy

import (
	"fmt"
	"math"

	"github.com/INESCTEC/predico-collabforecast-sub000/internal/frame"
	"github.com/INESCTEC/predico-collabforecast-sub000/internal/marketerr"
	"github.com/INESCTEC/predico-collabforecast-sub000/internal/skillscore"
)

// WeightedAverageParams configures the production ensemble strategy.
type WeightedAverageParams struct {
	Beta                   float64
	OutlierDetection       bool
	OutlierAlpha           float64
	MinForecastersOutlier  int
	DefaultScore           float64
	NScoreDays             int
}

// DefaultWeightedAverageParams mirrors the canonical market defaults.
func DefaultWeightedAverageParams() WeightedAverageParams {
	return WeightedAverageParams{
		Beta:                  0.001,
		OutlierDetection:      true,
		OutlierAlpha:          20.0,
		MinForecastersOutlier: 4,
		DefaultScore:          999999,
		NScoreDays:            6,
	}
}

func (p WeightedAverageParams) outlierParams() OutlierParams {
	return OutlierParams{Enabled: p.OutlierDetection, Alpha: p.OutlierAlpha, MinForecasters: p.MinForecastersOutlier}
}

// WeightedAverage is the production ensemble: per-column weights are an
// exponentially decaying function of each forecaster's recent skill score.
type WeightedAverage struct {
	params  WeightedAverageParams
	fitted  bool
	scores  map[string]skillscore.ColumnScores // quantile -> column -> score
	weights map[string]QuantileWeights
	dropped map[string][]string // quantile -> dropped columns, kept for metadata
}

// NewWeightedAverage returns an unfitted weighted-average strategy.
func NewWeightedAverage(params WeightedAverageParams) *WeightedAverage {
	return &WeightedAverage{params: params, weights: map[string]QuantileWeights{}, dropped: map[string][]string{}}
}

func (w *WeightedAverage) Name() string { return "weighted_avg" }

func (w *WeightedAverage) IsFitted() bool                       { return w.fitted }
func (w *WeightedAverage) Weights() map[string]QuantileWeights  { return w.weights }

// Dropped returns, per quantile, the forecaster columns removed by outlier
// detection during the last Predict call.
func (w *WeightedAverage) Dropped() map[string][]string { return w.dropped }

// Beta returns the decay rate used in exp(-beta * score), for metadata.
func (w *WeightedAverage) Beta() float64 { return w.params.Beta }

// Fit delegates to the skill-score calculator and caches the result.
func (w *WeightedAverage) Fit(xTrain, yTrain *frame.Frame, quantiles []string) error {
	w.weights = map[string]QuantileWeights{}
	w.dropped = map[string][]string{}

	calc := skillscore.NewCalculator(quantiles)
	scores, err := calc.ComputeScores(xTrain, yTrain, quantiles, w.params.NScoreDays)
	if err != nil {
		return marketerr.Wrap(marketerr.KindStrategyExecution, "weighted_avg fit", err)
	}
	w.scores = scores
	w.fitted = true
	return nil
}

func (w *WeightedAverage) Predict(xTest *frame.Frame, quantiles []string) ([]frame.LongRow, error) {
	if !w.fitted {
		return nil, errNotFitted(w.Name())
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

		survivors, dropped := removeOutliers(xTest, cols, w.params.outlierParams())
		if len(dropped) > 0 {
			w.dropped[q] = dropped
		}
		if len(survivors) == 0 {
			continue
		}

		weights := make([]float64, len(survivors))
		sum := 0.0
		for i, c := range survivors {
			s := w.params.DefaultScore
			if scored, ok := w.scores[q][c]; ok {
				s = scored
			}
			wi := math.Exp(-w.params.Beta * s)
			weights[i] = wi
			sum += wi
		}
		if sum == 0 {
			return nil, marketerr.New(marketerr.KindStrategyExecution, fmt.Sprintf("weighted_avg: zero total weight for quantile %s", q))
		}
		for i := range weights {
			weights[i] /= sum
		}

		combined := make([]float64, xTest.Len())
		qw := QuantileWeights{}
		for i, c := range survivors {
			col, _ := xTest.Column(c)
			for row, v := range col {
				if math.IsNaN(v) {
					continue
				}
				combined[row] += weights[i] * v
			}
			qw[forecasterPrefix(c, q)] = weights[i]
		}
		clipNonNegative(combined)
		emitQuantile(&out, xTest.Index(), q, combined)
		w.weights[q] = qw
	}
	return out, nil
}
