package strategy

import (
	"math"

	"github.com/rs/zerolog/log"

	"github.com/INESCTEC/predico-collabforecast-sub000/internal/frame"
	"github.com/INESCTEC/predico-collabforecast-sub000/internal/skillscore"
)

// BestForecaster selects, per quantile, the single historically best-scored
// forecaster ("champion") and republishes its series unchanged.
type BestForecaster struct {
	params    WeightedAverageParams
	fitted    bool
	champions map[string]string // quantile -> column name
	weights   map[string]QuantileWeights
}

// NewBestForecaster returns an unfitted best-forecaster strategy.
func NewBestForecaster(params WeightedAverageParams) *BestForecaster {
	return &BestForecaster{params: params, champions: map[string]string{}, weights: map[string]QuantileWeights{}}
}

func (b *BestForecaster) Name() string                          { return "best_forecaster" }
func (b *BestForecaster) IsFitted() bool                        { return b.fitted }
func (b *BestForecaster) Weights() map[string]QuantileWeights   { return b.weights }

// Champions returns the selected champion column per quantile, for metadata.
func (b *BestForecaster) Champions() map[string]string { return b.champions }

// Fit computes scores exactly as WeightedAverage, then records the
// lowest-scoring column per quantile as the champion.
func (b *BestForecaster) Fit(xTrain, yTrain *frame.Frame, quantiles []string) error {
	b.champions = map[string]string{}
	b.weights = map[string]QuantileWeights{}

	calc := skillscore.NewCalculator(quantiles)
	scores, err := calc.ComputeScores(xTrain, yTrain, quantiles, b.params.NScoreDays)
	if err != nil {
		return err
	}

	for _, q := range quantiles {
		best := ""
		bestScore := math.Inf(1)
		for col, s := range scores[q] {
			if s < bestScore {
				bestScore = s
				best = col
			}
		}
		if best != "" {
			b.champions[q] = best
		}
	}
	b.fitted = true
	return nil
}

// Predict outputs the champion's forecast directly. If the champion column
// is absent from xTest, it falls back to the first available column for
// that quantile and logs a warning.
func (b *BestForecaster) Predict(xTest *frame.Frame, quantiles []string) ([]frame.LongRow, error) {
	if !b.fitted {
		return nil, errNotFitted(b.Name())
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

		champion, known := b.champions[q]
		chosen := champion
		if !known || !contains(cols, champion) {
			chosen = cols[0]
			log.Warn().Str("strategy", b.Name()).Str("quantile", q).Str("champion", champion).Str("fallback", chosen).
				Msg("champion forecaster absent from test data, falling back to first available column")
		}

		col, _ := xTest.Column(chosen)
		values := append([]float64(nil), col...)
		clipNonNegative(values)
		emitQuantile(&out, xTest.Index(), q, values)

		b.weights[q] = QuantileWeights{forecasterPrefix(chosen, q): 1.0}
	}
	return out, nil
}

func contains(list []string, target string) bool {
	for _, v := range list {
		if v == target {
			return true
		}
	}
	return false
}
