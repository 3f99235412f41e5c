// Package skillscore implements the skill-score calculator (C1): RMSE,
// Pinball, and Winkler scoring of forecaster columns against observed
// measurements.
package skillscore

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/INESCTEC/predico-collabforecast-sub000/internal/frame"
	"github.com/INESCTEC/predico-collabforecast-sub000/internal/marketerr"
)

// Calculator computes skill scores over a time window. It holds no mutable
// state and is safe for concurrent use.
type Calculator struct {
	quantiles []string
}

// NewCalculator returns a Calculator configured with the market's quantile set.
func NewCalculator(quantiles []string) *Calculator {
	return &Calculator{quantiles: append([]string(nil), quantiles...)}
}

// ParseQuantile extracts the probability level from a label like "q10" -> 0.1.
func ParseQuantile(label string) (float64, error) {
	if !strings.HasPrefix(label, "q") {
		return 0, fmt.Errorf("invalid quantile label %q", label)
	}
	n, err := strconv.Atoi(label[1:])
	if err != nil {
		return 0, fmt.Errorf("invalid quantile label %q: %w", label, err)
	}
	return float64(n) / 100.0, nil
}

// ColumnScores maps a forecaster/ensemble column name to its score.
type ColumnScores map[string]float64

// ComputeScores returns {quantile -> {column_name -> score}}. For each
// column in X matching suffix "_{quantile}", it takes the last n_days*96
// rows, inner-joins against y on index, drops rows with any null, then
// scores with RMSE (q50) or pinball loss (otherwise). An empty join after
// dropping nulls yields no entry for that column. Scores are rounded to
// three decimals.
func (c *Calculator) ComputeScores(X *frame.Frame, y *frame.Frame, quantiles []string, nDays int) (map[string]ColumnScores, error) {
	out := make(map[string]ColumnScores, len(quantiles))

	obsCol, ok := y.Column("target")
	if !ok {
		return out, nil
	}
	obsFrame := frame.NewFromIndex(y.Index())
	obsFrame.SetColumn("target", y.Index(), obsCol)

	for _, q := range quantiles {
		qVal, err := ParseQuantile(q)
		if err != nil {
			return nil, marketerr.Wrap(marketerr.KindValidation, "compute_scores", err)
		}

		scores := ColumnScores{}
		suffix := "_" + q
		for _, col := range X.Columns() {
			if !strings.HasSuffix(col, suffix) {
				continue
			}
			windowed := tailDays(X, col, nDays)
			if windowed.Len() == 0 {
				continue
			}
			joined := frame.InnerJoin(windowed, obsFrame).DropAnyNull(col, "target")
			if joined.Len() == 0 {
				continue
			}

			pred, _ := joined.Column(col)
			obs, _ := joined.Column("target")

			var score float64
			if q == "q50" {
				score = rmse(obs, pred)
			} else {
				score = pinball(obs, pred, qVal)
			}
			scores[col] = round3(score)
		}
		out[q] = scores
	}
	return out, nil
}

// tailDays returns a single-column frame over the last nDays*96 rows of col.
func tailDays(X *frame.Frame, col string, nDays int) *frame.Frame {
	c, ok := X.Column(col)
	if !ok {
		return frame.New()
	}
	n := nDays * 96
	sub := frame.NewFromIndex(X.Index())
	sub.SetColumn(col, X.Index(), c)
	return sub.Tail(n)
}

func rmse(obs, pred []float64) float64 {
	sumSq := 0.0
	for i := range obs {
		d := obs[i] - pred[i]
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(obs)))
}

func mae(obs, pred []float64) float64 {
	sum := 0.0
	for i := range obs {
		sum += math.Abs(obs[i] - pred[i])
	}
	return sum / float64(len(obs))
}

// pinball computes the mean pinball (quantile) loss at probability level q.
func pinball(obs, pred []float64, q float64) float64 {
	sum := 0.0
	for i := range obs {
		diff := obs[i] - pred[i]
		if diff > 0 {
			sum += q * diff
		} else {
			sum += (1 - q) * -diff
		}
	}
	return sum / float64(len(obs))
}

// winkler computes the mean Winkler interval score at the given alpha.
func winkler(obs, q10, q90 []float64, alpha float64) float64 {
	sum := 0.0
	for i := range obs {
		width := q90[i] - q10[i]
		penalty := 0.0
		if q10[i]-obs[i] > 0 {
			penalty += (2 / alpha) * (q10[i] - obs[i])
		}
		if obs[i]-q90[i] > 0 {
			penalty += (2 / alpha) * (obs[i] - q90[i])
		}
		sum += width + penalty
	}
	return sum / float64(len(obs))
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// ScoreRow is one (id, metric) score emitted by ComputeForecastersSkillScores.
// Quantile is set for pinball/rmse/mae rows (single-quantile metrics) and left
// empty for winkler, which spans the q10/q90 pair.
type ScoreRow struct {
	ID       string // submission id or ensemble id
	Metric   string
	Quantile string
	Value    float64
}

// SubmissionSeries is one forecaster's (or ensemble strategy's) series for a
// challenge, tagged with the quantile it represents.
type SubmissionSeries struct {
	ID       string // submission id or strategy/ensemble identity
	Quantile string
	Index    []time.Time
	Values   []float64
}

// ComputeForecastersSkillScores evaluates each submission against the
// observed series after the fact. For q50 it emits pinball, rmse, mae. For
// q10/q90 it emits pinball, and if the id also has the paired quantile it
// emits winkler too.
func (c *Calculator) ComputeForecastersSkillScores(observed []float64, obsIndex []time.Time, submissions []SubmissionSeries, winklerAlpha float64) ([]ScoreRow, error) {
	obs := frame.NewFromIndex(obsIndex)
	obs.SetColumn("target", obsIndex, observed)

	byID := map[string]map[string]SubmissionSeries{}
	for _, s := range submissions {
		if _, err := ParseQuantile(s.Quantile); err != nil {
			return nil, marketerr.Wrap(marketerr.KindValidation, "compute_forecasters_skill_scores", err)
		}
		if byID[s.ID] == nil {
			byID[s.ID] = map[string]SubmissionSeries{}
		}
		byID[s.ID][s.Quantile] = s
	}

	var rows []ScoreRow
	for id, byQuantile := range byID {
		for quantile, series := range byQuantile {
			aligned := frame.NewFromIndex(series.Index)
			aligned.SetColumn("v", series.Index, series.Values)
			joined := frame.InnerJoin(aligned, obs).DropAnyNull("v", "target")
			if joined.Len() == 0 {
				continue
			}
			pred, _ := joined.Column("v")
			target, _ := joined.Column("target")

			qVal, _ := ParseQuantile(quantile)
			rows = append(rows, ScoreRow{ID: id, Metric: "pinball", Quantile: quantile, Value: round3(pinball(target, pred, qVal))})

			if quantile == "q50" {
				rows = append(rows, ScoreRow{ID: id, Metric: "rmse", Quantile: quantile, Value: round3(rmse(target, pred))})
				rows = append(rows, ScoreRow{ID: id, Metric: "mae", Quantile: quantile, Value: round3(mae(target, pred))})
			}
		}

		q10, hasQ10 := byQuantile["q10"]
		q90, hasQ90 := byQuantile["q90"]
		if hasQ10 && hasQ90 {
			a := frame.NewFromIndex(q10.Index)
			a.SetColumn("q10", q10.Index, q10.Values)
			b := frame.NewFromIndex(q90.Index)
			b.SetColumn("q90", q90.Index, q90.Values)
			joined := frame.InnerJoin(frame.InnerJoin(a, b), obs).DropAnyNull("q10", "q90", "target")
			if joined.Len() > 0 {
				lo, _ := joined.Column("q10")
				hi, _ := joined.Column("q90")
				target, _ := joined.Column("target")
				rows = append(rows, ScoreRow{ID: id, Metric: "winkler", Value: round3(winkler(target, lo, hi, winklerAlpha))})
			}
		}
	}
	return rows, nil
}
