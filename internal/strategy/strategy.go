package strategy

import (
	"fmt"
	"strings"
	"time"

	"github.com/INESCTEC/predico-collabforecast-sub000/internal/frame"
	"github.com/INESCTEC/predico-collabforecast-sub000/internal/marketerr"
	"github.com/INESCTEC/predico-collabforecast-sub000/internal/outlier"
)

// QuantileWeights maps a forecaster prefix (column name without its
// trailing "_q??") to its weight within one quantile.
type QuantileWeights map[string]float64

// Strategy is the contract every ensemble strategy implements: fit on
// history, predict over a test window, and expose per-quantile weights.
type Strategy interface {
	Name() string
	Fit(xTrain, yTrain *frame.Frame, quantiles []string) error
	Predict(xTest *frame.Frame, quantiles []string) ([]frame.LongRow, error)
	Weights() map[string]QuantileWeights
	IsFitted() bool
}

// OutlierParams configures outlier removal, shared by several strategies.
type OutlierParams struct {
	Enabled        bool
	Alpha          float64
	MinForecasters int
}

// DefaultOutlierParams mirrors the canonical market defaults.
func DefaultOutlierParams() OutlierParams {
	return OutlierParams{Enabled: true, Alpha: 20.0, MinForecasters: 4}
}

// columnsForQuantile returns every column in m whose name ends in
// "_{quantile}".
func columnsForQuantile(m *frame.Frame, quantile string) []string {
	suffix := "_" + quantile
	var cols []string
	for _, c := range m.Columns() {
		if strings.HasSuffix(c, suffix) {
			cols = append(cols, c)
		}
	}
	return cols
}

func forecasterPrefix(column, quantile string) string {
	return strings.TrimSuffix(column, "_"+quantile)
}

// removeOutliers applies the outlier detector to the submitted columns for
// one quantile slice of m, returning the surviving column names and the
// dropped ones (for metadata).
func removeOutliers(m *frame.Frame, cols []string, p OutlierParams) (survivors, dropped []string) {
	if !p.Enabled || len(cols) < p.MinForecasters {
		return cols, nil
	}
	sub := frame.NewFromIndex(m.Index())
	for _, c := range cols {
		col, _ := m.Column(c)
		sub.SetColumn(c, m.Index(), col)
	}
	det := outlier.NewDetector(p.Alpha, p.MinForecasters)
	flagged := det.Detect(sub)
	flaggedSet := make(map[string]bool, len(flagged))
	for _, f := range flagged {
		flaggedSet[f] = true
	}
	for _, c := range cols {
		if flaggedSet[c] {
			dropped = append(dropped, c)
		} else {
			survivors = append(survivors, c)
		}
	}
	return survivors, dropped
}

// clipNonNegative clips every value in place to >= 0, the energy physical
// bound (invariant 4).
func clipNonNegative(values []float64) {
	for i, v := range values {
		if v < 0 {
			values[i] = 0
		}
	}
}

// emitQuantile appends (time, quantile, value) rows to out for a computed series.
func emitQuantile(out *[]frame.LongRow, idx []time.Time, quantile string, values []float64) {
	for i, t := range idx {
		*out = append(*out, frame.LongRow{Time: t, Variable: quantile, Value: values[i]})
	}
}

// errNotFitted constructs the not-fitted error for predict-before-fit.
func errNotFitted(strategyName string) error {
	return marketerr.New(marketerr.KindNotFitted, fmt.Sprintf("%s: predict called before fit", strategyName))
}
