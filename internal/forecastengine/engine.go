// Package forecastengine implements the forecast engine (C5): for one
// resource, select ensemble strategies from configuration and run each,
// producing a per-strategy Result.
package forecastengine

import (
	"fmt"
	"sync"
	"time"

	"github.com/INESCTEC/predico-collabforecast-sub000/internal/config"
	"github.com/INESCTEC/predico-collabforecast-sub000/internal/dataloader"
	"github.com/INESCTEC/predico-collabforecast-sub000/internal/frame"
	"github.com/INESCTEC/predico-collabforecast-sub000/internal/marketerr"
	"github.com/INESCTEC/predico-collabforecast-sub000/internal/strategy"
)

// Result is the discriminated-union-style output of one strategy run,
// avoiding any downstream runtime type introspection.
type Result struct {
	StrategyName string
	Predictions  []frame.LongRow
	Weights      map[string]strategy.QuantileWeights
	Metadata     map[string]interface{}
}

// Engine runs one or more strategies per resource, caching one instance per
// (resource, strategy) pair across calls; every Forecast call refits the
// instance before predicting.
type Engine struct {
	mu        sync.Mutex
	registry  *strategy.Registry
	settings  config.Settings
	instances map[string]strategy.Strategy // "resourceID/strategy name" -> cached instance
	results   map[string]Result            // strategy name -> last result
}

// NewEngine returns an Engine bound to a resource-independent strategy
// registry and the market settings.
func NewEngine(registry *strategy.Registry, settings config.Settings) *Engine {
	return &Engine{
		registry:  registry,
		settings:  settings,
		instances: make(map[string]strategy.Strategy),
		results:   make(map[string]Result),
	}
}

// resolveStrategies returns the configured strategy list for a resource,
// falling back to the single configured default.
func (e *Engine) resolveStrategies(resourceID string, requested []string) []string {
	if len(requested) > 0 {
		return requested
	}
	if names, ok := e.settings.Strategy.PerResource[resourceID]; ok && len(names) > 0 {
		return names
	}
	return []string{e.settings.Strategy.Default}
}

func (e *Engine) resolveQuantiles(requested []string) []string {
	if len(requested) > 0 {
		return requested
	}
	return e.settings.Market.Quantiles
}

// Forecast runs every selected strategy for resourceID in configuration
// order, instantiating and caching each strategy once per resource. A strategy-not-found
// error is re-raised; any other strategy failure is wrapped as
// strategy-execution and aborts the forecast for this resource.
func (e *Engine) Forecast(resourceID string, xTrain, yTrain, xTest *frame.Frame, strategies, quantiles []string) (map[string]Result, error) {
	names := e.resolveStrategies(resourceID, strategies)
	qs := e.resolveQuantiles(quantiles)
	xTrain, xTest = e.filterValidForecasters(xTrain, xTest, qs)

	results := make(map[string]Result, len(names))
	for _, name := range names {
		inst, err := e.getOrCreate(resourceID, name)
		if err != nil {
			return nil, err // strategy-not-found, re-raised as-is
		}

		if err := inst.Fit(xTrain, yTrain, qs); err != nil {
			return nil, marketerr.Wrap(marketerr.KindStrategyExecution, fmt.Sprintf("strategy %q resource %q fit", name, resourceID), err)
		}
		predictions, err := inst.Predict(xTest, qs)
		if err != nil {
			return nil, marketerr.Wrap(marketerr.KindStrategyExecution, fmt.Sprintf("strategy %q resource %q predict", name, resourceID), err)
		}

		result := Result{
			StrategyName: name,
			Predictions:  predictions,
			Weights:      inst.Weights(),
			Metadata:     metadataFor(inst),
		}
		results[name] = result
	}

	e.mu.Lock()
	for name, r := range results {
		e.results[name] = r
	}
	e.mu.Unlock()

	return results, nil
}

// filterValidForecasters drops any forecaster missing one of the configured
// quantiles over the prediction window, or without enough historical
// samples in the training window, before a strategy ever sees the columns
// (Data Model invariant 1: a forecaster contributes to an ensemble only if
// it submitted every configured quantile). xTrain and xTest are never
// mutated; filtered copies are returned. Filtering never drops every
// forecaster: a resource with no fitting history yet still gets to
// ensemble on quantile-completeness alone.
func (e *Engine) filterValidForecasters(xTrain, xTest *frame.Frame, quantiles []string) (*frame.Frame, *frame.Frame) {
	if xTrain == nil || xTest == nil {
		return xTrain, xTest
	}

	complete, _ := dataloader.ValidateForecasters(xTest.Index(), xTest, quantiles, 0)
	_, sufficientCols := dataloader.ValidateForecasters(xTrain.Index(), xTrain, quantiles, e.settings.Strategy.ValidateMinSamples)

	sufficientHistory := make(map[string]bool, len(sufficientCols))
	for _, col := range sufficientCols {
		sufficientHistory[dataloader.ForecasterIDFromColumn(col)] = true
	}

	valid := make(map[string]bool, len(complete))
	for _, fid := range complete {
		if sufficientHistory[fid] {
			valid[fid] = true
		}
	}
	if len(valid) == 0 {
		for _, fid := range complete {
			valid[fid] = true
		}
	}

	return selectForecasterColumns(xTrain, valid), selectForecasterColumns(xTest, valid)
}

// selectForecasterColumns returns a copy of f retaining only the columns
// whose owning forecaster is in valid.
func selectForecasterColumns(f *frame.Frame, valid map[string]bool) *frame.Frame {
	out := frame.NewFromIndex(f.Index())
	for _, col := range f.Columns() {
		if !valid[dataloader.ForecasterIDFromColumn(col)] {
			continue
		}
		vals, _ := f.Column(col)
		out.SetColumn(col, f.Index(), vals)
	}
	return out
}

func (e *Engine) getOrCreate(resourceID, name string) (strategy.Strategy, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	key := resourceID + "/" + name
	if inst, ok := e.instances[key]; ok {
		return inst, nil
	}
	inst, err := e.registry.Get(name)
	if err != nil {
		return nil, marketerr.Wrap(marketerr.KindStrategyNotFound, name, err)
	}
	e.instances[key] = inst
	return inst, nil
}

// metadataFor extracts strategy-specific metadata (dropped outliers,
// selected champion) without any type switch leaking downstream: callers
// only ever see the flat map.
func metadataFor(inst strategy.Strategy) map[string]interface{} {
	meta := map[string]interface{}{}
	switch s := inst.(type) {
	case *strategy.WeightedAverage:
		meta["dropped_outliers"] = s.Dropped()
		meta["beta"] = s.Beta()
	case *strategy.ArithmeticMean:
		meta["dropped_outliers"] = s.Dropped()
	case *strategy.BestForecaster:
		meta["champions"] = s.Champions()
	}
	return meta
}

// GetResults returns the latest result of each strategy across every
// Forecast call made on this engine, keyed by strategy name. Results are not
// kept per resource: a later resource's result replaces an earlier one's for
// the same strategy. Fails if none stored.
func (e *Engine) GetResults() (map[string]Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.results) == 0 {
		return nil, marketerr.New(marketerr.KindValidation, "no forecast results stored")
	}
	out := make(map[string]Result, len(e.results))
	for k, v := range e.results {
		out[k] = v
	}
	return out, nil
}

// GetComparison merges every strategy's predictions into a wide table keyed
// by (timestamp, quantile) with one column per strategy, for side-by-side
// viewing.
func (e *Engine) GetComparison() (*frame.Frame, error) {
	results, err := e.GetResults()
	if err != nil {
		return nil, err
	}

	out := frame.New()
	for name, r := range results {
		byQuantile := map[string][]frame.LongRow{}
		for _, row := range r.Predictions {
			byQuantile[row.Variable] = append(byQuantile[row.Variable], row)
		}
		for quantile, rows := range byQuantile {
			colName := fmt.Sprintf("%s_%s", name, quantile)
			idxTimes := make([]time.Time, len(rows))
			values := make([]float64, len(rows))
			for i, row := range rows {
				idxTimes[i] = row.Time
				values[i] = row.Value
			}
			out.SetColumn(colName, idxTimes, values)
		}
	}
	return out, nil
}

// ClearResults discards every cached result.
func (e *Engine) ClearResults() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.results = make(map[string]Result)
}

// ClearStrategyCache discards every cached strategy instance, forcing the
// next Forecast call to re-instantiate (and thus re-fit) from scratch.
func (e *Engine) ClearStrategyCache() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.instances = make(map[string]strategy.Strategy)
}
