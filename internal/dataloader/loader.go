// Package dataloader implements the data loader / validator (C6): ingesting
// challenges, forecaster submissions, and measurements into per-resource
// buyer contexts, and enforcing the quantile/history eligibility gates.
package dataloader

import (
	"sort"
	"strings"
	"time"

	"github.com/INESCTEC/predico-collabforecast-sub000/internal/domain"
	"github.com/INESCTEC/predico-collabforecast-sub000/internal/frame"
	"github.com/INESCTEC/predico-collabforecast-sub000/internal/marketerr"
)

// BuyerContext is the per-(buyer, resource) forecast context owned
// exclusively by the orchestrator for the duration of one run_session: the
// canonical dataset range, the wide forecaster matrix, and the attached
// measurement series.
type BuyerContext struct {
	ResourceID    string
	BuyerID       string
	DatasetRange  []time.Time // canonical forecast-range timestamps for this resource's challenges
	Challenges    []domain.Challenge
	Forecasts     *frame.Frame // wide, this session's challenge window: columns "{forecaster}_{quantile}"
	TrainForecasts *frame.Frame // wide, one month of history ending at the max challenge end, used to fit strategies
	Measurements  *frame.Frame // single "target" column
	RemovedForecasters []RemovedForecaster
}

// RemovedForecaster records a (resource, forecaster) pair dropped from
// ensembling for insufficient submission history.
type RemovedForecaster struct {
	ForecasterID string
	Reason       string
}

// Loader holds configuration needed across load operations.
type Loader struct {
	TimeResolution        time.Duration
	MinSubmissionDays     int
	MinSubmissionLookback int
}

// NewLoader returns a Loader with the given eligibility configuration.
func NewLoader(resolution time.Duration, minSubmissionDays, minSubmissionLookbackDays int) *Loader {
	return &Loader{TimeResolution: resolution, MinSubmissionDays: minSubmissionDays, MinSubmissionLookback: minSubmissionLookbackDays}
}

// LoadChallenges builds one BuyerContext per resource from the given
// challenges. Challenges with no submissions are dropped (logged by the
// caller); if every challenge is dropped this fails with no-buyers.
func (l *Loader) LoadChallenges(challenges []domain.Challenge) (map[string]*BuyerContext, []domain.Challenge, error) {
	if challenges == nil {
		return nil, nil, marketerr.New(marketerr.KindValidation, "load_challenges expects a list of challenge records")
	}

	var kept, dropped []domain.Challenge
	for _, c := range challenges {
		if len(c.Submissions) == 0 {
			dropped = append(dropped, c)
			continue
		}
		kept = append(kept, c)
	}
	if len(kept) == 0 {
		return nil, dropped, marketerr.New(marketerr.KindNoBuyers, "every challenge had an empty submission list")
	}

	contexts := make(map[string]*BuyerContext)
	byResource := map[string][]domain.Challenge{}
	for _, c := range kept {
		byResource[c.ResourceID] = append(byResource[c.ResourceID], c)
	}

	for resourceID, cs := range byResource {
		datasetRange := canonicalRange(cs, l.TimeResolution)
		contexts[resourceID] = &BuyerContext{
			ResourceID:   resourceID,
			BuyerID:      cs[0].BuyerID,
			DatasetRange: datasetRange,
			Challenges:   cs,
			Forecasts:    frame.NewFromIndex(datasetRange),
		}
	}
	return contexts, dropped, nil
}

// canonicalRange is the union of every challenge window's timestamps at the
// configured resolution, sorted and deduplicated.
func canonicalRange(challenges []domain.Challenge, resolution time.Duration) []time.Time {
	seen := map[int64]time.Time{}
	for _, c := range challenges {
		for t := c.Start; !t.After(c.End); t = t.Add(resolution) {
			seen[t.UnixNano()] = t
		}
	}
	out := make([]time.Time, 0, len(seen))
	for _, t := range seen {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// LoadForecasters inserts every forecaster's raw submission series into the
// resource's buyer context as an outer join on the dataset's time index.
// Forecasters whose last MinSubmissionLookback days have fewer than
// MinSubmissionDays*96 non-null rows are flagged for removal, unless doing
// so would leave the resource with zero forecasters.
func (l *Loader) LoadForecasters(contexts map[string]*BuyerContext, submissions []domain.Submission) {
	bySubmission := map[string][]domain.Submission{}
	for _, s := range submissions {
		ctx, ok := findContextForSubmission(contexts, s)
		if !ok {
			continue
		}
		ctx.Forecasts.SetColumn(s.ColumnName(), s.Index, s.Values)
		bySubmission[ctx.ResourceID] = append(bySubmission[ctx.ResourceID], s)
	}

	lookback := l.MinSubmissionLookback * 96
	minCount := l.MinSubmissionDays * 96

	for _, ctx := range contexts {
		forecasterCols := map[string][]string{} // forecaster -> its quantile columns
		for _, col := range ctx.Forecasts.Columns() {
			fid := ForecasterIDFromColumn(col)
			forecasterCols[fid] = append(forecasterCols[fid], col)
		}

		candidates := map[string]bool{}
		for fid, cols := range forecasterCols {
			belowThreshold := false
			for _, col := range cols {
				series, _ := ctx.Forecasts.Column(col)
				tail := series
				if len(tail) > lookback {
					tail = tail[len(tail)-lookback:]
				}
				if frame.CountNonNull(tail) < minCount {
					belowThreshold = true
					break
				}
			}
			if belowThreshold {
				candidates[fid] = true
			}
		}

		// Never remove every forecaster for a resource.
		if len(candidates) == len(forecasterCols) {
			candidates = map[string]bool{}
		}
		for fid := range candidates {
			for _, col := range forecasterCols[fid] {
				ctx.Forecasts.DropColumn(col)
			}
			ctx.RemovedForecasters = append(ctx.RemovedForecasters, RemovedForecaster{ForecasterID: fid, Reason: "insufficient submission history"})
		}
	}
}

// LoadTrainingForecasters builds a resource's training frame from one month
// of historical forecaster submissions (spec.md §4.7.2 step 3), indexed by
// the union of those submissions' own timestamps. This is deliberately kept
// separate from ctx.Forecasts, which only spans the current session's
// challenge window: fitting a strategy against the window it is about to
// predict for would join against unobserved future measurements and starve
// every forecaster of a score.
func (l *Loader) LoadTrainingForecasters(contexts map[string]*BuyerContext, resourceID string, submissions []domain.Submission) {
	ctx, ok := contexts[resourceID]
	if !ok {
		return
	}
	if len(submissions) == 0 {
		ctx.TrainForecasts = frame.New()
		return
	}

	seen := map[int64]time.Time{}
	for _, s := range submissions {
		for _, t := range s.Index {
			seen[t.UnixNano()] = t
		}
	}
	idx := make([]time.Time, 0, len(seen))
	for _, t := range seen {
		idx = append(idx, t)
	}
	sort.Slice(idx, func(i, j int) bool { return idx[i].Before(idx[j]) })

	train := frame.NewFromIndex(idx)
	for _, s := range submissions {
		train.SetColumn(s.ColumnName(), s.Index, s.Values)
	}
	ctx.TrainForecasts = train
}

// ApplyContinuousFallback auto-submits a forecaster's most recent standing
// forecast into challenges where they opted into continuous forecasting
// (continuousForecasterIDs, keyed by resource id) but filed no manual
// submission this session. lastKnown holds each forecaster's latest
// per-quantile series, keyed by forecaster id then quantile; a forecaster
// with no prior series yet is skipped (nothing to fall back to). Fires at
// most once per forecaster per challenge, since LoadForecasters has already
// populated ctx.Forecasts with every manual submission by the time this
// runs.
func (l *Loader) ApplyContinuousFallback(contexts map[string]*BuyerContext, continuousForecasterIDs map[string][]string, lastKnown map[string]map[string]domain.Submission) []domain.Submission {
	var synthesized []domain.Submission

	for resourceID, fids := range continuousForecasterIDs {
		ctx, ok := contexts[resourceID]
		if !ok {
			continue
		}
		present := map[string]bool{}
		for _, col := range ctx.Forecasts.Columns() {
			present[ForecasterIDFromColumn(col)] = true
		}

		challengeID := currentChallengeID(ctx.Challenges)

		for _, fid := range fids {
			if present[fid] {
				continue
			}
			byQuantile, ok := lastKnown[fid]
			if !ok {
				continue
			}
			for quantile, lastSub := range byQuantile {
				values := make([]float64, len(ctx.DatasetRange))
				carried := lastSub.Values[len(lastSub.Values)-1]
				for i := range values {
					values[i] = carried
				}
				sub := domain.Submission{
					ID:           lastSub.ID,
					ForecasterID: fid,
					ChallengeID:  challengeID,
					Quantile:     quantile,
					Kind:         domain.SubmissionContinuous,
					Index:        ctx.DatasetRange,
					Values:       values,
				}
				ctx.Forecasts.SetColumn(sub.ColumnName(), sub.Index, sub.Values)
				synthesized = append(synthesized, sub)
			}
		}
	}
	return synthesized
}

// currentChallengeID returns the challenge a synthesized continuous
// submission should be attributed to: this session's challenge for the
// resource, not whatever challenge the forecaster's last manual submission
// happened to belong to.
func currentChallengeID(challenges []domain.Challenge) string {
	if len(challenges) == 0 {
		return ""
	}
	return challenges[0].ID
}

func findContextForSubmission(contexts map[string]*BuyerContext, s domain.Submission) (*BuyerContext, bool) {
	for _, ctx := range contexts {
		for _, c := range ctx.Challenges {
			if c.ID == s.ChallengeID {
				return ctx, true
			}
		}
	}
	return nil, false
}

// ForecasterIDFromColumn strips the "_{quantile}" suffix from a wide-matrix
// column name to recover the owning forecaster's id.
func ForecasterIDFromColumn(column string) string {
	idx := strings.LastIndex(column, "_q")
	if idx < 0 {
		return column
	}
	return column[:idx]
}

// LoadBuyerMeasurements resamples each resource's raw one-month observed
// history to the configured resolution with mean aggregation, keeping it on
// its own resampled index. This series is used as the Fit-time target
// (y_train against the training forecaster matrix); it deliberately is not
// reindexed onto the buyer's challenge-window DatasetRange, which covers a
// different, typically future, span with no observations yet.
func (l *Loader) LoadBuyerMeasurements(contexts map[string]*BuyerContext, raw map[string]*frame.Frame) {
	for resourceID, ctx := range contexts {
		series, ok := raw[resourceID]
		if !ok {
			ctx.Measurements = frame.New()
			continue
		}
		ctx.Measurements = series.Resample(l.TimeResolution, frame.Mean)
	}
}

// ValidateForecasters is a pure function used by strategies: it returns the
// forecaster ids whose forecast-window slice has non-null data for every
// configured quantile, and the subset of columns with at least minSamples
// non-null historical points among those survivors.
func ValidateForecasters(forecastRange []time.Time, marketMatrix *frame.Frame, quantiles []string, minSamples int) (validForecasters []string, sufficientHistoryColumns []string) {
	window := marketMatrix.Reindex(forecastRange)

	byForecaster := map[string][]string{}
	for _, col := range marketMatrix.Columns() {
		fid := ForecasterIDFromColumn(col)
		byForecaster[fid] = append(byForecaster[fid], col)
	}

	for fid, cols := range byForecaster {
		hasAllQuantiles := true
		colsByQuantile := map[string]string{}
		for _, c := range cols {
			for _, q := range quantiles {
				if strings.HasSuffix(c, "_"+q) {
					colsByQuantile[q] = c
				}
			}
		}
		for _, q := range quantiles {
			col, ok := colsByQuantile[q]
			if !ok {
				hasAllQuantiles = false
				break
			}
			series, _ := window.Column(col)
			if frame.CountNonNull(series) == 0 {
				hasAllQuantiles = false
				break
			}
		}
		if hasAllQuantiles {
			validForecasters = append(validForecasters, fid)
		}
	}
	sort.Strings(validForecasters)

	validSet := map[string]bool{}
	for _, f := range validForecasters {
		validSet[f] = true
	}
	for _, col := range marketMatrix.Columns() {
		fid := ForecasterIDFromColumn(col)
		if !validSet[fid] {
			continue
		}
		series, _ := marketMatrix.Column(col)
		if frame.CountNonNull(series) >= minSamples {
			sufficientHistoryColumns = append(sufficientHistoryColumns, col)
		}
	}
	sort.Strings(sufficientHistoryColumns)
	return validForecasters, sufficientHistoryColumns
}
