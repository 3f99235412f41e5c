package kpi

import (
	"math"
	"sort"
	"time"

	"github.com/INESCTEC/predico-collabforecast-sub000/internal/domain"
	"github.com/INESCTEC/predico-collabforecast-sub000/internal/frame"
)

// dailyRanks computes, for each calendar day present in scores, a dense rank
// (1 = best/lowest score) across forecasters that submitted that day, then
// returns the full forecaster -> day -> rank matrix plus the sorted list of
// days observed.
func (e *Engine) dailyRanks(scores []DailyScore) (map[string]map[time.Time]int, []time.Time) {
	byDay := map[time.Time]map[string]float64{}
	dayKeys := map[int64]time.Time{}
	for _, s := range scores {
		day := time.Date(s.Day.Year(), s.Day.Month(), s.Day.Day(), 0, 0, 0, 0, s.Day.Location())
		if byDay[day] == nil {
			byDay[day] = map[string]float64{}
		}
		byDay[day][s.ForecasterID] = s.Value
		dayKeys[day.UnixNano()] = day
	}

	days := make([]time.Time, 0, len(dayKeys))
	for _, d := range dayKeys {
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })

	out := map[string]map[time.Time]int{}
	for _, day := range days {
		forecasterScores := byDay[day]
		ids := make([]string, 0, len(forecasterScores))
		values := make([]float64, 0, len(forecasterScores))
		for fid, v := range forecasterScores {
			ids = append(ids, fid)
			values = append(values, v)
		}
		ranks := denseRankWithIDs(ids, values)
		for fid, r := range ranks {
			if out[fid] == nil {
				out[fid] = map[time.Time]int{}
			}
			out[fid][day] = r
		}
	}
	return out, days
}

// denseRank assigns 1-based dense ranks to values in ascending order (ties
// share the same rank, no gaps after a tie).
func denseRank(values []float64) []int {
	type idxVal struct {
		idx int
		val float64
	}
	pairs := make([]idxVal, len(values))
	for i, v := range values {
		pairs[i] = idxVal{i, v}
	}
	sort.SliceStable(pairs, func(i, j int) bool { return pairs[i].val < pairs[j].val })

	ranks := make([]int, len(values))
	rank := 0
	var prev float64
	for i, p := range pairs {
		if i == 0 || p.val != prev {
			rank++
		}
		ranks[p.idx] = rank
		prev = p.val
	}
	return ranks
}

func denseRankWithIDs(ids []string, values []float64) map[string]int {
	ranks := denseRank(values)
	out := make(map[string]int, len(ids))
	for i, id := range ids {
		out[id] = ranks[i]
	}
	return out
}

func summarizeRanks(rankMatrix map[string]map[time.Time]int) map[string]dailyRankStats {
	out := map[string]dailyRankStats{}
	for fid, byDay := range rankMatrix {
		values := make([]float64, 0, len(byDay))
		for _, r := range byDay {
			values = append(values, float64(r))
		}
		summary := frame.Summarize(values)
		out[fid] = dailyRankStats{
			avg:    frame.Mean(values),
			min:    summary.Min,
			max:    summary.Max,
			median: summary.Median,
			std:    frame.StdDev(values),
			count:  summary.Count,
		}
	}
	return out
}

// pivotForecasterDay builds a forecaster -> per-day score matrix (in the
// order of `days`), with NaN for days the forecaster didn't submit.
func pivotForecasterDay(scores []DailyScore, days []time.Time) map[string][]float64 {
	dayIndex := map[int64]int{}
	for i, d := range days {
		dayIndex[d.UnixNano()] = i
	}

	forecasters := map[string]bool{}
	for _, s := range scores {
		forecasters[s.ForecasterID] = true
	}

	out := map[string][]float64{}
	for fid := range forecasters {
		row := make([]float64, len(days))
		for i := range row {
			row[i] = math.NaN()
		}
		out[fid] = row
	}
	for _, s := range scores {
		day := time.Date(s.Day.Year(), s.Day.Month(), s.Day.Day(), 0, 0, 0, 0, s.Day.Location())
		if i, ok := dayIndex[day.UnixNano()]; ok {
			out[s.ForecasterID][i] = s.Value
		}
	}
	return out
}

func summarizeScores(matrix map[string][]float64) map[string]dailyRankStats {
	out := map[string]dailyRankStats{}
	for fid, row := range matrix {
		present := make([]float64, 0, len(row))
		for _, v := range row {
			if !math.IsNaN(v) {
				present = append(present, v)
			}
		}
		summary := frame.Summarize(present)
		out[fid] = dailyRankStats{
			avg:    frame.Mean(present),
			min:    summary.Min,
			max:    summary.Max,
			median: summary.Median,
			std:    frame.StdDev(present),
			count:  summary.Count,
		}
	}
	return out
}

// penaltyLevel is the configured percentile (e.g. the 75th) of every
// observed score across all forecasters and days, used to backfill missing
// submissions in the penalty-adjusted average.
func penaltyLevel(matrix map[string][]float64, quantile float64) float64 {
	var all []float64
	for _, row := range matrix {
		for _, v := range row {
			if !math.IsNaN(v) {
				all = append(all, v)
			}
		}
	}
	return frame.Percentile(all, quantile)
}

func fillMissingWithPenalty(matrix map[string][]float64, penalty float64) map[string][]float64 {
	out := map[string][]float64{}
	for fid, row := range matrix {
		filled := make([]float64, len(row))
		for i, v := range row {
			if math.IsNaN(v) {
				filled[i] = penalty
			} else {
				filled[i] = v
			}
		}
		out[fid] = filled
	}
	return out
}

// residualHistograms builds symmetric, zero-centered histograms (for the
// forecaster and, for comparison, the month's best forecaster) with the
// same bin edges so the two can be overlaid.
func residualHistograms(forecaster, best ForecasterResidual, bins int) (*domain.Histogram, *domain.Histogram) {
	maxAbs := 0.0
	for _, v := range forecaster.Residuals {
		if a := math.Abs(v); a > maxAbs {
			maxAbs = a
		}
	}
	for _, v := range best.Residuals {
		if a := math.Abs(v); a > maxAbs {
			maxAbs = a
		}
	}
	if maxAbs == 0 {
		maxAbs = 1
	}

	edges := make([]float64, bins+1)
	step := 2 * maxAbs / float64(bins)
	for i := range edges {
		edges[i] = -maxAbs + step*float64(i)
	}

	return &domain.Histogram{Edges: edges, Counts: bucketize(forecaster.Residuals, edges)},
		&domain.Histogram{Edges: edges, Counts: bucketize(best.Residuals, edges)}
}

func bucketize(values, edges []float64) []int {
	counts := make([]int, len(edges)-1)
	for _, v := range values {
		if math.IsNaN(v) {
			continue
		}
		for i := 0; i < len(edges)-1; i++ {
			if v >= edges[i] && (v < edges[i+1] || (i == len(edges)-2 && v == edges[i+1])) {
				counts[i]++
				break
			}
		}
	}
	return counts
}

// powerBinBoxplots buckets residuals by the observed power level into
// `bins` equal-width bands and emits a five-number summary per band, for
// both the forecaster and the month's best forecaster.
func powerBinBoxplots(forecaster, best ForecasterResidual, bins int) []domain.PowerBinBoxplot {
	if len(forecaster.Observed) == 0 {
		return nil
	}
	minP, maxP := math.Inf(1), math.Inf(-1)
	for _, v := range forecaster.Observed {
		if math.IsNaN(v) {
			continue
		}
		if v < minP {
			minP = v
		}
		if v > maxP {
			maxP = v
		}
	}
	if math.IsInf(minP, 1) || maxP == minP {
		return nil
	}

	width := (maxP - minP) / float64(bins)
	forecasterBuckets := make([][]float64, bins)
	bestBuckets := make([][]float64, bins)

	assign := func(observed, residuals []float64, buckets [][]float64) {
		for i, p := range observed {
			if math.IsNaN(p) || i >= len(residuals) || math.IsNaN(residuals[i]) {
				continue
			}
			b := int((p - minP) / width)
			if b >= bins {
				b = bins - 1
			}
			if b < 0 {
				b = 0
			}
			buckets[b] = append(buckets[b], residuals[i]*residuals[i])
		}
	}
	assign(forecaster.Observed, forecaster.Residuals, forecasterBuckets)
	assign(best.Observed, best.Residuals, bestBuckets)

	out := make([]domain.PowerBinBoxplot, bins)
	for i := 0; i < bins; i++ {
		forecasterSummary := frame.Summarize(forecasterBuckets[i])
		out[i] = domain.PowerBinBoxplot{
			BinIndex:              i,
			BinLow:                minP + width*float64(i),
			BinHigh:               minP + width*float64(i+1),
			Summary:               toFiveNumberSummary(forecasterSummary),
			BestForecasterSummary: toFiveNumberSummary(frame.Summarize(bestBuckets[i])),
			Count:                 forecasterSummary.Count,
		}
	}
	return out
}

func toFiveNumberSummary(s frame.FiveNumberSummary) domain.FiveNumberSummary {
	return domain.FiveNumberSummary{Min: s.Min, Q1: s.Q1, Median: s.Median, Q3: s.Q3, Max: s.Max}
}
