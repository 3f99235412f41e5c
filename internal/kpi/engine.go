// Package kpi implements the KPI / League engine (C7): daily ranking,
// monthly aggregation with penalty back-fill, league assignment, and the
// residual/boxplot distributions published alongside each monthly record.
package kpi

import (
	"math"
	"sort"
	"time"

	"github.com/INESCTEC/predico-collabforecast-sub000/internal/domain"
	"github.com/INESCTEC/predico-collabforecast-sub000/internal/frame"
)

// DailyScore is one (forecaster, challenge, day, metric, value) input cell.
type DailyScore struct {
	ForecasterID string
	ChallengeID  string
	Day          time.Time
	Metric       domain.Metric
	Value        float64
}

// ForecasterResidual holds one forecaster's per-timestamp (forecast -
// observed) residual for the deterministic track, used for histograms and
// boxplots.
type ForecasterResidual struct {
	ForecasterID string
	Index        []time.Time
	Residuals    []float64
	Observed     []float64
}

// Params bundles the engine's configuration knobs.
type Params struct {
	PenaltyQuantile    float64
	DisqualifyMissDays int
	EliteCutoff        int
	ChallengerCutoff   int
	RunnerUpCutoff     int
	DaysInMonth        int
	HistogramBins      int
	PowerBins          int
}

// Engine computes monthly KPI records for one resource and month.
type Engine struct {
	params Params
}

// NewEngine returns an Engine with the given parameters.
func NewEngine(params Params) *Engine {
	if params.HistogramBins == 0 {
		params.HistogramBins = 20
	}
	if params.PowerBins == 0 {
		params.PowerBins = 5
	}
	return &Engine{params: params}
}

// dailyRankStats is the per-forecaster summary of daily ranks over the month.
type dailyRankStats struct {
	avg, min, max, median, std float64
	count                      int
}

// ComputeMonthly runs the full §4.8 pipeline for one resource/month and
// returns one record per forecaster (fixed-payment forecasters included,
// per §4.8.8, but marked unassigned and excluded from threshold/ranking math).
func (e *Engine) ComputeMonthly(resourceID string, scores []DailyScore, fixedPayment map[string]bool, residuals map[string]ForecasterResidual, metric domain.Metric, track domain.Track, year, month int) []domain.MonthlyKPIRecord {
	rankMatrix, days := e.dailyRanks(scores)
	rankStats := summarizeRanks(rankMatrix)

	scoreMatrix := pivotForecasterDay(scores, days)
	rawStats := summarizeScores(scoreMatrix)

	penaltyLevel := penaltyLevel(scoreMatrix, e.params.PenaltyQuantile)
	adjustedMatrix := fillMissingWithPenalty(scoreMatrix, penaltyLevel)
	adjustedAvg := map[string]float64{}
	for fid, row := range adjustedMatrix {
		adjustedAvg[fid] = frame.Mean(row)
	}

	missingDays := map[string]int{}
	for fid, row := range scoreMatrix {
		missing := 0
		for _, v := range row {
			if math.IsNaN(v) {
				missing++
			}
		}
		missingDays[fid] = missing
	}

	qualified, disqualified := e.qualify(adjustedAvg, missingDays, fixedPayment)
	leagues, adjustedRanks := e.assignLeagues(qualified, adjustedAvg)

	bestForecaster := ""
	bestScore := math.Inf(1)
	for fid, v := range adjustedAvg {
		if qualified[fid] && v < bestScore {
			bestScore = v
			bestForecaster = fid
		}
	}

	var out []domain.MonthlyKPIRecord
	allForecasters := unionKeys(scoreMatrix, fixedPayment)
	for _, fid := range allForecasters {
		league := domain.LeagueUnqualified
		rank := 0
		if fixedPayment[fid] {
			league = domain.LeagueUnassigned
		} else if disqualified[fid] {
			league = domain.LeagueUnqualified
		} else if l, ok := leagues[fid]; ok {
			league = l
			rank = adjustedRanks[fid]
		}

		rec := domain.MonthlyKPIRecord{
			ForecasterID:        fid,
			ResourceID:          resourceID,
			Year:                year,
			Month:               month,
			Metric:              metric,
			Track:               track,
			DaysSubmitted:       e.params.DaysInMonth - missingDays[fid],
			DaysMissing:         missingDays[fid],
			DailyRankAvg:        rankStats[fid].avg,
			DailyRankMin:        rankStats[fid].min,
			DailyRankMax:        rankStats[fid].max,
			DailyRankMedian:     rankStats[fid].median,
			DailyRankStd:        rankStats[fid].std,
			DailyRankCount:      rankStats[fid].count,
			MonthlyScoreAvg:     rawStats[fid].avg,
			MonthlyScoreMin:     rawStats[fid].min,
			MonthlyScoreMax:     rawStats[fid].max,
			MonthlyScoreMedian:  rawStats[fid].median,
			MonthlyScoreStd:     rawStats[fid].std,
			PenaltyAdjustedAvg:  adjustedAvg[fid],
			PenaltyAdjustedRank: rank,
			League:              league,
			IsBestForecaster:    fid == bestForecaster,
		}

		if track == domain.TrackDeterministic {
			rec.ResidualHistogram, rec.BestForecasterHistogram = residualHistograms(residuals[fid], residuals[bestForecaster], e.params.HistogramBins)
			rec.PowerBinBoxplots = powerBinBoxplots(residuals[fid], residuals[bestForecaster], e.params.PowerBins)
		}

		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ForecasterID < out[j].ForecasterID })
	return out
}

func unionKeys(scoreMatrix map[string][]float64, fixedPayment map[string]bool) []string {
	seen := map[string]bool{}
	var out []string
	for fid := range scoreMatrix {
		if !seen[fid] {
			seen[fid] = true
			out = append(out, fid)
		}
	}
	for fid := range fixedPayment {
		if !seen[fid] {
			seen[fid] = true
			out = append(out, fid)
		}
	}
	sort.Strings(out)
	return out
}

// qualify disqualifies forecasters with more than DisqualifyMissDays missing
// days, and excludes fixed-payment forecasters from the qualified set
// entirely (§4.8.8: still emitted, never rank/threshold inputs).
func (e *Engine) qualify(adjustedAvg map[string]float64, missingDays map[string]int, fixedPayment map[string]bool) (qualified map[string]bool, disqualified map[string]bool) {
	qualified = map[string]bool{}
	disqualified = map[string]bool{}
	for fid := range adjustedAvg {
		if fixedPayment[fid] {
			continue
		}
		if missingDays[fid] > e.params.DisqualifyMissDays {
			disqualified[fid] = true
			continue
		}
		qualified[fid] = true
	}
	return qualified, disqualified
}

// assignLeagues sorts qualified forecasters by penalty-adjusted average
// ascending and assigns bands per the configured cutoffs.
func (e *Engine) assignLeagues(qualified map[string]bool, adjustedAvg map[string]float64) (map[string]domain.League, map[string]int) {
	var sorted []rankedAvg
	for fid := range qualified {
		sorted = append(sorted, rankedAvg{fid: fid, avg: adjustedAvg[fid]})
	}
	return assignLeaguesSorted(sorted, e.params)
}

// assignLeaguesSorted is split out so it can be unit tested directly with
// explicit (fid, avg) pairs.
func assignLeaguesSorted(entries []rankedAvg, params Params) (map[string]domain.League, map[string]int) {
	leagues := map[string]domain.League{}
	ranks := map[string]int{}
	sort.Slice(entries, func(i, j int) bool { return entries[i].avg < entries[j].avg })
	rank := denseRank(valuesOf(entries))
	for i, e := range entries {
		r := rank[i]
		ranks[e.fid] = r
		switch {
		case r <= params.EliteCutoff:
			leagues[e.fid] = domain.LeagueElite
		case r <= params.ChallengerCutoff:
			leagues[e.fid] = domain.LeagueChallenger
		case r == params.RunnerUpCutoff:
			leagues[e.fid] = domain.LeagueRunnerUp
		default:
			leagues[e.fid] = domain.LeagueUnassigned
		}
	}
	return leagues, ranks
}

func valuesOf(entries []rankedAvg) []float64 {
	out := make([]float64, len(entries))
	for i, e := range entries {
		out[i] = e.avg
	}
	return out
}
