package kpi

import (
	"math"
	"sort"
	"time"

	"github.com/INESCTEC/predico-collabforecast-sub000/internal/domain"
)

// ThresholdSeries computes the day-by-day expanding-window (cumulative mean)
// league cutoff values for UI display: on each day, every forecaster not on
// fixed payment gets the plain mean of its scores observed through that day
// (inclusive), and the elite/challenger/runner-up threshold is the mean
// sitting exactly at that rank in ascending order. No penalty back-fill or
// qualification rule is applied here.
func (e *Engine) ThresholdSeries(scores []DailyScore, fixedPayment map[string]bool) []domain.LeagueThresholdPoint {
	_, days := e.dailyRanks(scores)
	if len(days) == 0 {
		return nil
	}

	cumulative := map[string][]float64{}
	points := make([]domain.LeagueThresholdPoint, 0, len(days))

	byDay := map[int64][]DailyScore{}
	for _, s := range scores {
		day := time.Date(s.Day.Year(), s.Day.Month(), s.Day.Day(), 0, 0, 0, 0, s.Day.Location())
		byDay[day.UnixNano()] = append(byDay[day.UnixNano()], s)
	}

	for _, day := range days {
		for _, s := range byDay[day.UnixNano()] {
			if fixedPayment[s.ForecasterID] {
				continue
			}
			cumulative[s.ForecasterID] = append(cumulative[s.ForecasterID], s.Value)
		}

		var avgs []rankedAvg
		for fid, vals := range cumulative {
			sum := 0.0
			for _, v := range vals {
				sum += v
			}
			avgs = append(avgs, rankedAvg{fid: fid, avg: sum / float64(len(vals))})
		}
		sort.Slice(avgs, func(i, j int) bool { return avgs[i].avg < avgs[j].avg })

		point := domain.LeagueThresholdPoint{Day: day}
		if v, ok := thresholdAt(avgs, e.params.EliteCutoff); ok {
			point.EliteThreshold = &v
		}
		if v, ok := thresholdAt(avgs, e.params.ChallengerCutoff); ok {
			point.ChallengerThreshold = &v
		}
		if v, ok := thresholdAt(avgs, e.params.RunnerUpCutoff); ok {
			point.RunnerUpThreshold = &v
		}
		points = append(points, point)
	}
	return points
}

// rankedAvg is a forecaster's cumulative-mean score as of a given day.
type rankedAvg struct {
	fid string
	avg float64
}

func thresholdAt(avgs []rankedAvg, rank int) (float64, bool) {
	if rank <= 0 || rank > len(avgs) {
		return math.NaN(), false
	}
	return avgs[rank-1].avg, true
}
