package postgres

import (
	"context"
	"time"

	"github.com/INESCTEC/predico-collabforecast-sub000/internal/kpi"
	"github.com/INESCTEC/predico-collabforecast-sub000/internal/marketerr"
)

// dailyScoreRow is the aggregated-per-day view joined from submission
// scores and their owning challenge, keyed by the buyer's local calendar
// day (§9: "days are defined in the buyer's local zone").
type dailyScoreRow struct {
	ForecasterID string    `db:"forecaster_id"`
	ChallengeID  string    `db:"challenge_id"`
	Day          time.Time `db:"day"`
	Metric       string    `db:"metric"`
	Value        float64   `db:"value"`
}

// ListDailyScores returns one row per (forecaster, day) for the given
// resource/metric/month, pre-aggregated to the metric the KPI engine
// ranks on (one value per forecaster per day, matching §4.8's daily
// ranking input).
func (s *Store) ListDailyScores(ctx context.Context, resourceID, metric string, year, month int) ([]kpi.DailyScore, error) {
	var rows []dailyScoreRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT ss.forecaster_id AS forecaster_id, ss.challenge_id AS challenge_id,
		        date_trunc('day', c.start) AS day, ss.metric AS metric, ss.value AS value
		 FROM submission_scores ss
		 JOIN challenges c ON c.id = ss.challenge_id
		 WHERE c.resource_id = $1 AND ss.metric = $2
		   AND extract(year FROM c.start) = $3 AND extract(month FROM c.start) = $4`,
		resourceID, metric, year, month)
	if err != nil {
		return nil, marketerr.Wrap(marketerr.KindDBError, "list daily scores", err)
	}
	out := make([]kpi.DailyScore, len(rows))
	for i, r := range rows {
		out[i] = kpi.DailyScore{ForecasterID: r.ForecasterID, ChallengeID: r.ChallengeID, Day: r.Day, Value: r.Value}
	}
	return out, nil
}

// ListResourceIDs returns every resource id known to the store, used by
// aggregate_scores to iterate when no single resource is specified.
func (s *Store) ListResourceIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := s.db.SelectContext(ctx, &ids, `SELECT DISTINCT resource_id FROM resource_participation`); err != nil {
		return nil, marketerr.Wrap(marketerr.KindDBError, "list resource ids", err)
	}
	return ids, nil
}
