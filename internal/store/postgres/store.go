// Package postgres implements the relational store for the market:
// sessions, challenges, submissions, forecasts/scores, raw measurements,
// resource participation, continuous forecasts, and monthly KPI records.
// Grounded on the teacher's upsert/delete-insert sqlx pattern
// (internal/persistence/postgres/regime_repo.go).
package postgres

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/INESCTEC/predico-collabforecast-sub000/internal/config"
	"github.com/INESCTEC/predico-collabforecast-sub000/internal/domain"
	"github.com/INESCTEC/predico-collabforecast-sub000/internal/marketerr"
)

// Store wraps a connection pool to the market's Postgres database.
type Store struct {
	db *sqlx.DB
}

// Open connects to Postgres using the given settings.
func Open(settings config.PostgresSettings) (*Store, error) {
	db, err := sqlx.Connect("postgres", settings.DSN())
	if err != nil {
		return nil, marketerr.Wrap(marketerr.KindDBError, "connect to postgres", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// measurementRow is the wire shape of a single raw_measurements row.
type measurementRow struct {
	ResourceID string    `db:"resource_id"`
	Time       time.Time `db:"ts"`
	Value      float64   `db:"value"`
}

// LoadMeasurements returns the raw observed series for a resource in
// [from, to], ordered by time.
func (s *Store) LoadMeasurements(ctx context.Context, resourceID string, from, to time.Time) ([]time.Time, []float64, error) {
	var rows []measurementRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT resource_id, ts, value FROM raw_measurements
		 WHERE resource_id = $1 AND ts >= $2 AND ts <= $3 ORDER BY ts`,
		resourceID, from, to)
	if err != nil {
		return nil, nil, marketerr.Wrap(marketerr.KindDBError, "load measurements", err)
	}
	idx := make([]time.Time, len(rows))
	vals := make([]float64, len(rows))
	for i, r := range rows {
		idx[i] = r.Time
		vals[i] = r.Value
	}
	return idx, vals, nil
}

// InsertSubmissionScores appends freshly computed submission scores.
// Used outside the destructive-recompute path (§4.7.3's normal flow).
func (s *Store) InsertSubmissionScores(ctx context.Context, scores []domain.SubmissionScore) error {
	if len(scores) == 0 {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return marketerr.Wrap(marketerr.KindDBError, "begin tx", err)
	}
	defer tx.Rollback()

	stmt := `INSERT INTO submission_scores (submission_id, challenge_id, forecaster_id, metric, value, computed_at)
	         VALUES ($1,$2,$3,$4,$5,$6)`
	for _, sc := range scores {
		if _, err := tx.ExecContext(ctx, stmt, sc.SubmissionID, sc.ChallengeID, sc.ForecasterID, sc.Metric, sc.Value, sc.ComputedAt); err != nil {
			return marketerr.Wrap(marketerr.KindDBError, "insert submission score", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return marketerr.Wrap(marketerr.KindDBError, "commit submission scores", err)
	}
	return nil
}

// InsertEnsembleScores appends freshly computed ensemble scores.
func (s *Store) InsertEnsembleScores(ctx context.Context, scores []domain.EnsembleScore) error {
	if len(scores) == 0 {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return marketerr.Wrap(marketerr.KindDBError, "begin tx", err)
	}
	defer tx.Rollback()

	stmt := `INSERT INTO ensemble_scores (challenge_id, strategy_name, quantile, metric, value, computed_at)
	         VALUES ($1,$2,$3,$4,$5,$6)`
	for _, sc := range scores {
		if _, err := tx.ExecContext(ctx, stmt, sc.ChallengeID, sc.StrategyName, sc.Quantile, sc.Metric, sc.Value, sc.ComputedAt); err != nil {
			return marketerr.Wrap(marketerr.KindDBError, "insert ensemble score", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return marketerr.Wrap(marketerr.KindDBError, "commit ensemble scores", err)
	}
	return nil
}

// ScoreBackupRow is the flat shape written to the pre-delete CSV backup.
type ScoreBackupRow struct {
	Kind         string // "submission" or "ensemble"
	ID           string
	ChallengeID  string
	ForecasterID string
	StrategyName string
	Quantile     string
	Metric       string
	Value        float64
	ComputedAt   time.Time
}

// FetchScoresInWindow returns every submission and ensemble score row
// whose ComputedAt falls in [from, to), for the caller to back up before
// a destructive recompute (§4.7.3, scenario S8).
func (s *Store) FetchScoresInWindow(ctx context.Context, from, to time.Time) ([]ScoreBackupRow, error) {
	var subRows []struct {
		SubmissionID string    `db:"submission_id"`
		ChallengeID  string    `db:"challenge_id"`
		ForecasterID string    `db:"forecaster_id"`
		Metric       string    `db:"metric"`
		Value        float64   `db:"value"`
		ComputedAt   time.Time `db:"computed_at"`
	}
	if err := s.db.SelectContext(ctx, &subRows,
		`SELECT submission_id, challenge_id, forecaster_id, metric, value, computed_at
		 FROM submission_scores WHERE computed_at >= $1 AND computed_at < $2`, from, to); err != nil {
		return nil, marketerr.Wrap(marketerr.KindDBError, "fetch submission scores", err)
	}

	var ensRows []struct {
		ChallengeID  string    `db:"challenge_id"`
		StrategyName string    `db:"strategy_name"`
		Quantile     string    `db:"quantile"`
		Metric       string    `db:"metric"`
		Value        float64   `db:"value"`
		ComputedAt   time.Time `db:"computed_at"`
	}
	if err := s.db.SelectContext(ctx, &ensRows,
		`SELECT challenge_id, strategy_name, quantile, metric, value, computed_at
		 FROM ensemble_scores WHERE computed_at >= $1 AND computed_at < $2`, from, to); err != nil {
		return nil, marketerr.Wrap(marketerr.KindDBError, "fetch ensemble scores", err)
	}

	out := make([]ScoreBackupRow, 0, len(subRows)+len(ensRows))
	for _, r := range subRows {
		out = append(out, ScoreBackupRow{Kind: "submission", ID: r.SubmissionID, ChallengeID: r.ChallengeID, ForecasterID: r.ForecasterID, Metric: r.Metric, Value: r.Value, ComputedAt: r.ComputedAt})
	}
	for _, r := range ensRows {
		out = append(out, ScoreBackupRow{Kind: "ensemble", ChallengeID: r.ChallengeID, StrategyName: r.StrategyName, Quantile: r.Quantile, Metric: r.Metric, Value: r.Value, ComputedAt: r.ComputedAt})
	}
	return out, nil
}

// DeleteScoresInWindow deletes every score row in [from, to) in one
// transaction. Callers MUST have backed up the rows returned by
// FetchScoresInWindow first (§7 backup-failure semantics).
func (s *Store) DeleteScoresInWindow(ctx context.Context, from, to time.Time) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return marketerr.Wrap(marketerr.KindDBError, "begin tx", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM submission_scores WHERE computed_at >= $1 AND computed_at < $2`, from, to); err != nil {
		return marketerr.Wrap(marketerr.KindDBError, "delete submission scores", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM ensemble_scores WHERE computed_at >= $1 AND computed_at < $2`, from, to); err != nil {
		return marketerr.Wrap(marketerr.KindDBError, "delete ensemble scores", err)
	}
	if err := tx.Commit(); err != nil {
		return marketerr.Wrap(marketerr.KindDBError, "commit score deletion", err)
	}
	return nil
}

// UpsertMonthlyKPIRecords deletes every existing (resource, year, month,
// track) record then inserts the freshly computed set, in one
// transaction, per spec.md §9's "monthly rewrite" design note.
func (s *Store) UpsertMonthlyKPIRecords(ctx context.Context, resourceID string, year, month int, track domain.Track, records []domain.MonthlyKPIRecord) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return marketerr.Wrap(marketerr.KindDBError, "begin tx", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM monthly_kpi_records WHERE resource_id = $1 AND year = $2 AND month = $3 AND track = $4`,
		resourceID, year, month, track); err != nil {
		return marketerr.Wrap(marketerr.KindDBError, "delete monthly kpi records", err)
	}

	stmt := `INSERT INTO monthly_kpi_records
		(forecaster_id, resource_id, year, month, metric, track,
		 days_submitted, days_missing,
		 daily_rank_avg, daily_rank_min, daily_rank_max, daily_rank_median, daily_rank_std,
		 monthly_score_avg, monthly_score_min, monthly_score_max, monthly_score_median, monthly_score_std,
		 penalty_adjusted_avg, penalty_adjusted_rank, league, is_best_forecaster)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)`
	for _, r := range records {
		if _, err := tx.ExecContext(ctx, stmt,
			r.ForecasterID, resourceID, year, month, r.Metric, r.Track,
			r.DaysSubmitted, r.DaysMissing,
			r.DailyRankAvg, r.DailyRankMin, r.DailyRankMax, r.DailyRankMedian, r.DailyRankStd,
			r.MonthlyScoreAvg, r.MonthlyScoreMin, r.MonthlyScoreMax, r.MonthlyScoreMedian, r.MonthlyScoreStd,
			r.PenaltyAdjustedAvg, r.PenaltyAdjustedRank, r.League, r.IsBestForecaster,
		); err != nil {
			return marketerr.Wrap(marketerr.KindDBError, "insert monthly kpi record", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return marketerr.Wrap(marketerr.KindDBError, "commit monthly kpi records", err)
	}
	log.Info().Str("resource_id", resourceID).Int("year", year).Int("month", month).Int("rows", len(records)).Msg("monthly kpi records rewritten")
	return nil
}

// resourceParticipationRow identifies which resources a buyer grants
// forecast access to, including the fixed-payment exclusion flag.
type resourceParticipationRow struct {
	ResourceID   string `db:"resource_id"`
	BuyerID      string `db:"buyer_id"`
	FixedPayment bool   `db:"is_fixed_payment"`
}

// ListResourceParticipation returns every resource's fixed-payment flag,
// used by the KPI engine to exclude fixed-payment resources from ranking.
func (s *Store) ListResourceParticipation(ctx context.Context) (map[string]bool, error) {
	var rows []resourceParticipationRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT resource_id, buyer_id, is_fixed_payment FROM resource_participation`); err != nil {
		return nil, marketerr.Wrap(marketerr.KindDBError, "list resource participation", err)
	}
	out := make(map[string]bool, len(rows))
	for _, r := range rows {
		out[r.ResourceID] = r.FixedPayment
	}
	return out, nil
}

