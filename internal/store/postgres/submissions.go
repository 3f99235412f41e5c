package postgres

import (
	"context"
	"time"

	"github.com/INESCTEC/predico-collabforecast-sub000/internal/domain"
	"github.com/INESCTEC/predico-collabforecast-sub000/internal/marketerr"
)

// challengeRow is the wire shape of one challenges table row.
type challengeRow struct {
	ID         string    `db:"id"`
	ResourceID string    `db:"resource_id"`
	BuyerID    string    `db:"buyer_id"`
	SessionID  string    `db:"session_id"`
	Start      time.Time `db:"start"`
	End        time.Time `db:"end_"`
	UseCase    string    `db:"use_case"`
}

// ListChallengesInWindow returns every challenge whose start falls in
// [from, to), used by calculate_scores to find what needs rescoring.
func (s *Store) ListChallengesInWindow(ctx context.Context, from, to time.Time) ([]domain.Challenge, error) {
	var rows []challengeRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, resource_id, buyer_id, session_id, start, "end" AS end_, use_case
		 FROM challenges WHERE start >= $1 AND start < $2`, from, to)
	if err != nil {
		return nil, marketerr.Wrap(marketerr.KindDBError, "list challenges in window", err)
	}
	out := make([]domain.Challenge, len(rows))
	for i, r := range rows {
		out[i] = domain.Challenge{ID: r.ID, ResourceID: r.ResourceID, BuyerID: r.BuyerID, SessionID: r.SessionID, Start: r.Start, End: r.End, UseCase: r.UseCase}
	}
	return out, nil
}

// ListUnscoredChallengesInWindow returns every challenge in [from, to)
// that has neither a submission score nor an ensemble score yet, used by
// calculate_scores's non-destructive update_scores=False path (§4.7.1).
func (s *Store) ListUnscoredChallengesInWindow(ctx context.Context, from, to time.Time) ([]domain.Challenge, error) {
	var rows []challengeRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, resource_id, buyer_id, session_id, start, "end" AS end_, use_case
		 FROM challenges c
		 WHERE c.start >= $1 AND c.start < $2
		   AND NOT EXISTS (SELECT 1 FROM submission_scores ss WHERE ss.challenge_id = c.id)
		   AND NOT EXISTS (SELECT 1 FROM ensemble_scores es WHERE es.challenge_id = c.id)`, from, to)
	if err != nil {
		return nil, marketerr.Wrap(marketerr.KindDBError, "list unscored challenges in window", err)
	}
	out := make([]domain.Challenge, len(rows))
	for i, r := range rows {
		out[i] = domain.Challenge{ID: r.ID, ResourceID: r.ResourceID, BuyerID: r.BuyerID, SessionID: r.SessionID, Start: r.Start, End: r.End, UseCase: r.UseCase}
	}
	return out, nil
}

// submissionHeaderRow is one submissions table row (metadata only; the
// timeseries itself lives in submission_values, one row per timestep, which
// keeps the schema free of array columns).
type submissionHeaderRow struct {
	ID           string `db:"id"`
	ForecasterID string `db:"forecaster_id"`
	ChallengeID  string `db:"challenge_id"`
	Quantile     string `db:"quantile"`
	Kind         string `db:"kind"`
}

type submissionValueRow struct {
	SubmissionID string    `db:"submission_id"`
	Ts           time.Time `db:"ts"`
	Value        float64   `db:"value"`
}

// ListSubmissionsForChallenge returns every submission filed against a
// challenge, across all forecasters and quantiles, with its full series.
func (s *Store) ListSubmissionsForChallenge(ctx context.Context, challengeID string) ([]domain.Submission, error) {
	var headers []submissionHeaderRow
	err := s.db.SelectContext(ctx, &headers,
		`SELECT id, forecaster_id, challenge_id, quantile, kind
		 FROM submissions WHERE challenge_id = $1`, challengeID)
	if err != nil {
		return nil, marketerr.Wrap(marketerr.KindDBError, "list submissions for challenge", err)
	}
	if len(headers) == 0 {
		return nil, nil
	}

	var values []submissionValueRow
	err = s.db.SelectContext(ctx, &values,
		`SELECT submission_id, ts, value FROM submission_values
		 WHERE submission_id IN (SELECT id FROM submissions WHERE challenge_id = $1)
		 ORDER BY submission_id, ts`, challengeID)
	if err != nil {
		return nil, marketerr.Wrap(marketerr.KindDBError, "list submission values", err)
	}

	byID := make(map[string]*domain.Submission, len(headers))
	out := make([]domain.Submission, len(headers))
	for i, h := range headers {
		out[i] = domain.Submission{ID: h.ID, ForecasterID: h.ForecasterID, ChallengeID: h.ChallengeID, Quantile: h.Quantile, Kind: domain.SubmissionKind(h.Kind)}
		byID[h.ID] = &out[i]
	}
	for _, v := range values {
		sub, ok := byID[v.SubmissionID]
		if !ok {
			continue
		}
		sub.Index = append(sub.Index, v.Ts)
		sub.Values = append(sub.Values, v.Value)
	}
	return out, nil
}

// ensembleForecastValueRow is one row of the long-format ensemble_forecast_values
// table, mirroring submission_values: one row per (challenge, strategy,
// quantile, timestep) rather than an array column.
type ensembleForecastValueRow struct {
	ChallengeID  string    `db:"challenge_id"`
	StrategyName string    `db:"strategy_name"`
	Quantile     string    `db:"quantile"`
	Ts           time.Time `db:"ts"`
	Value        float64   `db:"value"`
}

// InsertEnsembleForecasts persists one or more ensemble prediction series so
// calculate_scores - which runs without access to the external market API -
// can rescore ensembles purely from the store.
func (s *Store) InsertEnsembleForecasts(ctx context.Context, forecasts []domain.EnsembleForecast) error {
	if len(forecasts) == 0 {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return marketerr.Wrap(marketerr.KindDBError, "begin tx", err)
	}
	defer tx.Rollback()

	delStmt := `DELETE FROM ensemble_forecast_values WHERE challenge_id = $1 AND strategy_name = $2 AND quantile = $3`
	insStmt := `INSERT INTO ensemble_forecast_values (challenge_id, strategy_name, quantile, ts, value) VALUES ($1,$2,$3,$4,$5)`
	for _, f := range forecasts {
		if _, err := tx.ExecContext(ctx, delStmt, f.ChallengeID, f.StrategyName, f.Quantile); err != nil {
			return marketerr.Wrap(marketerr.KindDBError, "delete existing ensemble forecast", err)
		}
		for i, ts := range f.Index {
			if _, err := tx.ExecContext(ctx, insStmt, f.ChallengeID, f.StrategyName, f.Quantile, ts, f.Values[i]); err != nil {
				return marketerr.Wrap(marketerr.KindDBError, "insert ensemble forecast value", err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return marketerr.Wrap(marketerr.KindDBError, "commit ensemble forecasts", err)
	}
	return nil
}

// ListEnsembleForecastsForChallenge returns every ensemble strategy's
// prediction series persisted for a challenge, across all quantiles.
func (s *Store) ListEnsembleForecastsForChallenge(ctx context.Context, challengeID string) ([]domain.EnsembleForecast, error) {
	var rows []ensembleForecastValueRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT challenge_id, strategy_name, quantile, ts, value FROM ensemble_forecast_values
		 WHERE challenge_id = $1 ORDER BY strategy_name, quantile, ts`, challengeID)
	if err != nil {
		return nil, marketerr.Wrap(marketerr.KindDBError, "list ensemble forecasts for challenge", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	type key struct{ strategy, quantile string }
	order := make([]key, 0)
	byKey := make(map[key]*domain.EnsembleForecast)
	for _, r := range rows {
		k := key{r.StrategyName, r.Quantile}
		f, ok := byKey[k]
		if !ok {
			order = append(order, k)
			f = &domain.EnsembleForecast{ChallengeID: r.ChallengeID, StrategyName: r.StrategyName, Quantile: r.Quantile}
			byKey[k] = f
		}
		f.Index = append(f.Index, r.Ts)
		f.Values = append(f.Values, r.Value)
	}
	out := make([]domain.EnsembleForecast, len(order))
	for i, k := range order {
		out[i] = *byKey[k]
	}
	return out, nil
}
