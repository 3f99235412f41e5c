package orchestrator

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/INESCTEC/predico-collabforecast-sub000/internal/domain"
	"github.com/INESCTEC/predico-collabforecast-sub000/internal/frame"
	"github.com/INESCTEC/predico-collabforecast-sub000/internal/kpi"
	"github.com/INESCTEC/predico-collabforecast-sub000/internal/marketerr"
	"github.com/INESCTEC/predico-collabforecast-sub000/internal/skillscore"
	"github.com/INESCTEC/predico-collabforecast-sub000/internal/store/postgres"
)

// ScoreStore is the subset of postgres.Store the scoring/aggregation path
// depends on.
type ScoreStore interface {
	FetchScoresInWindow(ctx context.Context, from, to time.Time) ([]postgres.ScoreBackupRow, error)
	DeleteScoresInWindow(ctx context.Context, from, to time.Time) error
	InsertSubmissionScores(ctx context.Context, scores []domain.SubmissionScore) error
	InsertEnsembleScores(ctx context.Context, scores []domain.EnsembleScore) error
	UpsertMonthlyKPIRecords(ctx context.Context, resourceID string, year, month int, track domain.Track, records []domain.MonthlyKPIRecord) error
	ListResourceParticipation(ctx context.Context) (map[string]bool, error)
	ListDailyScores(ctx context.Context, resourceID, metric string, year, month int) ([]kpi.DailyScore, error)
	ListResourceIDs(ctx context.Context) ([]string, error)
	ListChallengesInWindow(ctx context.Context, from, to time.Time) ([]domain.Challenge, error)
	ListUnscoredChallengesInWindow(ctx context.Context, from, to time.Time) ([]domain.Challenge, error)
	ListSubmissionsForChallenge(ctx context.Context, challengeID string) ([]domain.Submission, error)
	ListEnsembleForecastsForChallenge(ctx context.Context, challengeID string) ([]domain.EnsembleForecast, error)
	LoadMeasurements(ctx context.Context, resourceID string, from, to time.Time) ([]time.Time, []float64, error)
}

// AggregateAllResources runs AggregateScores for every known resource for
// the given month, absorbing per-resource failures per §7's propagation
// policy (one resource's bad data does not abort the whole aggregation run).
func (o *Orchestrator) AggregateAllResources(ctx context.Context, store ScoreStore, track domain.Track, year, month int) error {
	resourceIDs, err := store.ListResourceIDs(ctx)
	if err != nil {
		return err
	}

	metric := "winkler"
	if track == domain.TrackDeterministic {
		metric = "rmse"
	}
	daysInMonth := time.Date(year, time.Month(month)+1, 0, 0, 0, 0, 0, time.UTC).Day()

	for _, resourceID := range resourceIDs {
		scores, err := store.ListDailyScores(ctx, resourceID, metric, year, month)
		if err != nil {
			log.Error().Err(err).Str("resource_id", resourceID).Msg("list daily scores failed, skipping resource")
			continue
		}

		var residuals map[string]kpi.ForecasterResidual
		if track == domain.TrackDeterministic {
			residuals = o.loadMonthlyResiduals(ctx, store, resourceID, year, month)
		}

		if err := o.AggregateScores(ctx, store, resourceID, scores, residuals, track, year, month, daysInMonth); err != nil {
			log.Error().Err(err).Str("resource_id", resourceID).Msg("aggregate_scores failed for resource")
		}
	}
	return nil
}

// loadMonthlyResiduals builds each forecaster's q50 (forecast - observed)
// residual series for a resource/month, feeding §4.8.6/§4.8.7's residual
// histograms and power-bin boxplots. A challenge or submission that can't be
// joined against observed measurements is skipped rather than aborting the
// whole resource.
func (o *Orchestrator) loadMonthlyResiduals(ctx context.Context, store ScoreStore, resourceID string, year, month int) map[string]kpi.ForecasterResidual {
	from := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)

	challenges, err := store.ListChallengesInWindow(ctx, from, to)
	if err != nil {
		log.Error().Err(err).Str("resource_id", resourceID).Msg("list challenges for residuals failed")
		return nil
	}

	byForecaster := map[string]*kpi.ForecasterResidual{}
	for _, ch := range challenges {
		if ch.ResourceID != resourceID {
			continue
		}
		obsIndex, obsValues, err := store.LoadMeasurements(ctx, ch.ResourceID, ch.Start, ch.End)
		if err != nil || len(obsIndex) == 0 {
			continue
		}
		obs := frame.NewFromIndex(obsIndex)
		obs.SetColumn("target", obsIndex, obsValues)

		submissions, err := store.ListSubmissionsForChallenge(ctx, ch.ID)
		if err != nil {
			log.Error().Err(err).Str("challenge_id", ch.ID).Msg("list submissions for residuals failed, skipping challenge")
			continue
		}
		for _, sub := range submissions {
			if sub.Quantile != "q50" {
				continue
			}
			pred := frame.NewFromIndex(sub.Index)
			pred.SetColumn("v", sub.Index, sub.Values)
			joined := frame.InnerJoin(pred, obs).DropAnyNull("v", "target")
			if joined.Len() == 0 {
				continue
			}
			idx := joined.Index()
			predVals, _ := joined.Column("v")
			targetVals, _ := joined.Column("target")

			r, ok := byForecaster[sub.ForecasterID]
			if !ok {
				r = &kpi.ForecasterResidual{ForecasterID: sub.ForecasterID}
				byForecaster[sub.ForecasterID] = r
			}
			for i := range idx {
				r.Index = append(r.Index, idx[i])
				r.Residuals = append(r.Residuals, predVals[i]-targetVals[i])
				r.Observed = append(r.Observed, targetVals[i])
			}
		}
	}

	out := make(map[string]kpi.ForecasterResidual, len(byForecaster))
	for fid, r := range byForecaster {
		out[fid] = *r
	}
	return out
}

// ScoringWindow computes the [from, to] calculate_scores window per
// spec.md §4.7.1: while still within the grace period after a month
// boundary, a destructive recompute reaches back into the previous month
// (late-arriving measurements for days just past the boundary); otherwise,
// or when not recomputing destructively, the window is simply this month's
// 1st to today.
func ScoringWindow(updateScores bool, gracePeriodDays int, now time.Time) (time.Time, time.Time) {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	thisMonthStart := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, time.UTC)

	if updateScores && today.Day() <= gracePeriodDays {
		return thisMonthStart.AddDate(0, -1, 0), today
	}
	return thisMonthStart, today
}

// CalculateScores implements the §4.7.3 destructive-recompute path: back
// up every score row in the scoring window to CSV, delete them, then
// recompute and insert fresh rows from the given per-submission series.
// If the CSV backup fails, the recompute is aborted before any delete
// (§7 backup-failure semantics).
func (o *Orchestrator) CalculateScores(ctx context.Context, store ScoreStore, now time.Time, backupDir string, newScores func() ([]domain.SubmissionScore, []domain.EnsembleScore, error)) error {
	from, to := ScoringWindow(true, o.settings.Scoring.GracePeriodDays, now)

	backup, err := store.FetchScoresInWindow(ctx, from, to)
	if err != nil {
		return err
	}

	if err := writeBackupCSV(backupDir, from, to, backup); err != nil {
		return marketerr.Wrap(marketerr.KindBackupFailure, "csv backup failed, aborting recompute", err)
	}

	if err := store.DeleteScoresInWindow(ctx, from, to); err != nil {
		return err
	}

	submissionScores, ensembleScores, err := newScores()
	if err != nil {
		return marketerr.Wrap(marketerr.KindScoringInsufficientData, "recompute failed after delete", err)
	}

	if err := store.InsertSubmissionScores(ctx, submissionScores); err != nil {
		return err
	}
	if err := store.InsertEnsembleScores(ctx, ensembleScores); err != nil {
		return err
	}

	log.Info().Int("backed_up", len(backup)).Int("recomputed_submission", len(submissionScores)).
		Int("recomputed_ensemble", len(ensembleScores)).Msg("destructive score recompute complete")
	return nil
}

// CalculateScoresNonDestructive implements §4.7.1's update_scores=False
// branch: compute and publish scores for challenges in the window that
// don't have any yet, without touching existing rows. There is nothing to
// back up or delete, since no row is ever overwritten or removed.
func (o *Orchestrator) CalculateScoresNonDestructive(ctx context.Context, store ScoreStore, now time.Time) error {
	from, to := ScoringWindow(false, o.settings.Scoring.GracePeriodDays, now)

	submissionScores, ensembleScores, err := o.RecomputeUnscoredChallenges(ctx, store, from, to)
	if err != nil {
		return marketerr.Wrap(marketerr.KindScoringInsufficientData, "non-destructive score compute failed", err)
	}

	if err := store.InsertSubmissionScores(ctx, submissionScores); err != nil {
		return err
	}
	if err := store.InsertEnsembleScores(ctx, ensembleScores); err != nil {
		return err
	}

	log.Info().Int("computed_submission", len(submissionScores)).Int("computed_ensemble", len(ensembleScores)).
		Msg("non-destructive score compute complete")
	return nil
}

func writeBackupCSV(dir string, from, to time.Time, rows []postgres.ScoreBackupRow) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create backup dir: %w", err)
	}
	filename := fmt.Sprintf("%s/scores_backup_%s_%s.csv", dir, from.Format("20060102T150405"), to.Format("20060102T150405"))
	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("create backup file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	if err := w.Write([]string{"kind", "id", "challenge_id", "forecaster_id", "strategy_name", "quantile", "metric", "value", "computed_at"}); err != nil {
		return err
	}
	for _, r := range rows {
		record := []string{r.Kind, r.ID, r.ChallengeID, r.ForecasterID, r.StrategyName, r.Quantile, r.Metric, strconv.FormatFloat(r.Value, 'f', -1, 64), r.ComputedAt.Format(time.RFC3339)}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	return w.Error()
}

// AggregateScores implements §4.7.4: run the KPI/League engine for one
// resource/month and upload the rewritten record set.
func (o *Orchestrator) AggregateScores(ctx context.Context, store ScoreStore, resourceID string, scores []kpi.DailyScore, residuals map[string]kpi.ForecasterResidual, track domain.Track, year, month, daysInMonth int) error {
	fixedPayment, err := store.ListResourceParticipation(ctx)
	if err != nil {
		return err
	}

	engine := kpi.NewEngine(kpi.Params{
		PenaltyQuantile:    o.settings.Scoring.PenaltyQuantile,
		DisqualifyMissDays: o.settings.Scoring.DisqualifyMissDays,
		EliteCutoff:        o.settings.League.EliteCutoff,
		ChallengerCutoff:   o.settings.League.ChallengerCutoff,
		RunnerUpCutoff:     o.settings.League.RunnerUpCutoff,
		DaysInMonth:        daysInMonth,
	})

	metric := domain.MetricWinkler
	if track == domain.TrackDeterministic {
		metric = domain.MetricRMSE
	}

	records := engine.ComputeMonthly(resourceID, scores, fixedPayment, residuals, metric, track, year, month)
	return store.UpsertMonthlyKPIRecords(ctx, resourceID, year, month, track, records)
}

// RecomputeScores rebuilds every submission and ensemble score in [from, to)
// from the stored submissions and observed measurements. Called by
// calculate_scores after the pre-delete backup (§4.7.3); a challenge whose
// resource has no measurements yet is skipped rather than aborting the
// whole recompute.
func (o *Orchestrator) RecomputeScores(ctx context.Context, store ScoreStore, from, to time.Time) ([]domain.SubmissionScore, []domain.EnsembleScore, error) {
	challenges, err := store.ListChallengesInWindow(ctx, from, to)
	if err != nil {
		return nil, nil, err
	}
	return o.scoreChallenges(ctx, store, challenges, to)
}

// RecomputeUnscoredChallenges computes submission and ensemble scores only
// for challenges in [from, to) that do not already have scores, implementing
// §4.7.1's update_scores=False "correctness-preserving optimisation": scores
// are computed and published for challenges missing them, but nothing in the
// window is backed up or deleted first.
func (o *Orchestrator) RecomputeUnscoredChallenges(ctx context.Context, store ScoreStore, from, to time.Time) ([]domain.SubmissionScore, []domain.EnsembleScore, error) {
	challenges, err := store.ListUnscoredChallengesInWindow(ctx, from, to)
	if err != nil {
		return nil, nil, err
	}
	return o.scoreChallenges(ctx, store, challenges, to)
}

// scoreChallenges is the §4.7.1 per-challenge scoring loop shared by the
// destructive (RecomputeScores) and non-destructive (RecomputeUnscoredChallenges)
// paths: it only computes scores, never backs up or deletes anything.
func (o *Orchestrator) scoreChallenges(ctx context.Context, store ScoreStore, challenges []domain.Challenge, now time.Time) ([]domain.SubmissionScore, []domain.EnsembleScore, error) {
	calc := skillscore.NewCalculator(o.settings.Market.Quantiles)

	var submissionScores []domain.SubmissionScore
	var ensembleScores []domain.EnsembleScore
	for _, ch := range challenges {
		obsIndex, obsValues, err := store.LoadMeasurements(ctx, ch.ResourceID, ch.Start, ch.End)
		if err != nil {
			log.Error().Err(err).Str("challenge_id", ch.ID).Msg("load measurements failed, skipping challenge")
			continue
		}
		if len(obsIndex) == 0 {
			continue
		}

		submissions, err := store.ListSubmissionsForChallenge(ctx, ch.ID)
		if err != nil {
			log.Error().Err(err).Str("challenge_id", ch.ID).Msg("list submissions failed, skipping challenge")
		} else if len(submissions) > 0 {
			series := make([]skillscore.SubmissionSeries, len(submissions))
			for i, sub := range submissions {
				series[i] = skillscore.SubmissionSeries{ID: sub.ID, Quantile: sub.Quantile, Index: sub.Index, Values: sub.Values}
			}

			rows, err := calc.ComputeForecastersSkillScores(obsValues, obsIndex, series, o.settings.Scoring.WinklerAlpha)
			if err != nil {
				log.Error().Err(err).Str("challenge_id", ch.ID).Msg("compute skill scores failed, skipping challenge submissions")
			} else {
				forecasterOf := make(map[string]string, len(submissions))
				for _, sub := range submissions {
					forecasterOf[sub.ID] = sub.ForecasterID
				}
				for _, r := range rows {
					submissionScores = append(submissionScores, domain.SubmissionScore{
						SubmissionID: r.ID,
						ChallengeID:  ch.ID,
						ForecasterID: forecasterOf[r.ID],
						Metric:       domain.Metric(r.Metric),
						Value:        r.Value,
						ComputedAt:   now,
					})
				}
			}
		}

		ensembles, err := store.ListEnsembleForecastsForChallenge(ctx, ch.ID)
		if err != nil {
			log.Error().Err(err).Str("challenge_id", ch.ID).Msg("list ensemble forecasts failed, skipping challenge ensembles")
			continue
		}
		if len(ensembles) == 0 {
			continue
		}

		ensembleSeries := make([]skillscore.SubmissionSeries, len(ensembles))
		for i, ef := range ensembles {
			ensembleSeries[i] = skillscore.SubmissionSeries{ID: ef.StrategyName, Quantile: ef.Quantile, Index: ef.Index, Values: ef.Values}
		}
		ensembleRows, err := calc.ComputeForecastersSkillScores(obsValues, obsIndex, ensembleSeries, o.settings.Scoring.WinklerAlpha)
		if err != nil {
			log.Error().Err(err).Str("challenge_id", ch.ID).Msg("compute ensemble skill scores failed, skipping challenge ensembles")
			continue
		}
		for _, r := range ensembleRows {
			ensembleScores = append(ensembleScores, domain.EnsembleScore{
				ChallengeID:  ch.ID,
				StrategyName: r.ID,
				Quantile:     r.Quantile,
				Metric:       domain.Metric(r.Metric),
				Value:        r.Value,
				ComputedAt:   now,
			})
		}
	}
	return submissionScores, ensembleScores, nil
}

// ComputeDailySkillScores is a thin adapter from submission series to the
// kpi.DailyScore rows AggregateScores consumes, delegating the actual
// scoring math to skillscore.
func ComputeDailySkillScores(calc *skillscore.Calculator, observed []float64, obsIndex []time.Time, submissions []skillscore.SubmissionSeries, winklerAlpha float64, day time.Time) ([]kpi.DailyScore, error) {
	rows, err := calc.ComputeForecastersSkillScores(observed, obsIndex, submissions, winklerAlpha)
	if err != nil {
		return nil, err
	}
	out := make([]kpi.DailyScore, len(rows))
	for i, r := range rows {
		out[i] = kpi.DailyScore{ForecasterID: r.ID, Day: day, Metric: domain.Metric(r.Metric), Value: r.Value}
	}
	return out, nil
}
