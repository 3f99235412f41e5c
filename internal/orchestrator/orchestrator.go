// Package orchestrator implements the Market Orchestrator (C8): the
// session lifecycle state machine and the four entry points invoked by
// the external scheduler (open_session, run_session, calculate_scores,
// aggregate_scores), per spec.md §4.7.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/INESCTEC/predico-collabforecast-sub000/internal/config"
	"github.com/INESCTEC/predico-collabforecast-sub000/internal/dataloader"
	"github.com/INESCTEC/predico-collabforecast-sub000/internal/domain"
	"github.com/INESCTEC/predico-collabforecast-sub000/internal/forecastengine"
	"github.com/INESCTEC/predico-collabforecast-sub000/internal/frame"
	"github.com/INESCTEC/predico-collabforecast-sub000/internal/marketerr"
	"github.com/INESCTEC/predico-collabforecast-sub000/internal/restclient"
	"github.com/INESCTEC/predico-collabforecast-sub000/internal/timeutil"
)

// API is the subset of restclient.Client the orchestrator depends on,
// narrowed to an interface so tests can fake the network boundary.
type API interface {
	CreateSession(ctx context.Context, gateClosure time.Time) (domain.Session, error)
	UpdateSessionState(ctx context.Context, sessionID string, state domain.SessionState) error
	ListChallenges(ctx context.Context, sessionID string) ([]domain.Challenge, error)
	ListSubmissions(ctx context.Context, challengeID string) ([]domain.Submission, error)
	ListSubmissionsHistory(ctx context.Context, resourceID string, from, to time.Time) ([]domain.Submission, error)
	PostEnsembleForecast(ctx context.Context, challengeID, strategyName string, rows []restclient.EnsembleRow) error
	ListContinuousForecasters(ctx context.Context, resourceID string) ([]string, error)
}

// DataStore is the relational-store collaborator (§1's "measurement
// database", out of scope to implement here beyond the narrow interface §6
// defines) run_session depends on: observed history to score against, and a
// place to persist ensemble forecasts locally so calculate_scores - which
// runs with no access to the external market API - can rescore them later.
type DataStore interface {
	LoadMeasurements(ctx context.Context, resourceID string, from, to time.Time) ([]time.Time, []float64, error)
	InsertEnsembleForecasts(ctx context.Context, forecasts []domain.EnsembleForecast) error
}

// Orchestrator drives one session's lifecycle.
type Orchestrator struct {
	settings config.Settings
	api      API
	store    DataStore
	engine   *forecastengine.Engine
	loader   *dataloader.Loader
}

// New builds an Orchestrator from its configured collaborators. store may
// be nil for entry points that never forecast (e.g. the aggregate_scores-only
// path), in which case RunSession is not usable.
func New(settings config.Settings, api API, store DataStore, engine *forecastengine.Engine) *Orchestrator {
	loader := dataloader.NewLoader(settings.Market.TimeResolution, settings.Strategy.MinSubmissionDays, settings.Strategy.MinSubmissionLookback)
	return &Orchestrator{settings: settings, api: api, store: store, engine: engine, loader: loader}
}

// OpenSession computes the next gate-closure instant and asks the API to
// create a new session for it.
func (o *Orchestrator) OpenSession(ctx context.Context, now time.Time) (domain.Session, error) {
	gateClosure, err := timeutil.NextGateClosureUTC(now, o.settings.Market.GateClosureHourCET)
	if err != nil {
		return domain.Session{}, marketerr.Wrap(marketerr.KindValidation, "compute gate closure", err)
	}
	session, err := o.api.CreateSession(ctx, gateClosure)
	if err != nil {
		return domain.Session{}, err
	}
	log.Info().Str("session_id", session.ID).Time("gate_closure", gateClosure).Msg("session opened")
	return session, nil
}

// resourceRunResult is one worker's output for a single resource.
type resourceRunResult struct {
	resourceID string
	results    map[string]forecastengine.Result
	err        error
}

// RunSession transitions an open session to closed, fans a forecast job
// out to a worker pool of size settings.Jobs.NJobs (one per resource),
// publishes every strategy's ensemble, then marks the session finished.
// Aggregation across workers happens only after the pool drains, on the
// calling goroutine (spec.md §9's explicit concurrency design note). The
// workers share one engine, which keeps a separate strategy instance per
// resource and guards its result cache with a mutex.
func (o *Orchestrator) RunSession(ctx context.Context, session domain.Session, challenges []domain.Challenge, now time.Time) error {
	if !session.State.CanTransitionTo(domain.SessionClosed) {
		return marketerr.New(marketerr.KindNoMarketSession, "session cannot transition to closed from "+string(session.State))
	}
	if err := o.api.UpdateSessionState(ctx, session.ID, domain.SessionClosed); err != nil {
		return err
	}

	// ListChallenges returns challenges with no Submissions attached, so
	// every forecaster's submissions must be fetched and attached here
	// first: LoadChallenges drops any challenge it sees as empty.
	var submissions []domain.Submission
	annotated := make([]domain.Challenge, len(challenges))
	for i, ch := range challenges {
		subs, err := o.api.ListSubmissions(ctx, ch.ID)
		if err != nil {
			log.Error().Err(err).Str("challenge_id", ch.ID).Msg("list submissions failed, skipping challenge")
			annotated[i] = ch
			continue
		}
		ch.Submissions = subs
		annotated[i] = ch
		submissions = append(submissions, subs...)
	}

	contexts, dropped, err := o.loader.LoadChallenges(annotated)
	if err != nil {
		return err
	}
	for _, d := range dropped {
		log.Warn().Str("challenge_id", d.ID).Msg("dropped empty-submission challenge")
	}

	o.loader.LoadForecasters(contexts, submissions)
	o.applyContinuousForecasters(ctx, contexts, submissions)
	o.loadMeasurements(ctx, contexts, now)
	o.loadTrainingForecasters(ctx, contexts)

	if err := o.api.UpdateSessionState(ctx, session.ID, domain.SessionRunning); err != nil {
		return err
	}

	results := o.fanOutForecasts(ctx, contexts)

	for _, r := range results {
		if r.err != nil {
			log.Error().Err(r.err).Str("resource_id", r.resourceID).Msg("forecast failed for resource")
			continue
		}
		o.publishResults(ctx, contexts[r.resourceID], r.results)
	}

	return o.api.UpdateSessionState(ctx, session.ID, domain.SessionFinished)
}

// applyContinuousForecasters auto-submits a standing forecast for every
// forecaster enrolled in continuous mode on a resource who filed no manual
// submission this session, using the latest per-quantile series seen among
// this session's own submissions as the carried-forward value (§ supplemented
// feature: continuous-forecast auto-submission).
func (o *Orchestrator) applyContinuousForecasters(ctx context.Context, contexts map[string]*dataloader.BuyerContext, submissions []domain.Submission) {
	continuousIDs := map[string][]string{}
	for resourceID := range contexts {
		ids, err := o.api.ListContinuousForecasters(ctx, resourceID)
		if err != nil {
			log.Error().Err(err).Str("resource_id", resourceID).Msg("list continuous forecasters failed, skipping fallback for resource")
			continue
		}
		if len(ids) > 0 {
			continuousIDs[resourceID] = ids
		}
	}
	if len(continuousIDs) == 0 {
		return
	}

	lastKnown := map[string]map[string]domain.Submission{}
	for _, s := range submissions {
		if lastKnown[s.ForecasterID] == nil {
			lastKnown[s.ForecasterID] = map[string]domain.Submission{}
		}
		existing, ok := lastKnown[s.ForecasterID][s.Quantile]
		if !ok || (len(s.Index) > 0 && len(existing.Index) > 0 && s.Index[len(s.Index)-1].After(existing.Index[len(existing.Index)-1])) {
			lastKnown[s.ForecasterID][s.Quantile] = s
		}
	}

	synthesized := o.loader.ApplyContinuousFallback(contexts, continuousIDs, lastKnown)
	for _, s := range synthesized {
		log.Info().Str("forecaster_id", s.ForecasterID).Str("challenge_id", s.ChallengeID).Msg("continuous forecast auto-submitted")
	}
}

// loadMeasurements queries one month of observed history ending at the
// session launch time for every resource in play (spec.md's run_session
// step 3) and attaches it via the loader's resample step. A resource whose
// query fails is left with an empty measurement frame, from which the
// skill-score calculator computes no scores; the run itself is not aborted.
func (o *Orchestrator) loadMeasurements(ctx context.Context, contexts map[string]*dataloader.BuyerContext, now time.Time) {
	if o.store == nil {
		for _, c := range contexts {
			c.Measurements = frame.New()
		}
		return
	}

	from := now.AddDate(0, -1, 0)
	raw := make(map[string]*frame.Frame, len(contexts))
	for resourceID := range contexts {
		idx, vals, err := o.store.LoadMeasurements(ctx, resourceID, from, now)
		if err != nil {
			log.Error().Err(err).Str("resource_id", resourceID).Msg("load measurements failed, using empty series")
			continue
		}
		series := frame.NewFromIndex(idx)
		series.SetColumn("target", idx, vals)
		raw[resourceID] = series
	}
	o.loader.LoadBuyerMeasurements(contexts, raw)
}

// loadTrainingForecasters queries one month of historical forecaster
// submissions ending at each resource's latest challenge end (spec.md
// §4.7.2 step 3) and builds its training frame, kept separate from the
// current session's challenge-window frame used at prediction time. A
// resource whose query fails or returns nothing gets an empty training
// frame; WeightedAverage then scores every column with its configured
// default score, and with the default parameters (beta 0.001, default
// score 999999) every weight underflows to zero, so its Predict fails with
// a strategy-execution error for that resource.
func (o *Orchestrator) loadTrainingForecasters(ctx context.Context, contexts map[string]*dataloader.BuyerContext) {
	for resourceID, buyer := range contexts {
		maxEnd := buyer.Challenges[0].End
		for _, c := range buyer.Challenges {
			if c.End.After(maxEnd) {
				maxEnd = c.End
			}
		}
		from := maxEnd.AddDate(0, -1, 0)

		history, err := o.api.ListSubmissionsHistory(ctx, resourceID, from, maxEnd)
		if err != nil {
			log.Error().Err(err).Str("resource_id", resourceID).Msg("list submissions history failed, training frame will be empty")
			history = nil
		}
		o.loader.LoadTrainingForecasters(contexts, resourceID, history)
	}
}

// fanOutForecasts dispatches one forecast job per resource to a
// fixed-size worker pool and waits for every job to complete.
func (o *Orchestrator) fanOutForecasts(ctx context.Context, contexts map[string]*dataloader.BuyerContext) []resourceRunResult {
	jobs := make(chan string, len(contexts))
	out := make(chan resourceRunResult, len(contexts))

	workers := o.settings.Jobs.NJobs
	if workers < 1 {
		workers = 1
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for resourceID := range jobs {
				ctxBuyer := contexts[resourceID]
				results, err := o.engine.Forecast(resourceID, ctxBuyer.TrainForecasts, ctxBuyer.Measurements, ctxBuyer.Forecasts, nil, o.settings.Market.Quantiles)
				out <- resourceRunResult{resourceID: resourceID, results: results, err: err}
			}
		}()
	}

	for resourceID := range contexts {
		jobs <- resourceID
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(out)
	}()

	var collected []resourceRunResult
	for r := range out {
		collected = append(collected, r)
	}
	return collected
}

// publishResults posts every strategy's ensemble for every challenge of a
// resource, and mirrors the same rows into the local store so
// calculate_scores (which has no REST API access, per cmd/collabforecast's
// wiring) can rescore ensembles later. Per §7's propagation policy, a single
// publish failure is logged and absorbed, not propagated.
func (o *Orchestrator) publishResults(ctx context.Context, buyer *dataloader.BuyerContext, results map[string]forecastengine.Result) {
	for strategyName, result := range results {
		byQuantile := map[string][]restclient.EnsembleRow{}
		rows := make([]restclient.EnsembleRow, 0, len(result.Predictions))
		for _, p := range result.Predictions {
			row := restclient.EnsembleRow{Time: p.Time, Quantile: p.Variable, Value: p.Value}
			rows = append(rows, row)
			byQuantile[p.Variable] = append(byQuantile[p.Variable], row)
		}

		for _, challenge := range buyer.Challenges {
			if err := o.api.PostEnsembleForecast(ctx, challenge.ID, strategyName, rows); err != nil {
				log.Error().Err(err).Str("challenge_id", challenge.ID).Str("strategy", strategyName).Msg("publish ensemble failed")
			}
			if o.store == nil {
				continue
			}
			forecasts := make([]domain.EnsembleForecast, 0, len(byQuantile))
			for quantile, qRows := range byQuantile {
				idx := make([]time.Time, len(qRows))
				vals := make([]float64, len(qRows))
				for i, r := range qRows {
					idx[i] = r.Time
					vals[i] = r.Value
				}
				forecasts = append(forecasts, domain.EnsembleForecast{ChallengeID: challenge.ID, StrategyName: strategyName, Quantile: quantile, Index: idx, Values: vals})
			}
			if err := o.store.InsertEnsembleForecasts(ctx, forecasts); err != nil {
				log.Error().Err(err).Str("challenge_id", challenge.ID).Str("strategy", strategyName).Msg("persist ensemble forecast failed")
			}
		}
	}
}

// NewSessionID mints a local identifier when the API does not assign one.
func NewSessionID() string {
	return uuid.NewString()
}
