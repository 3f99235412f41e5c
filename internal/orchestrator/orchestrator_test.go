package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/INESCTEC/predico-collabforecast-sub000/internal/config"
	"github.com/INESCTEC/predico-collabforecast-sub000/internal/domain"
	"github.com/INESCTEC/predico-collabforecast-sub000/internal/forecastengine"
	"github.com/INESCTEC/predico-collabforecast-sub000/internal/restclient"
	"github.com/INESCTEC/predico-collabforecast-sub000/internal/strategy"
)

type fakeAPI struct {
	states             []domain.SessionState
	submissions        map[string][]domain.Submission
	history            map[string][]domain.Submission
	published          []string
	continuousByResource map[string][]string
}

func (f *fakeAPI) CreateSession(ctx context.Context, gateClosure time.Time) (domain.Session, error) {
	return domain.Session{ID: "s1", State: domain.SessionOpen, GateClosure: gateClosure}, nil
}

func (f *fakeAPI) UpdateSessionState(ctx context.Context, sessionID string, state domain.SessionState) error {
	f.states = append(f.states, state)
	return nil
}

func (f *fakeAPI) ListChallenges(ctx context.Context, sessionID string) ([]domain.Challenge, error) {
	return nil, nil
}

func (f *fakeAPI) ListSubmissions(ctx context.Context, challengeID string) ([]domain.Submission, error) {
	return f.submissions[challengeID], nil
}

func (f *fakeAPI) ListSubmissionsHistory(ctx context.Context, resourceID string, from, to time.Time) ([]domain.Submission, error) {
	return f.history[resourceID], nil
}

func (f *fakeAPI) PostEnsembleForecast(ctx context.Context, challengeID, strategyName string, rows []restclient.EnsembleRow) error {
	f.published = append(f.published, challengeID+"/"+strategyName)
	return nil
}

func (f *fakeAPI) ListContinuousForecasters(ctx context.Context, resourceID string) ([]string, error) {
	return f.continuousByResource[resourceID], nil
}

// fakeStore is a minimal in-memory DataStore: one fixed measurement series
// regardless of the requested window, plus an append-only record of every
// ensemble forecast persisted by publishResults.
type fakeStore struct {
	measurementIdx    []time.Time
	measurementVals   []float64
	ensembleForecasts []domain.EnsembleForecast
}

func (f *fakeStore) LoadMeasurements(ctx context.Context, resourceID string, from, to time.Time) ([]time.Time, []float64, error) {
	return f.measurementIdx, f.measurementVals, nil
}

func (f *fakeStore) InsertEnsembleForecasts(ctx context.Context, forecasts []domain.EnsembleForecast) error {
	f.ensembleForecasts = append(f.ensembleForecasts, forecasts...)
	return nil
}

func fixedSeries(start time.Time, n int, v float64) ([]time.Time, []float64) {
	idx := make([]time.Time, n)
	vals := make([]float64, n)
	for i := 0; i < n; i++ {
		idx[i] = start.Add(time.Duration(i) * 15 * time.Minute)
		vals[i] = v
	}
	return idx, vals
}

func TestRunSessionDrivesFullLifecycle(t *testing.T) {
	start := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(23*time.Hour + 45*time.Minute)
	challenge := domain.Challenge{ID: "c1", ResourceID: "r1", BuyerID: "b1", SessionID: "s1", Start: start, End: end}

	idx, valsQ10 := fixedSeries(start, 96, 1)
	_, valsQ50 := fixedSeries(start, 96, 2)
	_, valsQ90 := fixedSeries(start, 96, 3)

	histIdx, histQ10 := fixedSeries(start.AddDate(0, 0, -7), 672, 1)
	_, histQ50 := fixedSeries(start.AddDate(0, 0, -7), 672, 2)
	_, histQ90 := fixedSeries(start.AddDate(0, 0, -7), 672, 3)

	api := &fakeAPI{
		submissions: map[string][]domain.Submission{
			"c1": {
				{ID: "sub1", ForecasterID: "fA", ChallengeID: "c1", Quantile: "q10", Index: idx, Values: valsQ10},
				{ID: "sub2", ForecasterID: "fA", ChallengeID: "c1", Quantile: "q50", Index: idx, Values: valsQ50},
				{ID: "sub3", ForecasterID: "fA", ChallengeID: "c1", Quantile: "q90", Index: idx, Values: valsQ90},
			},
		},
		history: map[string][]domain.Submission{
			"r1": {
				{ID: "hsub1", ForecasterID: "fA", ChallengeID: "c0", Quantile: "q10", Index: histIdx, Values: histQ10},
				{ID: "hsub2", ForecasterID: "fA", ChallengeID: "c0", Quantile: "q50", Index: histIdx, Values: histQ50},
				{ID: "hsub3", ForecasterID: "fA", ChallengeID: "c0", Quantile: "q90", Index: histIdx, Values: histQ90},
			},
		},
	}
	store := &fakeStore{measurementIdx: histIdx, measurementVals: histQ50}

	settings := config.Defaults()
	settings.Strategy.MinSubmissionDays = 0
	settings.Strategy.MinSubmissionLookback = 0
	settings.Strategy.ValidateMinSamples = 0
	settings.Jobs.NJobs = 2

	engine := forecastengine.NewEngine(strategy.Default, settings)
	o := New(settings, api, store, engine)

	session := domain.Session{ID: "s1", State: domain.SessionOpen}
	now := start.Add(24 * time.Hour)
	if err := o.RunSession(context.Background(), session, []domain.Challenge{challenge}, now); err != nil {
		t.Fatalf("RunSession failed: %v", err)
	}

	wantStates := []domain.SessionState{domain.SessionClosed, domain.SessionRunning, domain.SessionFinished}
	if len(api.states) != len(wantStates) {
		t.Fatalf("states = %v, want %v", api.states, wantStates)
	}
	for i, s := range wantStates {
		if api.states[i] != s {
			t.Fatalf("states[%d] = %s, want %s", i, api.states[i], s)
		}
	}

	if len(api.published) == 0 {
		t.Fatal("expected at least one ensemble forecast to be published, got none")
	}
	if len(store.ensembleForecasts) == 0 {
		t.Fatal("expected ensemble forecasts to be persisted to the local store, got none")
	}
}

func TestRunSessionRejectsInvalidTransition(t *testing.T) {
	settings := config.Defaults()
	o := New(settings, &fakeAPI{}, nil, forecastengine.NewEngine(strategy.Default, settings))

	session := domain.Session{ID: "s1", State: domain.SessionFinished}
	if err := o.RunSession(context.Background(), session, nil, time.Now()); err == nil {
		t.Fatal("expected error transitioning from finished to closed")
	}
}
