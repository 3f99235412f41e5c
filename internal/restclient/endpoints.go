package restclient

import (
	"context"
	"fmt"
	"time"

	"github.com/INESCTEC/predico-collabforecast-sub000/internal/domain"
)

// sessionPayload/challengePayload/submissionPayload are the wire shapes
// exchanged with the market API; they are intentionally separate from
// internal/domain's entities so that a backend schema change never leaks
// into the domain model directly.

type sessionPayload struct {
	ID          string    `json:"id"`
	State       string    `json:"state"`
	GateClosure time.Time `json:"gate_closure"`
}

// CreateSession opens a new market session with the given gate-closure
// instant and returns the assigned session id.
func (c *Client) CreateSession(ctx context.Context, gateClosure time.Time) (domain.Session, error) {
	var resp sessionPayload
	req := map[string]interface{}{"gate_closure": gateClosure}
	if err := c.doJSON(ctx, "POST", "/api/v1/market/sessions/", req, &resp); err != nil {
		return domain.Session{}, err
	}
	return domain.Session{ID: resp.ID, State: domain.SessionState(resp.State), GateClosure: resp.GateClosure}, nil
}

// UpdateSessionState transitions a session to the given state.
func (c *Client) UpdateSessionState(ctx context.Context, sessionID string, state domain.SessionState) error {
	path := fmt.Sprintf("/api/v1/market/sessions/%s/", sessionID)
	return c.doJSON(ctx, "PATCH", path, map[string]string{"state": string(state)}, nil)
}

type challengePayload struct {
	ID         string    `json:"id"`
	ResourceID string    `json:"resource_id"`
	BuyerID    string    `json:"buyer_id"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	UseCase    string    `json:"use_case"`
}

// ListChallenges returns every challenge open in the given session.
func (c *Client) ListChallenges(ctx context.Context, sessionID string) ([]domain.Challenge, error) {
	var resp []challengePayload
	path := fmt.Sprintf("/api/v1/market/sessions/%s/challenges/", sessionID)
	if err := c.doJSON(ctx, "GET", path, nil, &resp); err != nil {
		return nil, err
	}
	out := make([]domain.Challenge, len(resp))
	for i, p := range resp {
		out[i] = domain.Challenge{ID: p.ID, ResourceID: p.ResourceID, BuyerID: p.BuyerID, SessionID: sessionID, Start: p.Start, End: p.End, UseCase: p.UseCase}
	}
	return out, nil
}

type submissionPayload struct {
	ID           string    `json:"id"`
	ForecasterID string    `json:"forecaster_id"`
	ChallengeID  string    `json:"challenge_id"`
	Quantile     string    `json:"quantile"`
	Kind         string    `json:"kind"`
	Index        []time.Time `json:"index"`
	Values       []float64 `json:"values"`
}

// ListSubmissions returns every submission posted for a challenge.
func (c *Client) ListSubmissions(ctx context.Context, challengeID string) ([]domain.Submission, error) {
	var resp []submissionPayload
	path := fmt.Sprintf("/api/v1/market/challenges/%s/submissions/", challengeID)
	if err := c.doJSON(ctx, "GET", path, nil, &resp); err != nil {
		return nil, err
	}
	out := make([]domain.Submission, len(resp))
	for i, p := range resp {
		out[i] = domain.Submission{ID: p.ID, ForecasterID: p.ForecasterID, ChallengeID: challengeID, Quantile: p.Quantile, Kind: domain.SubmissionKind(p.Kind), Index: p.Index, Values: p.Values}
	}
	return out, nil
}

// ListSubmissionsHistory returns every forecaster submission filed against
// a resource's challenges in [from, to), spanning multiple challenges. Used
// to build the training frame for strategy fitting (§4.7.2 step 3),
// independent of the current session's own challenge-window submissions.
func (c *Client) ListSubmissionsHistory(ctx context.Context, resourceID string, from, to time.Time) ([]domain.Submission, error) {
	var resp []submissionPayload
	path := fmt.Sprintf("/api/v1/market/resources/%s/submissions/?from=%s&to=%s", resourceID, from.Format(time.RFC3339), to.Format(time.RFC3339))
	if err := c.doJSON(ctx, "GET", path, nil, &resp); err != nil {
		return nil, err
	}
	out := make([]domain.Submission, len(resp))
	for i, p := range resp {
		out[i] = domain.Submission{ID: p.ID, ForecasterID: p.ForecasterID, ChallengeID: p.ChallengeID, Quantile: p.Quantile, Kind: domain.SubmissionKind(p.Kind), Index: p.Index, Values: p.Values}
	}
	return out, nil
}

// PostEnsembleForecast publishes one strategy's predictions for a challenge.
func (c *Client) PostEnsembleForecast(ctx context.Context, challengeID, strategyName string, rows []EnsembleRow) error {
	path := fmt.Sprintf("/api/v1/market/challenges/%s/ensembles/", challengeID)
	body := map[string]interface{}{"strategy": strategyName, "rows": rows}
	return c.doJSON(ctx, "POST", path, body, nil)
}

// EnsembleRow is one (timestamp, quantile, value) wire row.
type EnsembleRow struct {
	Time     time.Time `json:"time"`
	Quantile string    `json:"quantile"`
	Value    float64   `json:"value"`
}

// PostSubmissionScores publishes per-submission skill scores.
func (c *Client) PostSubmissionScores(ctx context.Context, scores []domain.SubmissionScore) error {
	return c.doJSON(ctx, "POST", "/api/v1/market/scores/submissions/", scores, nil)
}

// PostEnsembleScores publishes per-ensemble skill scores.
func (c *Client) PostEnsembleScores(ctx context.Context, scores []domain.EnsembleScore) error {
	return c.doJSON(ctx, "POST", "/api/v1/market/scores/ensembles/", scores, nil)
}

// DeleteScoresInWindow deletes every submission/ensemble score row in
// [from, to) ahead of a destructive recompute; the orchestrator is
// responsible for writing the CSV backup before calling this.
func (c *Client) DeleteScoresInWindow(ctx context.Context, from, to time.Time) error {
	path := fmt.Sprintf("/api/v1/market/scores/?from=%s&to=%s", from.Format(time.RFC3339), to.Format(time.RFC3339))
	return c.doJSON(ctx, "DELETE", path, nil, nil)
}

// ListUserResources lists the resources a buyer has granted forecast
// access to, used to resolve which resources a session covers.
func (c *Client) ListUserResources(ctx context.Context, buyerID string) ([]domain.Resource, error) {
	var resp []struct {
		ID           string `json:"id"`
		BuyerID      string `json:"buyer_id"`
		Type         string `json:"type"`
		Timezone     string `json:"timezone"`
		Active       bool   `json:"active"`
		FixedPayment bool   `json:"is_fixed_payment"`
	}
	path := fmt.Sprintf("/api/v1/users/%s/resources/", buyerID)
	if err := c.doJSON(ctx, "GET", path, nil, &resp); err != nil {
		return nil, err
	}
	out := make([]domain.Resource, len(resp))
	for i, p := range resp {
		out[i] = domain.Resource{ID: p.ID, BuyerID: p.BuyerID, Type: domain.ResourceType(p.Type), Timezone: p.Timezone, Active: p.Active, FixedPayment: p.FixedPayment}
	}
	return out, nil
}

// ListContinuousForecasters returns the forecasters enrolled in
// auto-submission for a resource, used by the continuous-forecast
// fallback (SPEC_FULL.md Supplemented Features #1).
func (c *Client) ListContinuousForecasters(ctx context.Context, resourceID string) ([]string, error) {
	var resp []string
	path := fmt.Sprintf("/api/v1/market/resources/%s/continuous_forecasters/", resourceID)
	err := c.doJSON(ctx, "GET", path, nil, &resp)
	return resp, err
}

// UploadMonthlyKPIRecords replaces every monthly KPI record for
// (resourceID, year, month) with the given set, via delete-then-insert.
func (c *Client) UploadMonthlyKPIRecords(ctx context.Context, resourceID string, year, month int, records []domain.MonthlyKPIRecord) error {
	path := fmt.Sprintf("/api/v1/market/resources/%s/kpi/%d/%d/", resourceID, year, month)
	return c.doJSON(ctx, "PUT", path, records, nil)
}
