// Package restclient talks to the external market API backend (§6):
// session lifecycle, challenges/submissions, ensemble forecasts and
// scores, and the continuous-forecast listing. It is the only component
// that performs network I/O to that backend.
package restclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/INESCTEC/predico-collabforecast-sub000/internal/config"
	"github.com/INESCTEC/predico-collabforecast-sub000/internal/marketerr"
	"github.com/INESCTEC/predico-collabforecast-sub000/internal/net/circuit"
	"github.com/INESCTEC/predico-collabforecast-sub000/internal/net/ratelimit"
)

// Client is the single-provider HTTP client for the market API: bearer
// token auth (obtained via Login), retry with backoff, a circuit breaker
// wrapped around each request attempt and a per-host rate limiter waited
// on once per request, both called directly from doJSON, in the same shape as the teacher's multi-provider client wrapper but
// collapsed to one provider since this system talks to exactly one
// backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *circuit.Breaker
	limiter    *ratelimit.Limiter
	retries    int
	token      string
}

// APIError is returned by a request attempt for any response with status
// >= 400 and carries the server's response body for diagnostics. doJSON
// retries 5xx responses and returns any other status at once; either way
// the error it returns is wrapped as marketerr.KindAPIError.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("market api: status %d: %s", e.StatusCode, e.Body)
}

// New builds a Client against the given API settings.
func New(api config.APISettings, retries int) *Client {
	breaker := circuit.NewBreaker(circuit.Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
		RequestTimeout:   15 * time.Second,
	})
	return &Client{
		baseURL:    api.BaseURL(),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		breaker:    breaker,
		limiter:    ratelimit.NewLimiter(5, 10),
		retries:    retries,
	}
}

// Login authenticates with email/password and stores the bearer token for
// subsequent requests.
func (c *Client) Login(ctx context.Context, email, password string) error {
	var resp struct {
		Token string `json:"access"`
	}
	body := map[string]string{"email": email, "password": password}
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/auth/login/", body, &resp); err != nil {
		return marketerr.Wrap(marketerr.KindAPIError, "login failed", err)
	}
	c.token = resp.Token
	return nil
}

// doJSON performs one authenticated request with JSON request/response
// bodies, retrying transient failures up to c.retries times with linear
// backoff, gated by the rate limiter and circuit breaker.
func (c *Client) doJSON(ctx context.Context, method, path string, reqBody, respBody interface{}) error {
	host := c.baseURL
	if err := c.limiter.Wait(ctx, host); err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			}
		}

		err := c.breaker.Call(ctx, func(ctx context.Context) error {
			return c.attempt(ctx, method, path, reqBody, respBody)
		})
		if err == nil {
			return nil
		}
		lastErr = err

		var apiErr *APIError
		if ok := isAPIError(err, &apiErr); ok && apiErr.StatusCode < 500 {
			// Non-5xx client errors are not retried.
			return marketerr.Wrap(marketerr.KindAPIError, "market api request failed", err)
		}
		log.Warn().Err(err).Str("path", path).Int("attempt", attempt).Msg("market api request failed, retrying")
	}
	return marketerr.Wrap(marketerr.KindAPIError, "market api request exhausted retries", lastErr)
}

func isAPIError(err error, target **APIError) bool {
	apiErr, ok := err.(*APIError)
	if ok {
		*target = apiErr
	}
	return ok
}

func (c *Client) attempt(ctx context.Context, method, path string, reqBody, respBody interface{}) error {
	var reader io.Reader
	if reqBody != nil {
		buf, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return &APIError{StatusCode: resp.StatusCode, Body: string(bodyBytes)}
	}

	if respBody != nil && len(bodyBytes) > 0 {
		if err := json.Unmarshal(bodyBytes, respBody); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}
