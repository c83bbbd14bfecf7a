// Package gateway delivers attempts and step results to the backend
// results API. Writes go through the store's outbox and are drained by a
// Dispatcher, so the progression engine never waits on the network.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	pathAttempts = "/v1/attempts"
	pathSteps    = "/v1/steps"

	// HeaderLearnerID identifies the learner on every request.
	HeaderLearnerID = "X-Learner-ID"
	// HeaderIdempotencyKey carries the outbox key so the backend can
	// drop replays.
	HeaderIdempotencyKey = "Idempotency-Key"
)

// AttemptPayload is the body of POST /v1/attempts.
type AttemptPayload struct {
	Level     string `json:"level"`
	Task      string `json:"task"`
	Step      string `json:"step"`
	Score     int    `json:"score"`
	MaxScore  int    `json:"max_score"`
	Completed bool   `json:"completed"`
	TimeTaken *int64 `json:"time_taken,omitempty"` // seconds
}

// StepPayload is the body of POST /v1/steps.
type StepPayload struct {
	Step   string         `json:"step"`
	Level  string         `json:"level"`
	Scores map[string]int `json:"scores"`
}

// StepResponse is the backend's verdict on a step submission.
type StepResponse struct {
	Passed     bool `json:"passed"`
	TotalScore int  `json:"total_score"`
	Threshold  int  `json:"threshold"`
}

// Client talks to the results API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient returns a client for baseURL. A zero timeout means 10s.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// LogAttempt records one finished task.
func (c *Client) LogAttempt(ctx context.Context, learnerID, key string, p AttemptPayload) error {
	_, err := c.post(ctx, pathAttempts, learnerID, key, p)
	return err
}

// SubmitStep records a step's scores and returns the backend's decision.
func (c *Client) SubmitStep(ctx context.Context, learnerID, key string, p StepPayload) (*StepResponse, error) {
	raw, err := c.post(ctx, pathSteps, learnerID, key, p)
	if err != nil {
		return nil, err
	}
	var resp StepResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, &ErrPersistenceUnavailable{Op: "submit step", Err: fmt.Errorf("decode response: %w", err)}
	}
	return &resp, nil
}

func (c *Client) post(ctx context.Context, path, learnerID, key string, body any) ([]byte, error) {
	op := "POST " + path
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("build %s: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderLearnerID, learnerID)
	if key != "" {
		req.Header.Set(HeaderIdempotencyKey, key)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &ErrPersistenceUnavailable{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &ErrPersistenceUnavailable{Op: op, Status: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, classify(op, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return raw, nil
}
