// Package runner orchestrates test runs: it queues them, dispatches to the
// external execution engine, polls for progress, and records terminal
// results together with any post-run AI findings.
package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ExecutorError describes a failed executor call.
type ExecutorError struct {
	Status int
	Body   string
	Err    error
}

func (e *ExecutorError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("executor: %v", e.Err)
	}
	return fmt.Sprintf("executor: status %d: %s", e.Status, e.Body)
}

func (e *ExecutorError) Unwrap() error { return e.Err }

// Finding is one post-run AI observation reported by the executor.
type Finding struct {
	Type     string          `json:"type"`
	Severity string          `json:"severity"`
	Summary  string          `json:"summary"`
	Details  json.RawMessage `json:"details,omitempty"`
}

// ExecStatus is the executor's view of a run.
type ExecStatus struct {
	Status   string          `json:"status"`
	Results  json.RawMessage `json:"results,omitempty"`
	Findings []Finding       `json:"findings,omitempty"`
}

// ExecutorClient talks to the execution engine over HTTP/JSON.
type ExecutorClient struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewExecutorClient creates an executor client.
func NewExecutorClient(baseURL, token string) *ExecutorClient {
	return &ExecutorClient{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

type startRequest struct {
	RunID       string `json:"run_id"`
	Content     string `json:"content"`
	Environment string `json:"environment"`
	Browser     string `json:"browser"`
}

// Start hands a run to the executor.
func (c *ExecutorClient) Start(ctx context.Context, runID, content, environment, browser string) error {
	body, _ := json.Marshal(startRequest{
		RunID:       runID,
		Content:     content,
		Environment: environment,
		Browser:     browser,
	})

	resp, err := c.do(ctx, http.MethodPost, "/v1/runs", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusCreated {
		return errorFromResponse(resp)
	}
	return nil
}

// Status fetches the executor's current view of a run.
func (c *ExecutorClient) Status(ctx context.Context, runID string) (*ExecStatus, error) {
	resp, err := c.do(ctx, http.MethodGet, "/v1/runs/"+runID, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errorFromResponse(resp)
	}

	var st ExecStatus
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return nil, &ExecutorError{Err: fmt.Errorf("decoding response: %w", err)}
	}
	return &st, nil
}

// Cancel tells the executor to stop a run. Advisory: the control plane has
// already recorded the cancellation before this is called.
func (c *ExecutorClient) Cancel(ctx context.Context, runID string) error {
	resp, err := c.do(ctx, http.MethodPost, "/v1/runs/"+runID+"/cancel", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return errorFromResponse(resp)
	}
	return nil
}

func (c *ExecutorClient) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, &ExecutorError{Err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &ExecutorError{Err: err}
	}
	return resp, nil
}

func errorFromResponse(resp *http.Response) error {
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &ExecutorError{Status: resp.StatusCode, Body: string(respBody)}
}
