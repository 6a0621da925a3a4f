// Package ai provides the client for the external AI enhancement provider.
// The provider is an opaque collaborator: it accepts a script and a prompt
// and returns a proposed diff plus a confidence score.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ProviderError describes a failed provider call. The HTTP status is zero
// for transport-level failures.
type ProviderError struct {
	Status int
	Body   string
	Err    error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ai provider: %v", e.Err)
	}
	return fmt.Sprintf("ai provider: status %d: %s", e.Status, e.Body)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Enhancement is the provider's answer: a patch against the submitted
// content, the model that produced it, and a confidence in [0,1].
type Enhancement struct {
	Diff       string  `json:"diff"`
	Model      string  `json:"model"`
	Confidence float64 `json:"confidence"`
}

// Client calls the AI provider over HTTP/JSON.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a provider client. timeout bounds a single call.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

type enhanceRequest struct {
	Content string `json:"content"`
	Prompt  string `json:"prompt"`
}

// Enhance submits content and a prompt, returning the proposed enhancement.
// A confidence outside [0,1] is treated as a provider failure.
func (c *Client) Enhance(ctx context.Context, content, prompt string) (*Enhancement, error) {
	body, err := json.Marshal(enhanceRequest{Content: content, Prompt: prompt})
	if err != nil {
		return nil, &ProviderError{Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/enhance", bytes.NewReader(body))
	if err != nil {
		return nil, &ProviderError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &ProviderError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &ProviderError{Status: resp.StatusCode, Body: string(respBody)}
	}

	var enh Enhancement
	if err := json.NewDecoder(resp.Body).Decode(&enh); err != nil {
		return nil, &ProviderError{Err: fmt.Errorf("decoding response: %w", err)}
	}

	if enh.Confidence < 0 || enh.Confidence > 1 {
		return nil, &ProviderError{Err: fmt.Errorf("confidence %v out of range", enh.Confidence)}
	}
	if enh.Diff == "" {
		return nil, &ProviderError{Err: fmt.Errorf("empty diff in response")}
	}

	return &enh, nil
}
