// Package engine provides the client for the externally-owned workflow
// execution engine. The core only starts executions and polls their
// status through an opaque reference handle; everything else about the
// engine is out of scope.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/haveloc/servehub/internal/core"
)

// HTTPClient talks JSON to a workflow engine endpoint.
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
}

var _ core.EngineClient = (*HTTPClient)(nil)

// NewHTTPClient creates an engine client for baseURL.
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// StartExecution launches a workflow and returns its reference handle.
func (c *HTTPClient) StartExecution(ctx context.Context, input json.RawMessage) (string, error) {
	body, err := json.Marshal(map[string]json.RawMessage{"input": input})
	if err != nil {
		return "", fmt.Errorf("encoding execution input: %w", err)
	}

	var res struct {
		ExecutionRef string `json:"execution_ref"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/executions", bytes.NewReader(body), &res); err != nil {
		return "", err
	}
	if res.ExecutionRef == "" {
		return "", fmt.Errorf("engine returned no execution reference")
	}
	return res.ExecutionRef, nil
}

// DescribeExecution returns the engine's current view of an execution.
func (c *HTTPClient) DescribeExecution(ctx context.Context, ref string) (*core.ExecutionStatus, error) {
	var res struct {
		Status string          `json:"status"`
		Output json.RawMessage `json:"output,omitempty"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/executions/"+ref, nil, &res); err != nil {
		return nil, err
	}
	return &core.ExecutionStatus{
		Status: core.TaskStatus(res.Status),
		Output: res.Output,
	}, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("building engine request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("calling engine: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("engine returned %d: %s", resp.StatusCode, payload)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding engine response: %w", err)
	}
	return nil
}
