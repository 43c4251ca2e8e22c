package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPAdapter executes tasks against a remote HTTP endpoint. The task is sent
// as POST {"task": ...}; the response body (or its "output"/"result" field
// when the body is JSON) becomes the task output.
type HTTPAdapter struct {
	name         string
	endpoint     string
	description  string
	capabilities []string
	headers      map[string]string
	timeout      time.Duration
	client       *http.Client
}

// HTTPOption configures an HTTPAdapter.
type HTTPOption func(*HTTPAdapter)

// WithHTTPDescription sets the adapter description.
func WithHTTPDescription(desc string) HTTPOption {
	return func(a *HTTPAdapter) { a.description = desc }
}

// WithHTTPCapabilities sets the adapter capability tags.
func WithHTTPCapabilities(caps ...string) HTTPOption {
	return func(a *HTTPAdapter) { a.capabilities = caps }
}

// WithHTTPHeaders sets extra request headers (e.g. authorization).
func WithHTTPHeaders(headers map[string]string) HTTPOption {
	return func(a *HTTPAdapter) { a.headers = headers }
}

// WithHTTPTimeout overrides the per-task timeout.
func WithHTTPTimeout(d time.Duration) HTTPOption {
	return func(a *HTTPAdapter) { a.timeout = d }
}

// NewHTTPAdapter creates an adapter that POSTs tasks to endpoint.
func NewHTTPAdapter(name, endpoint string, opts ...HTTPOption) *HTTPAdapter {
	a := &HTTPAdapter{
		name:     name,
		endpoint: endpoint,
		timeout:  DefaultExecuteTimeout,
		client:   &http.Client{},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *HTTPAdapter) Name() string           { return a.name }
func (a *HTTPAdapter) Type() string           { return "http" }
func (a *HTTPAdapter) Description() string    { return a.description }
func (a *HTTPAdapter) Capabilities() []string { return a.capabilities }

// Execute POSTs the task and converts failures into error/timeout results.
func (a *HTTPAdapter) Execute(ctx context.Context, task string) (TaskResult, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	start := time.Now()
	meta := func() map[string]any {
		return map[string]any{"durationMs": time.Since(start).Milliseconds()}
	}

	body, err := json.Marshal(map[string]string{"task": task})
	if err != nil {
		return TaskResult{Status: ResultError, Output: err.Error(), Metadata: meta()}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return TaskResult{Status: ResultError, Output: err.Error(), Metadata: meta()}, nil
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range a.headers {
		req.Header.Set(k, v)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return TaskResult{
				Status:   ResultTimeout,
				Output:   fmt.Sprintf("request timed out after %s", a.timeout),
				Metadata: meta(),
			}, nil
		}
		return TaskResult{Status: ResultError, Output: err.Error(), Metadata: meta()}, nil
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return TaskResult{Status: ResultError, Output: err.Error(), Metadata: meta()}, nil
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return TaskResult{
			Status:   ResultError,
			Output:   fmt.Sprintf("HTTP %d: %s", resp.StatusCode, string(data)),
			Metadata: meta(),
		}, nil
	}

	return TaskResult{Status: ResultOK, Output: extractOutput(data), Metadata: meta()}, nil
}

// HealthCheck GETs the endpoint and accepts any response as alive.
func (a *HTTPAdapter) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// extractOutput pulls a conventional output field from a JSON response body,
// falling back to the raw body.
func extractOutput(data []byte) string {
	var parsed map[string]any
	if err := json.Unmarshal(data, &parsed); err == nil {
		for _, key := range []string{"output", "result", "text"} {
			if v, ok := parsed[key].(string); ok {
				return v
			}
		}
	}
	return string(data)
}
