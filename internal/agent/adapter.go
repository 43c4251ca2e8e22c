package agent

import (
	"context"
)

// ResultStatus is the terminal status of one task execution.
type ResultStatus string

const (
	ResultOK      ResultStatus = "ok"
	ResultError   ResultStatus = "error"
	ResultTimeout ResultStatus = "timeout"
)

// TaskResult is the immutable outcome of one task execution. Metadata always
// carries at least durationMs.
type TaskResult struct {
	Status   ResultStatus   `json:"status"`
	Output   string         `json:"output"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// OK reports whether the execution succeeded.
func (r TaskResult) OK() bool {
	return r.Status == ResultOK
}

// ChunkSink receives streamed output fragments. done is true only for the
// terminal call.
type ChunkSink func(content string, done bool)

// Adapter is the uniform executor surface. Implementations wrap an in-process
// function, a remote HTTP endpoint, or a gateway chat session; they are
// parallel implementations of this interface, not variants of a shared base.
type Adapter interface {
	// Name is the unique routing name of the adapter.
	Name() string

	// Type tags the adapter implementation ("function", "http", "gateway").
	Type() string

	// Description is a short human-readable summary. May be empty.
	Description() string

	// Capabilities lists free-form routing tags. May be empty.
	Capabilities() []string

	// Execute runs a task to completion.
	Execute(ctx context.Context, task string) (TaskResult, error)
}

// Streamer is implemented by adapters that can deliver incremental output.
type Streamer interface {
	Adapter

	// ExecuteStream runs a task, forwarding intermediate output to sink.
	// The returned TaskResult carries the complete output.
	ExecuteStream(ctx context.Context, task string, sink ChunkSink) (TaskResult, error)
}

// HealthChecker is implemented by adapters that can probe their backend.
type HealthChecker interface {
	// HealthCheck reports whether the adapter's backend is reachable.
	HealthCheck(ctx context.Context) error
}

// SupportsStreaming reports whether the adapter implements Streamer.
func SupportsStreaming(a Adapter) bool {
	_, ok := a.(Streamer)
	return ok
}
