package agent

import (
	"context"
	"fmt"
	"time"
)

// DefaultExecuteTimeout bounds a single adapter execution.
const DefaultExecuteTimeout = 60 * time.Second

// TaskFunc is an in-process task handler.
type TaskFunc func(ctx context.Context, task string) (string, error)

// FunctionAdapter wraps an in-process callable as an Adapter.
type FunctionAdapter struct {
	name         string
	description  string
	capabilities []string
	fn           TaskFunc
	timeout      time.Duration
}

// FunctionOption configures a FunctionAdapter.
type FunctionOption func(*FunctionAdapter)

// WithDescription sets the adapter description.
func WithDescription(desc string) FunctionOption {
	return func(a *FunctionAdapter) { a.description = desc }
}

// WithCapabilities sets the adapter capability tags.
func WithCapabilities(caps ...string) FunctionOption {
	return func(a *FunctionAdapter) { a.capabilities = caps }
}

// WithTimeout overrides the per-task timeout.
func WithTimeout(d time.Duration) FunctionOption {
	return func(a *FunctionAdapter) { a.timeout = d }
}

// NewFunctionAdapter creates an adapter around fn.
func NewFunctionAdapter(name string, fn TaskFunc, opts ...FunctionOption) *FunctionAdapter {
	a := &FunctionAdapter{
		name:    name,
		fn:      fn,
		timeout: DefaultExecuteTimeout,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *FunctionAdapter) Name() string           { return a.name }
func (a *FunctionAdapter) Type() string           { return "function" }
func (a *FunctionAdapter) Description() string    { return a.description }
func (a *FunctionAdapter) Capabilities() []string { return a.capabilities }

// Execute runs the wrapped function with the adapter timeout. A timed-out
// task yields a timeout TaskResult rather than an error so that one slow
// task never aborts its step.
func (a *FunctionAdapter) Execute(ctx context.Context, task string) (TaskResult, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	start := time.Now()

	type outcome struct {
		output string
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		// The callback runs on its own goroutine; a panic here must become
		// a failed result, not a process crash.
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: fmt.Errorf("agent panic: %v", p)}
			}
		}()
		out, err := a.fn(ctx, task)
		done <- outcome{out, err}
	}()

	select {
	case o := <-done:
		meta := map[string]any{"durationMs": time.Since(start).Milliseconds()}
		if o.err != nil {
			return TaskResult{Status: ResultError, Output: o.err.Error(), Metadata: meta}, nil
		}
		return TaskResult{Status: ResultOK, Output: o.output, Metadata: meta}, nil
	case <-ctx.Done():
		meta := map[string]any{"durationMs": time.Since(start).Milliseconds()}
		if ctx.Err() == context.DeadlineExceeded {
			return TaskResult{
				Status:   ResultTimeout,
				Output:   fmt.Sprintf("task timed out after %s", a.timeout),
				Metadata: meta,
			}, nil
		}
		return TaskResult{Status: ResultError, Output: ctx.Err().Error(), Metadata: meta}, nil
	}
}
