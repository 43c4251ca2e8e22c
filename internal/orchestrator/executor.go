package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"clawflow/internal/agent"
	"clawflow/internal/cache"
	"clawflow/internal/logging"
	"clawflow/internal/ratelimit"
)

// DefaultMaxConcurrency bounds in-flight tasks within one step.
const DefaultMaxConcurrency = 8

// StepExecutor dispatches one step's tasks with bounded concurrency. Tasks
// are processed as sequential windows of maxConcurrency: each window is
// awaited to completion before the next begins. A failed or panicking task
// never cancels its siblings.
type StepExecutor struct {
	registry *agent.Registry
	limiter  *ratelimit.Limiter                    // optional dispatch throttle
	results  *cache.Cache[string, agent.TaskResult] // optional result reuse

	// mu serializes task status changes and task callbacks across the
	// goroutines of a window.
	mu sync.Mutex
}

// NewStepExecutor creates an executor dispatching to the given registry.
// limiter and results may be nil.
func NewStepExecutor(registry *agent.Registry, limiter *ratelimit.Limiter, results *cache.Cache[string, agent.TaskResult]) *StepExecutor {
	return &StepExecutor{
		registry: registry,
		limiter:  limiter,
		results:  results,
	}
}

// Execute runs every task in the step to a terminal status.
func (e *StepExecutor) Execute(ctx context.Context, step *Step, maxConcurrency int, cb Callbacks) {
	if maxConcurrency < 1 {
		maxConcurrency = DefaultMaxConcurrency
	}

	for start := 0; start < len(step.Tasks); start += maxConcurrency {
		end := start + maxConcurrency
		if end > len(step.Tasks) {
			end = len(step.Tasks)
		}
		window := step.Tasks[start:end]

		var wg sync.WaitGroup
		for _, task := range window {
			wg.Add(1)
			go func(task *StepTask) {
				defer wg.Done()
				e.runTask(ctx, step.StepNumber, task, cb)
			}(task)
		}
		wg.Wait()
	}
}

// runTask executes one task to a terminal status, firing its callbacks.
func (e *StepExecutor) runTask(ctx context.Context, stepNumber int, task *StepTask, cb Callbacks) {
	e.mu.Lock()
	task.Status = TaskRunning
	if cb.OnTaskStart != nil {
		cb.OnTaskStart(stepNumber, task.ID)
	}
	e.mu.Unlock()

	result := e.execute(ctx, stepNumber, task, cb)

	e.mu.Lock()
	defer e.mu.Unlock()
	task.Result = &result
	if result.OK() {
		task.Status = TaskDone
	} else {
		task.Status = TaskFailed
	}

	if cb.OnTaskEnd != nil {
		cb.OnTaskEnd(stepNumber, task)
	}
}

func (e *StepExecutor) execute(ctx context.Context, stepNumber int, task *StepTask, cb Callbacks) (result agent.TaskResult) {
	// A panicking adapter must fail only its own task, never the process.
	defer func() {
		if p := recover(); p != nil {
			logging.Error("task panicked", "task", task.ID, "panic", p)
			result = agent.TaskResult{
				Status: agent.ResultError,
				Output: fmt.Sprintf("agent panic: %v", p),
			}
		}
	}()

	adapter := e.registry.Pick(task.Agent)
	if adapter == nil {
		adapter = e.registry.First()
	}
	if adapter == nil {
		return agent.TaskResult{
			Status: agent.ResultError,
			Output: "No agent available for task " + task.ID,
		}
	}

	if e.limiter != nil {
		if err := e.limiter.Acquire(ctx); err != nil {
			return agent.TaskResult{Status: agent.ResultError, Output: err.Error()}
		}
	}

	key := ""
	if e.results != nil {
		key = cache.TaskKey(task.Task, adapter.Name())
		if cached, ok := e.results.Get(key); ok {
			logging.Debug("task served from cache", "task", task.ID, "agent", adapter.Name())
			return cached
		}
	}

	var err error
	if streamer, ok := adapter.(agent.Streamer); ok && cb.OnTaskChunk != nil {
		sink := func(content string, done bool) {
			e.mu.Lock()
			defer e.mu.Unlock()
			cb.OnTaskChunk(stepNumber, task.ID, content, false)
		}
		result, err = streamer.ExecuteStream(ctx, task.Task, sink)
	} else {
		result, err = adapter.Execute(ctx, task.Task)
	}
	if err != nil {
		result = agent.TaskResult{Status: agent.ResultError, Output: err.Error()}
	}

	if e.results != nil && result.OK() {
		e.results.Set(key, result)
	}
	return result
}
