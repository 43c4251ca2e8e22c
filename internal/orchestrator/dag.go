package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"clawflow/internal/agent"
)

// DAGTask is one node of an explicit dependency graph. This is a secondary
// batch API: the adaptive loop emits independent per-step batches and never
// uses it.
type DAGTask struct {
	ID        string   `json:"id"`
	Task      string   `json:"task"`
	Agent     string   `json:"agent,omitempty"`
	DependsOn []string `json:"dependsOn,omitempty"`
}

// DAGExecutor runs a dependency graph of tasks. When SkipDownstream is set,
// a failed task marks every transitive dependent as failed without running
// it; otherwise dependents run regardless.
type DAGExecutor struct {
	registry       *agent.Registry
	MaxConcurrency int
	SkipDownstream bool
}

// NewDAGExecutor creates a DAG executor dispatching to the given registry.
func NewDAGExecutor(registry *agent.Registry) *DAGExecutor {
	return &DAGExecutor{
		registry:       registry,
		MaxConcurrency: DefaultMaxConcurrency,
		SkipDownstream: true,
	}
}

// ValidateDAG rejects self-loops, unknown dependencies, and cycles.
func ValidateDAG(tasks []DAGTask) error {
	byID := make(map[string]DAGTask, len(tasks))
	for _, t := range tasks {
		if _, dup := byID[t.ID]; dup {
			return fmt.Errorf("duplicate task id %q", t.ID)
		}
		byID[t.ID] = t
	}
	for _, t := range tasks {
		for _, dep := range t.DependsOn {
			if dep == t.ID {
				return fmt.Errorf("task %q depends on itself", t.ID)
			}
			if _, ok := byID[dep]; !ok {
				return fmt.Errorf("task %q depends on unknown task %q", t.ID, dep)
			}
		}
	}
	if _, err := TopoSort(tasks); err != nil {
		return err
	}
	return nil
}

// TopoSort orders tasks so that every dependency precedes its dependents.
// A cycle is an error.
func TopoSort(tasks []DAGTask) ([]DAGTask, error) {
	indegree := make(map[string]int, len(tasks))
	dependents := make(map[string][]string, len(tasks))
	byID := make(map[string]DAGTask, len(tasks))

	for _, t := range tasks {
		byID[t.ID] = t
		if _, ok := indegree[t.ID]; !ok {
			indegree[t.ID] = 0
		}
		for _, dep := range t.DependsOn {
			indegree[t.ID]++
			dependents[dep] = append(dependents[dep], t.ID)
		}
	}

	// Seed the queue in input order for deterministic output.
	var queue []string
	for _, t := range tasks {
		if indegree[t.ID] == 0 {
			queue = append(queue, t.ID)
		}
	}

	out := make([]DAGTask, 0, len(tasks))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		out = append(out, byID[id])
		for _, dep := range dependents[id] {
			indegree[dep]--
			if indegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	if len(out) != len(tasks) {
		return nil, fmt.Errorf("dependency cycle detected")
	}
	return out, nil
}

// Execute runs the graph and returns every task in terminal state, keyed by
// id. Ready tasks run in waves bounded by MaxConcurrency.
func (e *DAGExecutor) Execute(ctx context.Context, tasks []DAGTask, cb Callbacks) (map[string]*StepTask, error) {
	if err := ValidateDAG(tasks); err != nil {
		return nil, err
	}

	ordered, err := TopoSort(tasks)
	if err != nil {
		return nil, err
	}

	results := make(map[string]*StepTask, len(tasks))
	for _, t := range ordered {
		results[t.ID] = &StepTask{ID: t.ID, Task: t.Task, Agent: t.Agent, Status: TaskPending}
	}

	executor := NewStepExecutor(e.registry, nil, nil)
	done := make(map[string]bool, len(tasks))

	remaining := ordered
	for len(remaining) > 0 {
		// Collect every task whose dependencies are all settled.
		var wave []DAGTask
		var deferred []DAGTask
		for _, t := range remaining {
			ready := true
			for _, dep := range t.DependsOn {
				if !done[dep] {
					ready = false
					break
				}
			}
			if ready {
				wave = append(wave, t)
			} else {
				deferred = append(deferred, t)
			}
		}
		remaining = deferred

		max := e.MaxConcurrency
		if max < 1 {
			max = DefaultMaxConcurrency
		}
		for start := 0; start < len(wave); start += max {
			end := start + max
			if end > len(wave) {
				end = len(wave)
			}

			var wg sync.WaitGroup
			for _, t := range wave[start:end] {
				st := results[t.ID]

				if e.SkipDownstream {
					if failedDep := e.firstFailedDep(t, results); failedDep != "" {
						st.Status = TaskFailed
						st.Result = &agent.TaskResult{
							Status: agent.ResultError,
							Output: fmt.Sprintf("skipped: upstream task %s failed", failedDep),
						}
						if cb.OnTaskEnd != nil {
							cb.OnTaskEnd(0, st)
						}
						continue
					}
				}

				wg.Add(1)
				go func(st *StepTask) {
					defer wg.Done()
					executor.runTask(ctx, 0, st, cb)
				}(st)
			}
			wg.Wait()
		}

		for _, t := range wave {
			done[t.ID] = true
		}
	}

	return results, nil
}

func (e *DAGExecutor) firstFailedDep(t DAGTask, results map[string]*StepTask) string {
	for _, dep := range t.DependsOn {
		if st := results[dep]; st != nil && st.Status == TaskFailed {
			return dep
		}
	}
	return ""
}
