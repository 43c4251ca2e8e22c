package orchestrator

import (
	"context"
	"time"

	"clawflow/internal/agent"
)

// RunState is the lifecycle state of a run.
type RunState string

const (
	StateThinking  RunState = "thinking"
	StateExecuting RunState = "executing"
	StateDone      RunState = "done"
	StateError     RunState = "error"
)

// TaskStatus is the dispatch status of one step task. It advances
// monotonically pending→running→{done,failed}.
type TaskStatus string

const (
	TaskPending TaskStatus = "pending"
	TaskRunning TaskStatus = "running"
	TaskDone    TaskStatus = "done"
	TaskFailed  TaskStatus = "failed"
)

// StepTask is one unit inside a step. Result is set exactly when the task is
// terminal.
type StepTask struct {
	ID     string            `json:"id"`
	Task   string            `json:"task"`
	Agent  string            `json:"agent,omitempty"`
	Status TaskStatus        `json:"status"`
	Result *agent.TaskResult `json:"result,omitempty"`
}

// Step is one executed batch of tasks following a single think.
type Step struct {
	StepNumber int         `json:"stepNumber"`
	Tasks      []*StepTask `json:"tasks"`
}

// Run is one end-to-end execution of a goal. finalAnswer is non-empty
// whenever state is done; error is non-empty whenever state is error.
type Run struct {
	RunID       string     `json:"runId"`
	Goal        string     `json:"goal"`
	State       RunState   `json:"state"`
	Steps       []*Step    `json:"steps"`
	FinalAnswer string     `json:"finalAnswer,omitempty"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"startedAt"`
	FinishedAt  *time.Time `json:"finishedAt,omitempty"`
}

// Clone returns a deep copy of the run. The dashboard snapshots live runs at
// callback boundaries so readers never observe the loop mid-mutation.
func (r *Run) Clone() *Run {
	out := *r
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		out.FinishedAt = &t
	}
	out.Steps = make([]*Step, len(r.Steps))
	for i, step := range r.Steps {
		s := &Step{StepNumber: step.StepNumber, Tasks: make([]*StepTask, len(step.Tasks))}
		for j, task := range step.Tasks {
			t := *task
			if task.Result != nil {
				res := *task.Result
				t.Result = &res
			}
			s.Tasks[j] = &t
		}
		out.Steps[i] = s
	}
	return &out
}

// DurationMs returns the wall-clock duration of a terminal run.
func (r *Run) DurationMs() int64 {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt).Milliseconds()
}

// Callbacks receive run progress. Every field is optional. For each step the
// sequence is OnThinking → OnStepStart → task callbacks → OnStepEnd, with
// each task's OnTaskEnd after its OnTaskStart; step i's OnStepEnd precedes
// step i+1's OnThinking.
type Callbacks struct {
	OnThinking  func(stepNumber int)
	OnStepStart func(stepNumber int, taskIDs []string, tasks []*StepTask)
	OnTaskStart func(stepNumber int, taskID string)
	OnTaskChunk func(stepNumber int, taskID, content string, done bool)
	OnTaskEnd   func(stepNumber int, task *StepTask)
	OnStepEnd   func(stepNumber int)
	OnFinish    func(answer string)
	OnError     func(err error)
}

// Thinker is the external model consulted each iteration. Implementations
// wrap a gateway chat session or an injected callable.
type Thinker interface {
	Think(ctx context.Context, prompt string) (string, error)
}
