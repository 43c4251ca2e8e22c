package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"clawflow/internal/agent"
	"clawflow/internal/cache"
	"clawflow/internal/logging"
	"clawflow/internal/ratelimit"

	"github.com/google/uuid"
)

// Defaults for run options.
const (
	DefaultMaxSteps         = 10
	DefaultOutputTruncation = 3000
)

// forcedFinishPrompt is appended when the step budget runs out.
const forcedFinishPrompt = "You MUST respond with a finish action now. Summarize everything learned so far into a final answer."

// Options bound one run.
type Options struct {
	MaxConcurrency   int `json:"maxConcurrency,omitempty"`
	MaxSteps         int `json:"maxSteps,omitempty"`
	OutputTruncation int `json:"outputTruncation,omitempty"`
}

func (o Options) withDefaults() Options {
	if o.MaxConcurrency < 1 {
		o.MaxConcurrency = DefaultMaxConcurrency
	}
	if o.MaxSteps < 1 {
		o.MaxSteps = DefaultMaxSteps
	}
	if o.OutputTruncation < 1 {
		o.OutputTruncation = DefaultOutputTruncation
	}
	return o
}

// Orchestrator drives the adaptive Think→Execute loop: each iteration the
// thinker sees the goal plus every accumulated task output and either
// dispatches another batch of tasks or finishes with an answer.
type Orchestrator struct {
	thinker  Thinker
	registry *agent.Registry
	executor *StepExecutor
}

// New creates an orchestrator. limiter and results are optional and are
// applied at the task dispatch site.
func New(thinker Thinker, registry *agent.Registry, limiter *ratelimit.Limiter, results *cache.Cache[string, agent.TaskResult]) *Orchestrator {
	return &Orchestrator{
		thinker:  thinker,
		registry: registry,
		executor: NewStepExecutor(registry, limiter, results),
	}
}

// NewRun creates a fresh run record in the thinking state. Callers that need
// the run id before execution completes (the dashboard does) create the run
// here and pass it to Execute.
func NewRun(goal string) *Run {
	return &Run{
		RunID:     uuid.NewString(),
		Goal:      goal,
		State:     StateThinking,
		StartedAt: time.Now(),
	}
}

// Run executes one goal to a terminal run. The returned run always has
// either FinalAnswer (state done) or Error (state error) set.
func (o *Orchestrator) Run(ctx context.Context, goal string, opts Options, cb Callbacks) *Run {
	return o.Execute(ctx, NewRun(goal), opts, cb)
}

// Execute drives an existing run to a terminal state. Step-level callbacks
// are invoked from the loop; task callbacks run on the task goroutines and
// are serialized with every task status change by the step executor, so
// callback implementations may snapshot the run safely.
func (o *Orchestrator) Execute(ctx context.Context, run *Run, opts Options, cb Callbacks) *Run {
	opts = opts.withDefaults()

	logging.Info("run started", "runId", run.RunID, "goal", run.Goal, "maxSteps", opts.MaxSteps)

	for i := 1; i <= opts.MaxSteps; i++ {
		run.State = StateThinking
		if cb.OnThinking != nil {
			cb.OnThinking(i)
		}

		directive, err := o.think(ctx, o.buildContext(run.Goal, run.Steps, opts.OutputTruncation))
		if err != nil {
			return o.fail(run, err, cb)
		}

		if directive.Action == ActionFinish {
			return o.finish(run, directive.Answer, cb)
		}

		step := &Step{StepNumber: i}
		taskIDs := make([]string, 0, len(directive.Tasks))
		for _, spec := range directive.Tasks {
			step.Tasks = append(step.Tasks, &StepTask{
				ID:     spec.ID,
				Task:   spec.Task,
				Agent:  spec.Agent,
				Status: TaskPending,
			})
			taskIDs = append(taskIDs, spec.ID)
		}

		run.State = StateExecuting
		run.Steps = append(run.Steps, step)
		if cb.OnStepStart != nil {
			cb.OnStepStart(i, taskIDs, step.Tasks)
		}

		o.executor.Execute(ctx, step, opts.MaxConcurrency, cb)

		if cb.OnStepEnd != nil {
			cb.OnStepEnd(i)
		}
	}

	// Step budget exhausted: demand a finish, then synthesize if refused.
	run.State = StateThinking
	prompt := o.buildContext(run.Goal, run.Steps, opts.OutputTruncation) + "\n\n" + forcedFinishPrompt
	directive, err := o.think(ctx, prompt)
	if err == nil && directive.Action == ActionFinish {
		return o.finish(run, directive.Answer, cb)
	}
	if err != nil {
		logging.Warn("forced finish failed, synthesizing", "runId", run.RunID, "error", err)
	}
	return o.finish(run, synthesize(run.Steps), cb)
}

// Plan performs a single think without executing anything and returns the
// raw directive.
func (o *Orchestrator) Plan(ctx context.Context, goal string) (Directive, error) {
	return o.think(ctx, o.buildContext(goal, nil, DefaultOutputTruncation))
}

// think invokes the thinker and parses its output, re-prompting exactly once
// when parsing (not validation) fails.
func (o *Orchestrator) think(ctx context.Context, prompt string) (Directive, error) {
	raw, err := o.thinker.Think(ctx, prompt)
	if err != nil {
		return Directive{}, err
	}

	directive, perr := ParseDirective(raw)
	if perr == nil {
		return directive, nil
	}
	var parseErr *ParseError
	if !errors.As(perr, &parseErr) {
		return Directive{}, perr
	}

	logging.Warn("thinker output unparseable, re-prompting", "error", perr)
	raw, err = o.thinker.Think(ctx, prompt+"\n\n"+RetryPrompt)
	if err != nil {
		return Directive{}, err
	}
	return ParseDirective(raw)
}

func (o *Orchestrator) finish(run *Run, answer string, cb Callbacks) *Run {
	now := time.Now()
	run.FinalAnswer = answer
	run.State = StateDone
	run.FinishedAt = &now
	if cb.OnFinish != nil {
		cb.OnFinish(answer)
	}
	logging.Info("run finished", "runId", run.RunID, "steps", len(run.Steps), "durationMs", run.DurationMs())
	return run
}

func (o *Orchestrator) fail(run *Run, err error, cb Callbacks) *Run {
	now := time.Now()
	run.Error = err.Error()
	run.State = StateError
	run.FinishedAt = &now
	if cb.OnError != nil {
		cb.OnError(err)
	}
	logging.Error("run failed", "runId", run.RunID, "error", err)
	return run
}

// buildContext assembles the thinker prompt: agent roster, directive format,
// the goal, and the transcript of every prior step with outputs truncated.
func (o *Orchestrator) buildContext(goal string, steps []*Step, truncation int) string {
	var b strings.Builder

	b.WriteString("You are an orchestrator coordinating a pool of specialized agents toward a goal.\n")
	b.WriteString("Each turn, either dispatch a batch of independent tasks to run in parallel, or finish with the final answer.\n\n")

	b.WriteString("Available agents:\n")
	adapters := o.registry.List()
	if len(adapters) == 0 {
		b.WriteString("(none)\n")
	}
	for _, a := range adapters {
		fmt.Fprintf(&b, "- %s (%s)", a.Name(), a.Type())
		if desc := a.Description(); desc != "" {
			fmt.Fprintf(&b, ": %s", desc)
		}
		if caps := a.Capabilities(); len(caps) > 0 {
			fmt.Fprintf(&b, " [capabilities: %s]", strings.Join(caps, ", "))
		}
		b.WriteString("\n")
	}

	b.WriteString("\nRespond with exactly one JSON object in one of these shapes:\n")
	b.WriteString(`{"action":"execute","tasks":[{"id":"t1","task":"what to do","agent":"name or capability (optional)"}]}` + "\n")
	b.WriteString(`{"action":"finish","answer":"the final answer"}` + "\n")

	b.WriteString("\nGoal: " + goal + "\n")

	for _, step := range steps {
		fmt.Fprintf(&b, "\nStep %d results:\n", step.StepNumber)
		for _, task := range step.Tasks {
			output := ""
			status := string(task.Status)
			if task.Result != nil {
				output = truncate(task.Result.Output, truncation)
				status = string(task.Result.Status)
			}
			fmt.Fprintf(&b, "- [%s] %s (%s): %s\n", task.ID, task.Task, status, output)
		}
	}

	return b.String()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "…(truncated)"
}

// synthesize builds a best-effort answer from every successful task output
// when the thinker never finished on its own.
func synthesize(steps []*Step) string {
	var b strings.Builder
	for _, step := range steps {
		for _, task := range step.Tasks {
			if task.Status != TaskDone || task.Result == nil {
				continue
			}
			fmt.Fprintf(&b, "## %s (step %d)\n\n%s\n\n", task.ID, step.StepNumber, task.Result.Output)
		}
	}
	if b.Len() == 0 {
		return "No results collected."
	}
	return strings.TrimSpace(b.String())
}
