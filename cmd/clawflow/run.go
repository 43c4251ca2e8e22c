package main

import (
	"fmt"
	"strings"

	"clawflow/internal/orchestrator"

	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	var (
		maxSteps       int
		maxConcurrency int
		planOnly       bool
	)

	cmd := &cobra.Command{
		Use:   "run <goal>",
		Short: "Execute one goal and print the final answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			goal := strings.Join(args, " ")

			rt, err := buildRuntime(cfgFile)
			if err != nil {
				return err
			}
			defer rt.gateways.CloseAll()

			ctx := cmd.Context()
			rt.discoverAgents(ctx)

			if planOnly {
				o := orchestrator.New(rt.newThinker(ctx), rt.registry, rt.limiter, rt.results)
				directive, err := o.Plan(ctx, goal)
				if err != nil {
					return err
				}
				if directive.Action == orchestrator.ActionFinish {
					fmt.Println(directive.Answer)
					return nil
				}
				for _, t := range directive.Tasks {
					fmt.Printf("%s\t%s\t%s\n", t.ID, t.Agent, t.Task)
				}
				return nil
			}

			cb := orchestrator.Callbacks{
				OnThinking: func(step int) {
					fmt.Fprintf(cmd.ErrOrStderr(), "step %d: thinking\n", step)
				},
				OnStepStart: func(step int, taskIDs []string, _ []*orchestrator.StepTask) {
					fmt.Fprintf(cmd.ErrOrStderr(), "step %d: dispatching %s\n", step, strings.Join(taskIDs, ", "))
				},
				OnTaskEnd: func(step int, task *orchestrator.StepTask) {
					fmt.Fprintf(cmd.ErrOrStderr(), "step %d: task %s %s\n", step, task.ID, task.Status)
				},
			}

			run := rt.execute(ctx, orchestrator.NewRun(goal), orchestrator.Options{
				MaxSteps:       maxSteps,
				MaxConcurrency: maxConcurrency,
			}, cb)

			if err := rt.store.Save(run); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: run not persisted: %v\n", err)
			}

			if run.State == orchestrator.StateError {
				return fmt.Errorf("run failed: %s", run.Error)
			}
			fmt.Println(run.FinalAnswer)
			return nil
		},
	}

	cmd.Flags().IntVar(&maxSteps, "max-steps", 0, "step budget (default from config)")
	cmd.Flags().IntVar(&maxConcurrency, "max-concurrency", 0, "parallel tasks per step (default from config)")
	cmd.Flags().BoolVar(&planOnly, "plan", false, "print the first directive without executing")
	return cmd
}
