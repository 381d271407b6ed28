package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/opsflow/workflow"
)

func newRunsCmd(r *runner) *cobra.Command {
	cmd := &cobra.Command{Use: "runs", Short: "Start and inspect workflow runs"}

	var target string
	start := &cobra.Command{
		Use:   "start <workflow-id>",
		Short: "Start a run of an active workflow",
		Args:  cobra.ExactArgs(1),
		RunE: r.run(func(ctx context.Context, a *app, args []string) error {
			org, actor, err := orgActor(a)
			if err != nil {
				return err
			}
			view, err := a.engine.StartRun(ctx, org, args[0], actor, target)
			if err != nil {
				return err
			}
			printRun(a.out, view)
			return nil
		}),
	}
	start.Flags().StringVar(&target, "target", "", "entity the run is about, e.g. employee:42")
	cmd.AddCommand(start)

	cmd.AddCommand(&cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a run and its steps",
		Args:  cobra.ExactArgs(1),
		RunE: r.run(func(ctx context.Context, a *app, args []string) error {
			org, err := a.org()
			if err != nil {
				return err
			}
			view, err := a.engine.GetRun(ctx, args[0])
			if err != nil {
				return err
			}
			if view.Run.OrgID != org {
				return fmt.Errorf("run %s: %w", args[0], workflow.ErrNotFound)
			}
			printRun(a.out, view)
			return nil
		}),
	})

	var (
		status     string
		workflowID string
		limit      int
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List runs, newest first",
		Args:  cobra.NoArgs,
		RunE: r.run(func(ctx context.Context, a *app, _ []string) error {
			org, err := a.org()
			if err != nil {
				return err
			}
			runs, err := a.engine.ListRuns(ctx, workflow.RunFilter{
				OrgID:      org,
				WorkflowID: workflowID,
				Status:     workflow.RunStatus(status),
				Limit:      limit,
			})
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tWORKFLOW\tSTATUS\tTARGET\tSTARTED")
			for _, run := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					run.ID, run.WorkflowName, run.Status, orDash(run.TargetEntityRef), run.StartedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		}),
	}
	list.Flags().StringVar(&status, "status", "", "filter by status: running, completed, failed, cancelled")
	list.Flags().StringVar(&workflowID, "workflow", "", "filter by workflow id")
	list.Flags().IntVar(&limit, "limit", 50, "maximum runs to list (0 for all)")
	cmd.AddCommand(list)

	var reason string
	cancel := &cobra.Command{
		Use:   "cancel <run-id>",
		Short: "Cancel a running run, skipping its open steps",
		Args:  cobra.ExactArgs(1),
		RunE: r.run(func(ctx context.Context, a *app, args []string) error {
			_, actor, err := orgActor(a)
			if err != nil {
				return err
			}
			view, err := a.engine.CancelRun(ctx, actor, args[0], reason)
			if err != nil {
				return err
			}
			printRun(a.out, view)
			return nil
		}),
	}
	cancel.Flags().StringVar(&reason, "reason", "", "why the run is cancelled (required)")
	cmd.AddCommand(cancel)
	return cmd
}

func printRun(w io.Writer, view workflow.RunView) {
	run := view.Run
	fmt.Fprintf(w, "Run:      %s\n", run.ID)
	fmt.Fprintf(w, "Workflow: %s (%s)\n", run.WorkflowName, run.OrgWorkflowID)
	fmt.Fprintf(w, "Status:   %s\n", run.Status)
	mode := "parallel"
	if run.Policy.Sequential {
		mode = "sequential"
	}
	if run.Policy.HaltOnFailure {
		mode += ", halt on failure"
	}
	fmt.Fprintf(w, "Policy:   %s\n", mode)
	if run.CancelReason != "" {
		fmt.Fprintf(w, "Reason:   %s\n", run.CancelReason)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tSTEP ID\tTYPE\tSTATUS\tVERSION\tASSIGNEE\tTITLE")
	for _, s := range view.Steps {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%s\t%s\n",
			s.Spec.SortOrder, s.ID, s.Spec.Type, s.Status, s.Version, orDash(s.AssignedTo), s.Spec.Title)
	}
	_ = tw.Flush()
}

func newStepsCmd(r *runner) *cobra.Command {
	cmd := &cobra.Command{Use: "steps", Short: "Move steps of a run through their lifecycle"}

	type stepFlags struct {
		version int
		assign  bool
		text    string
		outputs []string
	}
	add := func(use, short, textFlag, textHelp string, fn func(ctx context.Context, a *app, actor, id string, version int, f *stepFlags) (workflow.StepRun, error)) {
		f := &stepFlags{}
		c := &cobra.Command{
			Use:   use + " <step-run-id>",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: r.run(func(ctx context.Context, a *app, args []string) error {
				actor, err := a.actor()
				if err != nil {
					return err
				}
				expected := f.version
				if expected == 0 {
					current, err := a.store.GetStepRun(ctx, args[0])
					if err != nil {
						if errors.Is(err, workflow.ErrNotFound) {
							return fmt.Errorf("step run %s: %w", args[0], err)
						}
						return err
					}
					expected = current.Version
				}
				step, err := fn(ctx, a, actor, args[0], expected, f)
				if err != nil {
					return err
				}
				fmt.Fprintf(a.out, "step %s is %s (version %d)\n", step.ID, step.Status, step.Version)
				return nil
			}),
		}
		c.Flags().IntVar(&f.version, "version", 0, "expected step version (default: current)")
		switch use {
		case "start":
			c.Flags().BoolVar(&f.assign, "assign", true, "assign the step to the acting user")
		case "complete":
			c.Flags().StringSliceVar(&f.outputs, "output", nil, "output link as type:id (repeatable)")
		}
		if textFlag != "" {
			c.Flags().StringVar(&f.text, textFlag, "", textHelp)
		}
		cmd.AddCommand(c)
	}

	add("start", "Start a pending step", "", "",
		func(ctx context.Context, a *app, actor, id string, v int, f *stepFlags) (workflow.StepRun, error) {
			return a.engine.StartStep(ctx, actor, id, v, f.assign)
		})
	add("complete", "Complete an in-progress step", "notes", "completion notes",
		func(ctx context.Context, a *app, actor, id string, v int, f *stepFlags) (workflow.StepRun, error) {
			links, err := parseOutputs(f.outputs)
			if err != nil {
				return workflow.StepRun{}, err
			}
			return a.engine.CompleteStep(ctx, actor, id, v, links, f.text)
		})
	add("reject", "Reject an in-progress approval, review or signoff step", "notes", "rejection notes (required)",
		func(ctx context.Context, a *app, actor, id string, v int, f *stepFlags) (workflow.StepRun, error) {
			return a.engine.RejectStep(ctx, actor, id, v, f.text)
		})
	add("skip", "Skip a pending step (admin only)", "reason", "why the step is skipped (required)",
		func(ctx context.Context, a *app, actor, id string, v int, f *stepFlags) (workflow.StepRun, error) {
			return a.engine.SkipStep(ctx, actor, id, v, f.text)
		})
	add("fail", "Record a step failure", "reason", "failure reason (required)",
		func(ctx context.Context, a *app, actor, id string, v int, f *stepFlags) (workflow.StepRun, error) {
			return a.engine.FailStep(ctx, actor, id, v, f.text)
		})
	return cmd
}

func parseOutputs(values []string) ([]workflow.OutputLink, error) {
	links := make([]workflow.OutputLink, 0, len(values))
	for _, v := range values {
		typ, id, ok := strings.Cut(v, ":")
		if !ok || typ == "" || id == "" {
			return nil, fmt.Errorf("output %q: want type:id", v)
		}
		links = append(links, workflow.OutputLink{Type: typ, ID: id})
	}
	return links, nil
}
