package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dshills/opsflow/workflow"
	"github.com/dshills/opsflow/workflow/pack"
)

func newPacksCmd(r *runner) *cobra.Command {
	cmd := &cobra.Command{Use: "packs", Short: "Inspect the pack catalog"}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List packs and their templates",
		Args:  cobra.NoArgs,
		RunE: r.run(func(ctx context.Context, a *app, _ []string) error {
			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PACK\tTEMPLATE\tTYPE\tSTEPS\tLOCKED")
			for _, key := range a.catalog.Keys() {
				p, _ := a.catalog.Pack(key)
				for _, t := range p.Templates {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%v\n", key, t.TemplateKey, t.WorkflowType, len(t.Steps), t.Locked)
				}
			}
			return tw.Flush()
		}),
	})
	return cmd
}

func newWorkflowsCmd(r *runner) *cobra.Command {
	cmd := &cobra.Command{Use: "workflows", Aliases: []string{"wf"}, Short: "Manage org workflows"}

	seed := func(reseed bool) func(ctx context.Context, a *app, args []string) error {
		return func(ctx context.Context, a *app, args []string) error {
			org, err := a.org()
			if err != nil {
				return err
			}
			actor, err := a.actor()
			if err != nil {
				return err
			}
			keys := args
			if len(keys) == 0 {
				keys = []string{pack.GenericPackKey}
			}
			op := a.engine.Seed
			if reseed {
				op = a.engine.ReseedMissing
			}
			n, err := op(ctx, org, actor, keys...)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "created %d workflows from %s\n", n, strings.Join(keys, ", "))
			return nil
		}
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "seed [pack...]",
		Short: "Copy pack templates the organization does not have yet (default pack: generic)",
		RunE:  r.run(seed(false)),
	}, &cobra.Command{
		Use:   "reseed [pack...]",
		Short: "Re-create deleted pack templates without touching existing ones",
		RunE:  r.run(seed(true)),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List the organization's workflows",
		Args:  cobra.NoArgs,
		RunE: r.run(func(ctx context.Context, a *app, _ []string) error {
			org, err := a.org()
			if err != nil {
				return err
			}
			wfs, err := a.engine.ListWorkflows(ctx, org)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tTYPE\tACTIVE\tLOCKED\tVERSION\tSOURCE")
			for _, wf := range wfs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%v\t%v\t%d\t%s\n",
					wf.ID, wf.Name, wf.WorkflowType, wf.IsActive, wf.IsLocked, wf.Version, orDash(wf.SourceTemplateID))
			}
			return tw.Flush()
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show <workflow-id>",
		Short: "Show a workflow and its steps",
		Args:  cobra.ExactArgs(1),
		RunE: r.run(func(ctx context.Context, a *app, args []string) error {
			org, err := a.org()
			if err != nil {
				return err
			}
			wf, err := a.engine.GetWorkflow(ctx, org, args[0])
			if err != nil {
				return err
			}
			printWorkflow(a.out, wf)
			return nil
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "restore <workflow-id>",
		Short: "Reset a workflow's name, description and steps to its pack template",
		Args:  cobra.ExactArgs(1),
		RunE: r.run(func(ctx context.Context, a *app, args []string) error {
			org, actor, err := orgActor(a)
			if err != nil {
				return err
			}
			wf, err := a.engine.RestoreFromPack(ctx, org, actor, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "restored %s to %s (version %d)\n", wf.ID, wf.SourceTemplateID, wf.Version)
			return nil
		}),
	})

	for _, active := range []bool{true, false} {
		active := active
		use, short := "activate", "Allow new runs of a workflow"
		if !active {
			use, short = "deactivate", "Stop new runs of a workflow"
		}
		cmd.AddCommand(&cobra.Command{
			Use:   use + " <workflow-id>",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: r.run(func(ctx context.Context, a *app, args []string) error {
				org, actor, err := orgActor(a)
				if err != nil {
					return err
				}
				wf, err := a.engine.SetActive(ctx, org, actor, args[0], active)
				if err != nil {
					return err
				}
				fmt.Fprintf(a.out, "%s active=%v (version %d)\n", wf.ID, wf.IsActive, wf.Version)
				return nil
			}),
		})
	}

	var (
		version     int
		description string
	)
	rename := &cobra.Command{
		Use:   "rename <workflow-id> <name>",
		Short: "Rename a workflow, optionally updating its description",
		Args:  cobra.ExactArgs(2),
		RunE: r.run(func(ctx context.Context, a *app, args []string) error {
			org, actor, err := orgActor(a)
			if err != nil {
				return err
			}
			expected := version
			if expected == 0 {
				current, err := a.engine.GetWorkflow(ctx, org, args[0])
				if err != nil {
					return err
				}
				expected = current.Version
			}
			patch := workflow.WorkflowPatch{Name: &args[1]}
			if description != "" {
				patch.Description = &description
			}
			wf, err := a.engine.UpdateWorkflow(ctx, org, actor, args[0], expected, patch)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "%s renamed to %q (version %d)\n", wf.ID, wf.Name, wf.Version)
			return nil
		}),
	}
	rename.Flags().IntVar(&version, "version", 0, "expected workflow version (default: current)")
	rename.Flags().StringVar(&description, "description", "", "new description")
	cmd.AddCommand(rename)
	return cmd
}

func orgActor(a *app) (string, string, error) {
	org, err := a.org()
	if err != nil {
		return "", "", err
	}
	actor, err := a.actor()
	if err != nil {
		return "", "", err
	}
	return org, actor, nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func printWorkflow(w io.Writer, wf workflow.OrgWorkflow) {
	fmt.Fprintf(w, "ID:          %s\n", wf.ID)
	fmt.Fprintf(w, "Name:        %s\n", wf.Name)
	fmt.Fprintf(w, "Type:        %s\n", wf.WorkflowType)
	fmt.Fprintf(w, "Description: %s\n", orDash(wf.Description))
	fmt.Fprintf(w, "Source:      %s\n", orDash(wf.SourceTemplateID))
	fmt.Fprintf(w, "Active:      %v\n", wf.IsActive)
	fmt.Fprintf(w, "Locked:      %v\n", wf.IsLocked)
	editable := make([]string, len(wf.EditableFields))
	for i, f := range wf.EditableFields {
		editable[i] = string(f)
	}
	fmt.Fprintf(w, "Editable:    %s\n", orDash(strings.Join(editable, ", ")))
	fmt.Fprintf(w, "Version:     %d\n", wf.Version)
	fmt.Fprintln(w, "Steps:")
	for _, s := range wf.Steps {
		fmt.Fprintf(w, "  %d. [%s] %s\n", s.SortOrder, s.Type, s.Title)
	}
}
