package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"adweave/internal/workflowgraph"
)

// requiredClasses lists, per workflow stage, the node classes the pipeline
// injects into. A template missing one of these would silently ignore its
// inputs at run time.
var requiredClasses = map[string][]string{
	"image_edit":    {"LoadImage", "TextEncode*"},
	"voice_clone":   {"LoadAudio", "MultiLinePrompt*"},
	"digital_human": {"LoadImage", "LoadAudio", "VHS_VideoCombine"},
}

var stageOrder = []string{"image_edit", "voice_clone", "digital_human"}

func newWorkflowsCommand(ctx *commandContext) *cobra.Command {
	workflowsCmd := &cobra.Command{
		Use:   "workflows",
		Short: "Workflow template utilities",
	}
	workflowsCmd.AddCommand(newWorkflowsCheckCommand(ctx))
	return workflowsCmd
}

func newWorkflowsCheckCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Parse the configured workflow templates and verify their injection points",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			rows := make([][]string, 0, len(stageOrder))
			problems := 0
			for _, stage := range stageOrder {
				path, err := cfg.WorkflowPath(stage)
				if err != nil {
					rows = append(rows, []string{stage, "-", "-", err.Error()})
					problems++
					continue
				}
				graph, err := workflowgraph.Load(path)
				if err != nil {
					rows = append(rows, []string{stage, path, "-", err.Error()})
					problems++
					continue
				}

				var missing []string
				for _, class := range requiredClasses[stage] {
					if !graph.HasClass(class) {
						missing = append(missing, class)
					}
				}
				status := "ok"
				if len(missing) > 0 {
					status = "missing " + strings.Join(missing, ", ")
					problems++
				}
				rows = append(rows, []string{stage, path, fmt.Sprintf("%d", graph.NodeCount()), status})
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable(
				[]string{"Stage", "Template", "Nodes", "Status"},
				rows, 2,
			))
			if problems > 0 {
				return fmt.Errorf("%d workflow template(s) need attention", problems)
			}
			return nil
		},
	}
}
