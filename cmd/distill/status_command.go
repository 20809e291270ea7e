package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"distill/internal/task"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	var statusFilter string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show all analysis tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			summaries, err := client.listTasks()
			if err != nil {
				return err
			}
			if statusFilter != "" {
				want, ok := task.ParseStageStatus(statusFilter)
				if !ok {
					return fmt.Errorf("unknown status %q (expected one of %s)", statusFilter, statusNames())
				}
				summaries = filterByStatus(summaries, want)
			}
			if asJSON {
				return writeJSON(cmd, summaries)
			}

			out := cmd.OutOrStdout()
			if len(summaries) == 0 {
				fmt.Fprintln(out, "No tasks")
				return nil
			}
			fmt.Fprintln(out, renderStatusTable(summaries, shouldColorize(out)))

			for _, s := range summaries {
				if s.Stage1Error != "" {
					fmt.Fprintf(out, "%s extraction failed: %s\n", shortID(s.TaskID), s.Stage1Error)
				}
				if s.Stage2Error != "" {
					fmt.Fprintf(out, "%s report failed: %s\n", shortID(s.TaskID), s.Stage2Error)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit task summaries as JSON")
	cmd.Flags().StringVar(&statusFilter, "status", "", "Only show tasks with a stage in the given status")
	return cmd
}

// filterByStatus keeps tasks where either stage is in the wanted status.
func filterByStatus(summaries []task.Summary, want task.StageStatus) []task.Summary {
	filtered := summaries[:0]
	for _, s := range summaries {
		if s.Stage1Status == want || s.Stage2Status == want {
			filtered = append(filtered, s)
		}
	}
	return filtered
}

func statusNames() string {
	statuses := task.AllStatuses()
	names := make([]string, 0, len(statuses))
	for _, status := range statuses {
		names = append(names, string(status))
	}
	return strings.Join(names, ", ")
}
