package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStage1Command(ctx *commandContext) *cobra.Command {
	var model string

	cmd := &cobra.Command{
		Use:   "stage1 <source-ref>",
		Short: "Queue extraction for a source in the ingest directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			created, err := client.startStage1(args[0], model)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Queued extraction for %s (model %s)\n", created.SourceRef, created.ModelName)
			fmt.Fprintf(out, "Task ID: %s\n", created.TaskID)
			return nil
		},
	}
	cmd.Flags().StringVarP(&model, "model", "m", "", "Analysis model (defaults to the configured model)")
	return cmd
}

func newStage2Command(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stage2 <task-id>",
		Short: "Queue report generation for a completed extraction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			begun, err := client.startStage2(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Queued report for task %s\n", begun.TaskID)
			return nil
		},
	}
}

func newOutputCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "output <task-id>",
		Short: "Print the extraction output reference for a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			ref, err := client.stage1Output(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), ref)
			return nil
		},
	}
}

func newResetStuckCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reset-stuck",
		Short: "Requeue tasks stuck in processing past the configured cutoff",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			updated, err := client.resetStuck()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if updated == 0 {
				fmt.Fprintln(out, "No stuck tasks found")
				return nil
			}
			fmt.Fprintf(out, "Requeued %d stuck stage(s)\n", updated)
			return nil
		},
	}
}
