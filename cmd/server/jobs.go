package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/gsarma/mailer/internal/queue"
)

func jobsCommand(rt *runtimeState) *cobra.Command {
	jobs := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect the dispatch queue",
	}

	var limit int
	failed := &cobra.Command{
		Use:   "failed",
		Short: "List exhausted dispatch jobs, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), rt.cfg, rt.log)
			if err != nil {
				return err
			}
			defer a.Close()
			return listFailedJobs(cmd.Context(), cmd.OutOrStdout(), a.queue, limit)
		},
	}
	failed.Flags().IntVar(&limit, "limit", queue.DefaultFailedLimit, "Maximum number of jobs to list")

	jobs.AddCommand(failed)
	return jobs
}

func listFailedJobs(ctx context.Context, out io.Writer, backend queue.Backend, limit int) error {
	inspector, ok := backend.(queue.Inspector)
	if !ok {
		return fmt.Errorf("%s queue cannot list failed jobs", backend.Name())
	}
	jobs, err := inspector.Failed(ctx, limit)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		fmt.Fprintln(out, "no failed jobs")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "LOG ID\tKIND\tRECIPIENT\tATTEMPTS\tFAILED AT\tLAST ERROR")
	for _, j := range jobs {
		failedAt := "-"
		if !j.FailedAt.IsZero() {
			failedAt = j.FailedAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\t%s\t%s\n",
			j.ID, j.Payload.Kind, j.Payload.RecipientEmail, j.Attempt, j.MaxAttempts, failedAt, j.LastError)
	}
	return tw.Flush()
}
