package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/target/meeting-processor/internal/domain/model"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func newStatusCmd(app *cliApp) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show the current status of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.withJobs(cmd.Context(), func(jobs jobAdmin) error {
				job, err := jobs.GetJobStatus(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), job)
				}
				return printJob(cmd.OutOrStdout(), job)
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw job record")
	return cmd
}

func printJob(w io.Writer, job *model.Job) error {
	tw := tabwriter.NewWriter(w, 0, 2, 2, ' ', 0)
	fmt.Fprintf(tw, "Job:\t%s\n", job.ID)
	fmt.Fprintf(tw, "Title:\t%s\n", job.MeetingTitle)
	fmt.Fprintf(tw, "Stage:\t%s (%d%%)\n", job.Stage, job.Progress)
	fmt.Fprintf(tw, "Message:\t%s\n", job.StatusMessage)
	fmt.Fprintf(tw, "Audio:\t%s\n", job.AudioPath)
	fmt.Fprintf(tw, "Started:\t%s\n", formatTime(job.StartedAt))
	fmt.Fprintf(tw, "Updated:\t%s\n", formatTime(job.UpdatedAt))
	switch job.Stage {
	case model.StageCompleted:
		fmt.Fprintf(tw, "Completed:\t%s\n", formatTime(job.CompletedAt))
	case model.StageFailed:
		fmt.Fprintf(tw, "Failed:\t%s\n", formatTime(job.FailedAt))
		fmt.Fprintf(tw, "Error:\t%s\n", job.Error)
	}
	return tw.Flush()
}

func newListCmd(app *cliApp) *cobra.Command {
	var (
		limit  int
		stage  string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List live jobs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter := model.Stage(strings.ToLower(strings.TrimSpace(stage)))
			if filter != "" && !filter.Valid() {
				return fmt.Errorf("unknown stage %q", stage)
			}
			return app.withJobs(cmd.Context(), func(jobs jobAdmin) error {
				all, err := jobs.ListJobs(cmd.Context())
				if err != nil {
					return err
				}
				selected := make([]*model.Job, 0, len(all))
				for _, job := range all {
					if filter != "" && job.Stage != filter {
						continue
					}
					selected = append(selected, job)
					if limit > 0 && len(selected) == limit {
						break
					}
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), selected)
				}
				return printJobTable(cmd.OutOrStdout(), selected)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of jobs to show (0 = all)")
	cmd.Flags().StringVar(&stage, "stage", "", "only show jobs in this stage")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print raw job records")
	return cmd
}

func printJobTable(w io.Writer, jobs []*model.Job) error {
	if len(jobs) == 0 {
		_, err := fmt.Fprintln(w, "No jobs found.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 2, 2, ' ', 0)
	fmt.Fprintln(tw, "JOB ID\tSTAGE\tPROGRESS\tSTARTED\tTITLE")
	for _, job := range jobs {
		fmt.Fprintf(tw, "%s\t%s\t%d%%\t%s\t%s\n", job.ID, job.Stage, job.Progress, formatTime(job.StartedAt), job.MeetingTitle)
	}
	return tw.Flush()
}

func newResultCmd(app *cliApp) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "result <job-id>",
		Short: "Show the transcript and analysis of a completed job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.withJobs(cmd.Context(), func(jobs jobAdmin) error {
				result, err := jobs.GetResult(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), result)
				}
				return printResult(cmd.OutOrStdout(), result)
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw result document")
	return cmd
}

func printResult(w io.Writer, r *model.Result) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Processed: %s (%.1fs)\n\n", r.ProcessedAt.UTC().Format(time.RFC3339), r.ProcessingTime)
	fmt.Fprintf(&b, "Summary:\n  %s\n", r.Analysis.Summary)
	writeList(&b, "Key decisions", r.Analysis.KeyDecisions)
	if len(r.Analysis.ActionItems) > 0 {
		b.WriteString("\nAction items:\n")
		for _, item := range r.Analysis.ActionItems {
			fmt.Fprintf(&b, "  - %s (owner: %s, due: %s)\n", item.Task, orDash(item.Owner), orDash(item.Deadline))
		}
	}
	writeList(&b, "Topics", r.Analysis.Topics)
	writeList(&b, "Next steps", r.Analysis.NextSteps)
	fmt.Fprintf(&b, "\nTranscript:\n%s\n", r.Transcript)
	_, err := io.WriteString(w, b.String())
	return err
}

func writeList(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "\n%s:\n", title)
	for _, item := range items {
		fmt.Fprintf(b, "  - %s\n", item)
	}
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

func newCancelCmd(app *cliApp) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a queued or running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.withJobs(cmd.Context(), func(jobs jobAdmin) error {
				cancelled, err := jobs.CancelJob(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if !cancelled {
					return fmt.Errorf("job %s does not exist or has already finished", args[0])
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "Job %s cancelled.\n", args[0])
				return err
			})
		},
	}
}

func newCleanupCmd(app *cliApp) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete jobs and results older than the retention window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flags().Changed("days") {
				days = app.cfg.Reaper.RetentionDays
			}
			if days < 0 {
				return fmt.Errorf("--days must not be negative, got %d", days)
			}
			return app.withJobs(cmd.Context(), func(jobs jobAdmin) error {
				report, err := jobs.CleanupOldJobs(cmd.Context(), days)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(),
					"Scanned %d jobs: deleted %d, failed %d, purged %d expired rows.\n",
					report.Scanned, report.Deleted, report.Failed, report.Purged)
				return err
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "retention window in days (default REAPER_RETENTION_DAYS)")
	return cmd
}
