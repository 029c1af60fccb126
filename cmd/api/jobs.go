package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/spec-kit/property-service/internal/persistence"
	"github.com/spec-kit/property-service/internal/service"
)

func jobsCmd() *cobra.Command {
	jobs := &cobra.Command{Use: "jobs", Short: "Inspect background job queues"}
	jobs.AddCommand(jobsListCmd())
	jobs.AddCommand(jobsGetCmd())
	return jobs
}

func newInspector(cmd *cobra.Command) (*service.JobInspector, func()) {
	cfg, logger := bootstrap()
	redis := persistence.NewRedis(cmd.Context(), cfg.Redis, logger)
	inspector := service.NewJobInspector(jobSources(cfg, redis), cfg.Jobs.HistoryLimit, logger)
	return inspector, func() {
		redis.Close()
		_ = logger.Sync()
	}
}

func jobsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List recent jobs across queues",
		RunE: func(cmd *cobra.Command, args []string) error {
			inspector, done := newInspector(cmd)
			defer done()

			jobs := inspector.ListJobs(cmd.Context())
			if viper.GetBool("json") {
				return printJSON(jobs)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"Queue", "ID", "Name", "Status", "Created", "Completed", "Failed reason"})
			for _, j := range jobs {
				completed, reason := "", ""
				if j.CompletedAt != nil {
					completed = j.CompletedAt.Format(time.RFC3339)
				}
				if j.FailedReason != nil {
					reason = *j.FailedReason
				}
				tw.AppendRow(table.Row{j.Queue, j.ID, j.Name, j.Status, j.CreatedAt.Format(time.RFC3339), completed, reason})
			}
			tw.Render()
			return nil
		},
	}
}

func jobsGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show one job with its execution detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inspector, done := newInspector(cmd)
			defer done()

			job := inspector.GetJob(cmd.Context(), args[0])
			if viper.GetBool("json") {
				return printJSON(map[string]any{"data": job})
			}
			if job == nil {
				fmt.Println("job not found")
				return nil
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendRow(table.Row{"Queue", job.Queue})
			tw.AppendRow(table.Row{"ID", job.ID})
			tw.AppendRow(table.Row{"Name", job.Name})
			tw.AppendRow(table.Row{"Status", job.Status})
			tw.AppendRow(table.Row{"Created", job.CreatedAt.Format(time.RFC3339)})
			if job.ProcessedAt != nil {
				tw.AppendRow(table.Row{"Processed", job.ProcessedAt.Format(time.RFC3339)})
			}
			if job.CompletedAt != nil {
				tw.AppendRow(table.Row{"Completed", job.CompletedAt.Format(time.RFC3339)})
			}
			if job.FailedReason != nil {
				tw.AppendRow(table.Row{"Failed reason", *job.FailedReason})
			}
			tw.AppendRow(table.Row{"Data", string(job.Data)})
			if len(job.ReturnValue) > 0 {
				tw.AppendRow(table.Row{"Return value", string(job.ReturnValue)})
			}
			for i, line := range job.Stacktrace {
				tw.AppendRow(table.Row{fmt.Sprintf("Stack %d", i+1), line})
			}
			tw.Render()
			return nil
		},
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
