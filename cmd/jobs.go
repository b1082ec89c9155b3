package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/sells-group/dispatch-cli/internal/model"
	"github.com/sells-group/dispatch-cli/internal/store"
)

var jobsStatus string

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		filter := store.JobFilter{Limit: 100}
		if jobsStatus != "" {
			filter.Status = model.JobStatus(jobsStatus)
		}

		jobs, err := env.Store.ListJobs(cmd.Context(), filter)
		if err != nil {
			return err
		}
		return printJSON(cmd, jobs)
	},
}

var jobCmd = &cobra.Command{
	Use:   "job <job-id>",
	Short: "Show one job with its audit trail",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		job, err := env.Store.GetJob(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		audit, err := env.Store.ListAudit(cmd.Context(), job.CorrelationID)
		if err != nil {
			return err
		}

		return printJSON(cmd, struct {
			*model.Job
			Audit []model.AuditRecord `json:"audit"`
		}{Job: job, Audit: audit})
	},
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	jobsCmd.Flags().StringVar(&jobsStatus, "status", "", "filter by status")
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(jobCmd)
}
