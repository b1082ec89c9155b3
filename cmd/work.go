package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/dispatch-cli/internal/model"
)

var workWorkers int

var workCmd = &cobra.Command{
	Use:   "work",
	Short: "Run the worker pool without the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if workWorkers > 0 {
			cfg.Pipeline.Workers = workWorkers
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		return env.Executor.Run(ctx)
	},
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <job-id> <action>",
	Short: "Apply a human review decision to a job awaiting review",
	Long:  "Action is one of auto_dispatch, flagged_dispatch, human_escalation. The job must be in status awaiting_human.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		job, err := env.Executor.Resolve(cmd.Context(), args[0], model.DecisionAction(args[1]), resolveReviewer, resolveNote)
		if err != nil {
			return err
		}

		zap.L().Info("job resolved",
			zap.String("job_id", job.ID),
			zap.String("status", string(job.Status)),
		)
		return printJSON(cmd, job)
	},
}

var (
	resolveReviewer string
	resolveNote     string
)

func init() {
	workCmd.Flags().IntVar(&workWorkers, "workers", 0, "worker count (default from config)")
	resolveCmd.Flags().StringVar(&resolveReviewer, "reviewer", "cli", "reviewer identifier recorded in the audit trail")
	resolveCmd.Flags().StringVar(&resolveNote, "note", "", "free-form review note")
	rootCmd.AddCommand(workCmd)
	rootCmd.AddCommand(resolveCmd)
}
