package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/dispatch-cli/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "dispatch-cli",
	Short: "Admission-controlled triage pipeline for emergency call audio",
	Long:  "Accepts call audio behind a queue-depth gate, runs transcription, retrieval and structured extraction, and routes each call to automatic dispatch or human review based on a weighted confidence score.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if err := c.Validate(); err != nil {
			return err
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
