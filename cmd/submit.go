package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/dispatch-cli/internal/admission"
)

var (
	submitLanguage    string
	submitCorrelation string
)

var submitCmd = &cobra.Command{
	Use:   "submit <audio-file>",
	Short: "Submit a call recording for triage",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		audio, err := os.ReadFile(args[0])
		if err != nil {
			return eris.Wrapf(err, "read %s", args[0])
		}

		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		handle, err := env.Admission.Submit(cmd.Context(), admission.Submission{
			Audio:         audio,
			LanguageHint:  submitLanguage,
			CorrelationID: submitCorrelation,
		})
		if err != nil {
			return err
		}

		zap.L().Info("job submitted",
			zap.String("job_id", handle.JobID),
			zap.String("correlation_id", handle.CorrelationID),
		)
		return printJSON(cmd, handle)
	},
}

func init() {
	submitCmd.Flags().StringVar(&submitLanguage, "language", "", "language hint (BCP 47)")
	submitCmd.Flags().StringVar(&submitCorrelation, "correlation-id", "", "correlation id (generated when empty)")
	rootCmd.AddCommand(submitCmd)
}
