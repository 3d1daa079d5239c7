package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sandk0/fancai-vibe-hackathon-sub002/internal/types"
)

var cancelJobID string

var cancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Cancel a parsing job",
	Long: `Cancel a queued or running parsing job. Queued jobs finish immediately;
running jobs stop at the worker's next chapter boundary.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		svcs, cleanup, err := setupServices(ctx, true)
		if err != nil {
			return err
		}
		defer cleanup()

		job, err := svcs.Orchestrator.Cancel(ctx, cancelJobID)
		if err != nil {
			return err
		}

		switch {
		case job.State == types.JobCancelled:
			fmt.Printf("job %s cancelled\n", job.ID)
		case job.State.Terminal():
			fmt.Printf("job %s already finished: %s\n", job.ID, job.State)
		default:
			fmt.Printf("cancel requested, job %s stops at the next checkpoint\n", job.ID)
		}
		return nil
	},
}

func init() {
	cancelCmd.Flags().StringVar(&cancelJobID, "job", "", "job id (required)")
	cancelCmd.MarkFlagRequired("job")

	rootCmd.AddCommand(cancelCmd)
}
