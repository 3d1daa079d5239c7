package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sandk0/fancai-vibe-hackathon-sub002/internal/orchestrator"
)

var (
	enqueueBookID   string
	enqueueUserID   string
	enqueuePriority int
	enqueueTier     string
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Submit a book for description parsing",
	Long: `Create a parsing job for a book and place it on the durable queue.

Examples:
  orchestrator enqueue --book 7b0c... --user a1f2...
  orchestrator enqueue --book 7b0c... --tier premium
  orchestrator enqueue --book 7b0c... --priority 1`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		svcs, cleanup, err := setupServices(ctx, true)
		if err != nil {
			return err
		}
		defer cleanup()

		sub, err := svcs.Orchestrator.SubmitBook(ctx, enqueueBookID, orchestrator.SubmitOptions{
			Tier:     enqueueTier,
			Priority: enqueuePriority,
			UserID:   enqueueUserID,
		})
		if errors.Is(err, orchestrator.ErrAlreadyQueued) {
			fmt.Printf("book already queued\n")
			fmt.Printf("  Job:      %s\n", sub.Job.ID)
			fmt.Printf("  State:    %s\n", sub.Job.State)
			fmt.Printf("  Position: %d\n", sub.Position)
			return nil
		}
		if err != nil {
			return err
		}

		fmt.Printf("job enqueued\n")
		fmt.Printf("  Job:      %s\n", sub.Job.ID)
		fmt.Printf("  Queue:    %s\n", sub.Queue)
		fmt.Printf("  Priority: %d\n", sub.Job.Priority)
		fmt.Printf("  Position: %d\n", sub.Position)
		fmt.Printf("  Verdict:  %s (%s)\n", sub.Verdict.Decision, sub.Verdict.Reason)
		return nil
	},
}

func init() {
	enqueueCmd.Flags().StringVar(&enqueueBookID, "book", "", "book id (required)")
	enqueueCmd.Flags().StringVar(&enqueueUserID, "user", "", "quota accounting user id (default: book owner)")
	enqueueCmd.Flags().IntVar(&enqueuePriority, "priority", 0, "explicit priority 1..10 (overrides tier)")
	enqueueCmd.Flags().StringVar(&enqueueTier, "tier", "", "subscription tier: premium, plus or free")
	enqueueCmd.MarkFlagRequired("book")

	rootCmd.AddCommand(enqueueCmd)
}
