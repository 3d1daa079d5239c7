package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show live queue and admission counters",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		// Counters live in the coordination store; no database needed.
		svcs, cleanup, err := setupServices(ctx, false)
		if err != nil {
			return err
		}
		defer cleanup()

		snap, err := svcs.Admission.Stats(ctx)
		if err != nil {
			return fmt.Errorf("%w: %v", errCoordUnreachable, err)
		}

		fmt.Printf("active jobs:  %d\n", snap.Active)
		fmt.Printf("queued tasks: %d\n", snap.Queued)

		names := make([]string, 0, len(snap.Counters))
		for name := range snap.Counters {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Printf("%-12s %d\n", name+":", snap.Counters[name])
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
