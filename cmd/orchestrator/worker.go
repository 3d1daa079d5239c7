package main

import (
	"strings"

	"github.com/spf13/cobra"
)

var (
	workerQueues      string
	workerConcurrency int
	workerMetricsAddr string
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run worker executors for the given queues",
	Long: `Run worker executors without the stuck-job sweeper. The process runs its
own dispatch loop; queue pops are atomic, so any number of worker processes
can share the queue.

Examples:
  orchestrator worker --queues heavy,normal,light
  orchestrator worker --queues heavy --concurrency 4`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		svcs, cleanup, err := setupServices(ctx, true)
		if err != nil {
			return err
		}
		defer cleanup()

		var queues []string
		for _, q := range strings.Split(workerQueues, ",") {
			if q = strings.TrimSpace(q); q != "" {
				queues = append(queues, q)
			}
		}

		return runParsing(ctx, svcs, parsingOptions{
			Queues:      queues,
			Concurrency: workerConcurrency,
			MetricsAddr: workerMetricsAddr,
		})
	},
}

func init() {
	workerCmd.Flags().StringVar(&workerQueues, "queues", "heavy,normal,light", "comma-separated queues to consume")
	workerCmd.Flags().IntVar(&workerConcurrency, "concurrency", 0, "executors per queue (0 = config value)")
	workerCmd.Flags().StringVar(&workerMetricsAddr, "metrics-addr", "", "Prometheus metrics listen address (empty to disable)")

	rootCmd.AddCommand(workerCmd)
}
