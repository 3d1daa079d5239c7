package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/sandk0/fancai-vibe-hackathon-sub002/internal/admission"
	"github.com/sandk0/fancai-vibe-hackathon-sub002/internal/config"
	"github.com/sandk0/fancai-vibe-hackathon-sub002/internal/images"
	"github.com/sandk0/fancai-vibe-hackathon-sub002/internal/pipeline"
	"github.com/sandk0/fancai-vibe-hackathon-sub002/internal/pipeline/strategy"
	"github.com/sandk0/fancai-vibe-hackathon-sub002/internal/processor"
	"github.com/sandk0/fancai-vibe-hackathon-sub002/internal/queue"
	"github.com/sandk0/fancai-vibe-hackathon-sub002/internal/svcctx"
	"github.com/sandk0/fancai-vibe-hackathon-sub002/internal/worker"
)

var serveMetricsAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run admission, dispatch and workers in one process",
	Long: `Run the full parsing stack: the queue dispatcher, worker executors for
every configured queue, the stuck-job sweeper and the Prometheus metrics
endpoint.

Examples:
  orchestrator serve
  orchestrator serve --metrics-addr :9091
  orchestrator serve --config /etc/fancai/orchestrator.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		svcs, cleanup, err := setupServices(ctx, true)
		if err != nil {
			return err
		}
		defer cleanup()

		cfg := svcs.Config.Get()
		return runParsing(ctx, svcs, parsingOptions{
			Queues:      cfg.Worker.Queues,
			Concurrency: cfg.Worker.Concurrency,
			Sweep:       true,
			MetricsAddr: serveMetricsAddr,
		})
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveMetricsAddr, "metrics-addr", ":9090", "Prometheus metrics listen address (empty to disable)")

	rootCmd.AddCommand(serveCmd)
}

// parsingOptions tune one runParsing invocation.
type parsingOptions struct {
	Queues      []string
	Concurrency int
	Sweep       bool
	MetricsAddr string
}

// runParsing wires the pipeline, workers and dispatcher and blocks until the
// context ends.
func runParsing(ctx context.Context, svcs *svcctx.Services, opts parsingOptions) error {
	cfg := svcs.Config.Get()
	logger := svcs.Logger

	workerCfg := cfg.Worker
	if opts.Concurrency > 0 {
		workerCfg.Concurrency = opts.Concurrency
	}
	if len(opts.Queues) == 0 {
		opts.Queues = workerCfg.Queues
	}

	// Processor registry, hot-reloadable weights.
	registry := processor.NewRegistry(logger)
	defaults := config.DefaultConfig().Processors
	for _, p := range []processor.Processor{
		processor.NewPatternProcessor(),
		processor.NewEntityProcessor(),
		processor.NewMoodProcessor(),
	} {
		pc, ok := cfg.Processors[p.Name()]
		if !ok {
			pc = defaults[p.Name()]
		}
		if err := registry.Register(p, pc); err != nil {
			return fmt.Errorf("register processor %s: %w", p.Name(), err)
		}
	}
	svcs.Config.OnChange(func(c *config.Config) {
		registry.UpdateConfigs(c.Processors)
	})
	svcs.Config.WatchConfig()

	models := processor.NewModelCache(cfg.Pipeline.ModelCacheSize, cfg.Pipeline.ModelTTL(), logger)
	models.Preload(ctx, registry, cfg.Pipeline.PreloadModels)

	factory := strategy.NewFactory(strategy.FactoryConfig{
		Registry:           registry,
		Models:             models,
		MaxParallel:        cfg.Pipeline.MaxParallelProcessors,
		ConsensusThreshold: cfg.Pipeline.ConsensusThreshold,
		Logger:             logger,
	})

	imgDispatcher := images.NewDispatcher(images.Config{
		Sink:   svcs.Store,
		Logger: logger,
	})
	imgDispatcher.Start(ctx)
	defer imgDispatcher.Stop()

	pipe := pipeline.New(factory, registry, svcs.Store, imgDispatcher, cfg.Pipeline, logger)

	dispatcher := queue.NewDispatcher(queue.Config{
		Coord:       svcs.Coord,
		Admission:   svcs.Admission,
		Jobs:        svcs.Store,
		Metrics:     svcs.Metrics,
		Queue:       cfg.Queue,
		Queues:      opts.Queues,
		MaxAttempts: workerCfg.MaxAttempts,
		Logger:      logger,
	})

	pools := make([]*worker.Pool, 0, len(opts.Queues))
	for range opts.Queues {
		pools = append(pools, worker.NewPool(worker.Config{
			Jobs:           svcs.Store,
			Coord:          svcs.Coord,
			Pipeline:       pipe,
			Probe:          admission.SystemProbe{},
			Models:         models,
			Metrics:        svcs.Metrics,
			Worker:         workerCfg,
			Logger:         logger,
			OnSlotReleased: dispatcher.Kick,
		}))
	}

	if opts.Sweep {
		sweeper := worker.NewSweeper(svcs.Coord, svcs.Store, workerCfg, svcs.Metrics, logger)
		if err := sweeper.Start(); err != nil {
			return err
		}
		defer sweeper.Stop()
	}

	if opts.MetricsAddr != "" {
		srv := &http.Server{Addr: opts.MetricsAddr, Handler: svcs.Metrics.Handler()}
		go func() {
			logger.Info("metrics listening", "addr", opts.MetricsAddr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		dispatcher.Run(ctx)
	}()

	logger.Info("parsing stack running", "queues", opts.Queues, "concurrency", workerCfg.Concurrency)
	for i, q := range opts.Queues {
		pool, tasks := pools[i], dispatcher.Tasks(q)
		go pool.Run(ctx, tasks)
	}

	<-ctx.Done()
	<-done
	logger.Info("shutting down")
	return nil
}
