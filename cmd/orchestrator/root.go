package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/sandk0/fancai-vibe-hackathon-sub002/internal/admission"
	"github.com/sandk0/fancai-vibe-hackathon-sub002/internal/config"
	"github.com/sandk0/fancai-vibe-hackathon-sub002/internal/coord"
	"github.com/sandk0/fancai-vibe-hackathon-sub002/internal/ingest"
	"github.com/sandk0/fancai-vibe-hackathon-sub002/internal/metrics"
	"github.com/sandk0/fancai-vibe-hackathon-sub002/internal/orchestrator"
	"github.com/sandk0/fancai-vibe-hackathon-sub002/internal/store"
	"github.com/sandk0/fancai-vibe-hackathon-sub002/internal/svcctx"
	"github.com/sandk0/fancai-vibe-hackathon-sub002/version"
)

// Sentinel failures mapped to exit codes in main.
var (
	errBadConfig        = errors.New("configuration error")
	errCoordUnreachable = errors.New("coordination store unreachable")
	errDBUnreachable    = errors.New("database unreachable")
)

var (
	cfgFile  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "orchestrator",
	Short: "Book parsing orchestrator: admission, queueing and description extraction",
	Long: `Orchestrator schedules description-extraction jobs over uploaded books.

It admits jobs through ordered rate-control gates, keeps a durable priority
queue in Redis, runs worker executors with time and memory limits, and
extracts typed descriptions per chapter for downstream image generation.`,
	Version:       version.GitRelease,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./orchestrator.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&logLevel, "log-level", "info", "log level: debug, info, warn or error",
	)

	rootCmd.AddCommand(versionCmd)
}

func newLogger() *slog.Logger {
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

// setupServices builds the shared service set. withDB controls whether the
// Postgres pool is opened; queue-only commands skip it. The returned cleanup
// closes whatever was opened.
func setupServices(ctx context.Context, withDB bool) (*svcctx.Services, func(), error) {
	logger := newLogger()

	cm, err := config.NewManager(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", errBadConfig, err)
	}
	cfg := cm.Get()

	cs, err := coord.New(cfg.RedisURL, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", errBadConfig, err)
	}
	if err := cs.Ping(ctx); err != nil {
		cs.Close()
		return nil, nil, fmt.Errorf("%w: %v", errCoordUnreachable, err)
	}

	svcs := &svcctx.Services{
		Config:    cm,
		Coord:     cs,
		Admission: admission.New(cs, admission.SystemProbe{}, nil, cfg.Admission, logger),
		Metrics:   metrics.New(),
		Logger:    logger,
	}
	cleanup := func() { cs.Close() }

	if withDB {
		st, err := store.Open(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("%w: %v", errDBUnreachable, err)
		}
		if err := st.Migrate(ctx); err != nil {
			st.Close()
			cleanup()
			return nil, nil, fmt.Errorf("%w: %v", errDBUnreachable, err)
		}
		svcs.Store = st
		svcs.Orchestrator = orchestrator.New(st, cs, svcs.Admission, cfg.Queue, logger)
		svcs.Ingester = ingest.New(st, cfg.Admission.MaxBookBytesFree, logger)
		cleanup = func() {
			st.Close()
			cs.Close()
		}
	}

	return svcs, cleanup, nil
}
