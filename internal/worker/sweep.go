package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/sandk0/fancai-vibe-hackathon-sub002/internal/config"
	"github.com/sandk0/fancai-vibe-hackathon-sub002/internal/coord"
	"github.com/sandk0/fancai-vibe-hackathon-sub002/internal/metrics"
	"github.com/sandk0/fancai-vibe-hackathon-sub002/internal/types"
)

// jobRetention is how long terminal jobs stay queryable before the purge
// removes them.
const jobRetention = 72 * time.Hour

// SweepStore is the persistence surface the sweeper needs.
type SweepStore interface {
	RequeueJob(ctx context.Context, jobID, lastError string) error
	FinishJob(ctx context.Context, jobID string, state types.JobState, lastError string) error
	SetBookProcessing(ctx context.Context, bookID string, processing bool) error
	PurgeTerminalJobs(ctx context.Context, retention time.Duration) (int64, error)
}

// Sweeper requeues jobs abandoned by dead workers and purges old terminal
// jobs on a cron schedule.
type Sweeper struct {
	coord   *coord.Store
	jobs    SweepStore
	cfg     config.WorkerConfig
	metrics *metrics.Metrics
	logger  *slog.Logger
	cron    *cron.Cron
}

// NewSweeper creates a sweeper. Call Start to begin the schedule.
func NewSweeper(store *coord.Store, jobs SweepStore, cfg config.WorkerConfig, m *metrics.Metrics, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		coord:   store,
		jobs:    jobs,
		cfg:     cfg,
		metrics: m,
		logger:  logger.With("component", "sweep"),
	}
}

// Start schedules the stuck-job sweep and the terminal-job purge.
func (s *Sweeper) Start() error {
	spec := s.cfg.StuckJobSweepSpec
	if spec == "" {
		spec = "*/5 * * * *"
	}

	s.cron = cron.New()
	if _, err := s.cron.AddFunc(spec, s.SweepOnce); err != nil {
		return fmt.Errorf("invalid sweep spec %q: %w", spec, err)
	}
	if _, err := s.cron.AddFunc("@hourly", s.purge); err != nil {
		return fmt.Errorf("schedule purge: %w", err)
	}
	s.cron.Start()
	s.logger.Info("sweeper started", "spec", spec)
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// SweepOnce requeues every job whose heartbeat expired. Jobs out of
// attempts fail instead. Exported so an admin command can trigger it
// directly.
func (s *Sweeper) SweepOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	stale, err := s.coord.StaleProcessing(ctx)
	if err != nil {
		s.logger.Error("stale scan failed", "error", err)
		return
	}

	maxAttempts := s.cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	for _, task := range stale {
		log := s.logger.With("job_id", task.JobID, "book_id", task.BookID)

		// The dead worker still holds the slot and the processing entry.
		if err := s.coord.Ack(ctx, task.JobID); err != nil {
			log.Error("cannot clear processing entry", "error", err)
			continue
		}
		if err := s.coord.ReleaseSlot(ctx, task.BookID, task.UserID); err != nil {
			log.Error("cannot release abandoned slot", "error", err)
		}

		next := *task
		next.Attempts++
		if next.Attempts >= maxAttempts {
			s.jobs.FinishJob(ctx, task.JobID, types.JobFailed, "worker lost, retry budget exhausted")
			s.jobs.SetBookProcessing(ctx, task.BookID, false)
			s.coord.IncrStat(ctx, coord.StatFailed)
			if s.metrics != nil {
				s.metrics.JobsFinished.WithLabelValues(string(types.JobFailed)).Inc()
			}
			log.Warn("abandoned job failed, out of attempts", "attempts", next.Attempts)
			continue
		}

		if _, err := s.coord.PushTask(ctx, &next); err != nil {
			log.Error("requeue of abandoned job failed", "error", err)
			continue
		}
		s.jobs.RequeueJob(ctx, task.JobID, "worker lost, requeued")
		s.coord.IncrStat(ctx, coord.StatRequeued)
		log.Info("abandoned job requeued", "attempts", next.Attempts)
	}
}

func (s *Sweeper) purge() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if _, err := s.jobs.PurgeTerminalJobs(ctx, jobRetention); err != nil {
		s.logger.Error("job purge failed", "error", err)
	}
}
