// Package worker runs parsing jobs end-to-end: it consumes dispatched
// tasks, drives the description pipeline chapter by chapter, enforces time
// and resource limits, retries recoverable failures with backoff and
// acknowledges tasks only after their work has committed.
package worker

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"

	"github.com/sandk0/fancai-vibe-hackathon-sub002/internal/admission"
	"github.com/sandk0/fancai-vibe-hackathon-sub002/internal/config"
	"github.com/sandk0/fancai-vibe-hackathon-sub002/internal/coord"
	"github.com/sandk0/fancai-vibe-hackathon-sub002/internal/metrics"
	"github.com/sandk0/fancai-vibe-hackathon-sub002/internal/pipeline"
	"github.com/sandk0/fancai-vibe-hackathon-sub002/internal/processor"
	"github.com/sandk0/fancai-vibe-hackathon-sub002/internal/types"
)

// JobStore is the persistence surface the executor needs. Implemented by
// the Postgres store; faked in tests.
type JobStore interface {
	GetBook(ctx context.Context, id string) (*types.Book, error)
	SetBookProcessing(ctx context.Context, bookID string, processing bool) error
	MarkBookParsed(ctx context.Context, bookID string) error
	UnparsedChapters(ctx context.Context, bookID string) ([]types.Chapter, error)
	ChapterCounts(ctx context.Context, bookID string) (total, parsed int, err error)
	MarkJobRunning(ctx context.Context, jobID string, at time.Time) error
	FinishJob(ctx context.Context, jobID string, state types.JobState, lastError string) error
	RequeueJob(ctx context.Context, jobID, lastError string) error
	SetJobProgress(ctx context.Context, jobID string, progress float64) error
}

// ChapterProcessor runs the description pipeline for one chapter.
type ChapterProcessor interface {
	ProcessChapter(ctx context.Context, ch *types.Chapter, ownerID string) (*pipeline.ChapterResult, error)
}

// Config wires a worker pool.
type Config struct {
	Jobs     JobStore
	Coord    *coord.Store
	Pipeline ChapterProcessor
	Probe    admission.ResourceProbe
	Models   *processor.ModelCache
	Metrics  *metrics.Metrics
	Worker   config.WorkerConfig
	Logger   *slog.Logger

	// OnSlotReleased is called after a slot frees up so the dispatcher can
	// run a dispatch round immediately instead of waiting for the wake tick.
	OnSlotReleased func()
}

// Pool hosts a fixed number of executors consuming dispatched tasks.
// Executors recycle after max_tasks_per_child tasks or when process memory
// crosses max_memory_per_child.
type Pool struct {
	jobs    JobStore
	coord   *coord.Store
	pipe    ChapterProcessor
	probe   admission.ResourceProbe
	models  *processor.ModelCache
	metrics *metrics.Metrics
	cfg     config.WorkerConfig
	logger  *slog.Logger

	onSlotReleased func()
	proc           *process.Process

	wg sync.WaitGroup
}

// NewPool creates a worker pool.
func NewPool(cfg Config) *Pool {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Worker.Concurrency <= 0 {
		cfg.Worker.Concurrency = 2
	}
	proc, _ := process.NewProcess(int32(os.Getpid()))

	return &Pool{
		jobs:           cfg.Jobs,
		coord:          cfg.Coord,
		pipe:           cfg.Pipeline,
		probe:          cfg.Probe,
		models:         cfg.Models,
		metrics:        cfg.Metrics,
		cfg:            cfg.Worker,
		logger:         logger.With("component", "worker"),
		onSlotReleased: cfg.OnSlotReleased,
		proc:           proc,
	}
}

// Run consumes tasks until the context ends. Each executor slot is
// supervised: when an executor recycles, a fresh one takes its place.
func (p *Pool) Run(ctx context.Context, tasks <-chan *types.Task) {
	for i := 0; i < p.cfg.Concurrency; i++ {
		p.wg.Add(1)
		go func(slot int) {
			defer p.wg.Done()
			for ctx.Err() == nil {
				p.executor(ctx, slot, tasks)
			}
		}(i)
	}
	p.wg.Wait()
}

// executor processes tasks until recycled or the context ends. Returning
// recycles: the supervisor starts a replacement with a cold cache.
func (p *Pool) executor(ctx context.Context, slot int, tasks <-chan *types.Task) {
	log := p.logger.With("executor", slot)
	tasksDone := 0

	for {
		select {
		case <-ctx.Done():
			return
		case task, ok := <-tasks:
			if !ok {
				return
			}
			p.runTask(ctx, task)
			tasksDone++
			p.postTask()

			if p.cfg.MaxTasksPerChild > 0 && tasksDone >= p.cfg.MaxTasksPerChild {
				log.Info("executor recycling", "reason", "max_tasks", "tasks", tasksDone)
				return
			}
			if p.memoryExceeded() {
				log.Info("executor recycling", "reason", "memory", "tasks", tasksDone)
				return
			}
		}
	}
}

// postTask is the post-task hook: force heap compaction and drop transient
// caches.
func (p *Pool) postTask() {
	if p.models != nil {
		p.models.Clear()
	}
	runtime.GC()
	debug.FreeOSMemory()
}

// memoryExceeded reports whether resident memory crossed the per-child
// limit.
func (p *Pool) memoryExceeded() bool {
	if p.cfg.MaxMemoryPerChildMB == 0 || p.proc == nil {
		return false
	}
	info, err := p.proc.MemoryInfo()
	if err != nil {
		return false
	}
	return info.RSS>>20 >= p.cfg.MaxMemoryPerChildMB
}

// preTaskGate rechecks host pressure right before starting. Returns a defer
// reason when the task should go back to the queue instead of running.
func (p *Pool) preTaskGate(ctx context.Context) string {
	if p.probe == nil {
		return ""
	}
	snap, err := p.probe.Snapshot(ctx)
	if err != nil {
		return admission.ReasonResourceProbe
	}
	if snap.MemoryPercent > 85 {
		return admission.ReasonMemoryPressure
	}
	if snap.CPUPercent > 90 {
		return admission.ReasonCPUPressure
	}
	return ""
}

func (p *Pool) slotReleased() {
	if p.onSlotReleased != nil {
		p.onSlotReleased()
	}
}
