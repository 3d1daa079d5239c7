// Package queue dispatches tasks from the durable waiting queue to worker
// executors. A dispatch round runs on every wake tick and whenever a slot is
// released; age-based promotion rewrites queue priorities on its own tick.
package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/sandk0/fancai-vibe-hackathon-sub002/internal/admission"
	"github.com/sandk0/fancai-vibe-hackathon-sub002/internal/config"
	"github.com/sandk0/fancai-vibe-hackathon-sub002/internal/coord"
	"github.com/sandk0/fancai-vibe-hackathon-sub002/internal/metrics"
	"github.com/sandk0/fancai-vibe-hackathon-sub002/internal/types"
)

// JobStore is the persistence surface dispatch needs for terminal
// bookkeeping.
type JobStore interface {
	FinishJob(ctx context.Context, jobID string, state types.JobState, lastError string) error
	SetBookProcessing(ctx context.Context, bookID string, processing bool) error
}

// Config wires a dispatcher.
type Config struct {
	Coord       *coord.Store
	Admission   *admission.Controller
	Jobs        JobStore
	Metrics     *metrics.Metrics
	Queue       config.QueueConfig
	Queues      []string // routing queues to serve (default: normal)
	MaxAttempts int
	Logger      *slog.Logger
}

// Dispatcher pops queue heads and hands admitted tasks to executors.
type Dispatcher struct {
	coord       *coord.Store
	adm         *admission.Controller
	jobs        JobStore
	metrics     *metrics.Metrics
	cfg         config.QueueConfig
	maxAttempts int
	logger      *slog.Logger

	out  map[string]chan *types.Task
	kick chan struct{}
}

// NewDispatcher creates a dispatcher serving the given routing queues.
func NewDispatcher(cfg Config) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	queues := cfg.Queues
	if len(queues) == 0 {
		queues = []string{types.QueueNormal}
	}

	out := make(map[string]chan *types.Task, len(queues))
	for _, q := range queues {
		out[q] = make(chan *types.Task)
	}

	return &Dispatcher{
		coord:       cfg.Coord,
		adm:         cfg.Admission,
		jobs:        cfg.Jobs,
		metrics:     cfg.Metrics,
		cfg:         cfg.Queue,
		maxAttempts: cfg.MaxAttempts,
		logger:      logger.With("component", "dispatch"),
		out:         out,
		kick:        make(chan struct{}, 1),
	}
}

// Tasks returns the delivery channel for one routing queue.
func (d *Dispatcher) Tasks(queue string) <-chan *types.Task {
	return d.out[queue]
}

// Kick requests an immediate dispatch round, coalescing with any pending
// request. Workers call this on slot release.
func (d *Dispatcher) Kick() {
	select {
	case d.kick <- struct{}{}:
	default:
	}
}

// Run drives wake ticks, kicks and promotion until the context ends.
func (d *Dispatcher) Run(ctx context.Context) {
	wake := d.cfg.WakeInterval()
	if wake <= 0 {
		wake = 5 * time.Second
	}
	wakeTicker := time.NewTicker(wake)
	defer wakeTicker.Stop()

	promote := d.cfg.PromotionInterval()
	var promoteC <-chan time.Time
	if promote > 0 {
		promoteTicker := time.NewTicker(promote)
		defer promoteTicker.Stop()
		promoteC = promoteTicker.C
	}

	d.logger.Info("dispatcher running", "wake", wake, "promotion", promote)

	for {
		select {
		case <-ctx.Done():
			return
		case <-wakeTicker.C:
			d.DispatchRound(ctx)
		case <-d.kick:
			d.DispatchRound(ctx)
		case <-promoteC:
			if err := d.coord.PromoteAged(ctx, promote, time.Now()); err != nil {
				d.logger.Warn("age promotion failed", "error", err)
			}
		}
	}
}

// DispatchRound pops heads until the queue empties or a gate blocks. A
// blocked head goes back with its original priority, preserving order.
func (d *Dispatcher) DispatchRound(ctx context.Context) {
	for ctx.Err() == nil {
		task, err := d.coord.PopHighest(ctx)
		if err != nil {
			d.logger.Error("pop failed", "error", err)
			break
		}
		if task == nil {
			break
		}

		if d.expired(task) {
			d.failTask(ctx, task, "queue_timeout")
			continue
		}
		if d.maxAttempts > 0 && task.Attempts >= d.maxAttempts {
			d.failTask(ctx, task, "retry budget exhausted")
			continue
		}

		v, err := d.adm.AcquireSlot(ctx, task.BookID, task.UserID)
		if err != nil {
			d.reinsert(ctx, task)
			break
		}

		switch v.Decision {
		case admission.Admit:
			if !d.deliver(ctx, task) {
				// No executor free: give the slot back and stop the round.
				d.adm.ReleaseSlot(ctx, task.BookID, task.UserID)
				d.reinsert(ctx, task)
				return
			}
			d.coord.IncrStat(ctx, coord.StatDispatched)
			if d.metrics != nil {
				d.metrics.AdmissionDecisions.WithLabelValues(string(v.Decision), v.Reason).Inc()
			}

		case admission.Reject:
			if d.metrics != nil {
				d.metrics.AdmissionDecisions.WithLabelValues(string(v.Decision), v.Reason).Inc()
			}
			d.failTask(ctx, task, v.Reason)

		default: // defer: the head cannot run yet, keep its position
			if d.metrics != nil {
				d.metrics.AdmissionDecisions.WithLabelValues(string(v.Decision), v.Reason).Inc()
			}
			d.reinsert(ctx, task)
			d.updateGauges(ctx)
			return
		}
	}
	d.updateGauges(ctx)
}

func (d *Dispatcher) expired(task *types.Task) bool {
	timeout := d.cfg.Timeout()
	return timeout > 0 && time.Since(task.QueuedAt) > timeout
}

// deliver hands the task to an executor without blocking.
func (d *Dispatcher) deliver(ctx context.Context, task *types.Task) bool {
	ch, ok := d.out[task.Queue]
	if !ok {
		ch = d.out[types.QueueNormal]
	}
	if ch == nil {
		return false
	}
	select {
	case ch <- task:
		d.logger.Info("task dispatched", "job_id", task.JobID, "queue", task.Queue, "priority", task.Priority)
		return true
	default:
		return false
	}
}

func (d *Dispatcher) reinsert(ctx context.Context, task *types.Task) {
	if _, err := d.coord.PushTask(ctx, task); err != nil {
		d.logger.Error("reinsert failed, task lost from queue", "job_id", task.JobID, "error", err)
	}
}

func (d *Dispatcher) failTask(ctx context.Context, task *types.Task, reason string) {
	d.logger.Warn("task failed at dispatch", "job_id", task.JobID, "reason", reason)
	if err := d.jobs.FinishJob(ctx, task.JobID, types.JobFailed, reason); err != nil {
		d.logger.Error("finish job failed", "job_id", task.JobID, "error", err)
	}
	// Pop registered the task as processing; a terminal outcome is its ack.
	if err := d.coord.Ack(ctx, task.JobID); err != nil {
		d.logger.Error("ack failed", "job_id", task.JobID, "error", err)
	}
	d.jobs.SetBookProcessing(ctx, task.BookID, false)
	d.coord.IncrStat(ctx, coord.StatFailed)
	if d.metrics != nil {
		d.metrics.JobsFinished.WithLabelValues(string(types.JobFailed)).Inc()
	}
}

func (d *Dispatcher) updateGauges(ctx context.Context) {
	if d.metrics == nil {
		return
	}
	if n, err := d.coord.ActiveCount(ctx); err == nil {
		d.metrics.ActiveJobs.Set(float64(n))
	}
	if n, err := d.coord.QueueLen(ctx); err == nil {
		d.metrics.QueueDepth.Set(float64(n))
	}
}
