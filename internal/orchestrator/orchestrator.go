// Package orchestrator is the submit/cancel/status surface over the parsing
// machinery. It creates jobs, routes them to a worker queue, enqueues the
// durable task and answers status queries.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sandk0/fancai-vibe-hackathon-sub002/internal/admission"
	"github.com/sandk0/fancai-vibe-hackathon-sub002/internal/config"
	"github.com/sandk0/fancai-vibe-hackathon-sub002/internal/coord"
	"github.com/sandk0/fancai-vibe-hackathon-sub002/internal/store"
	"github.com/sandk0/fancai-vibe-hackathon-sub002/internal/types"
)

// Word-count cutoffs for routing a book to the heavy or light worker queue.
const (
	heavyBookWords = 150_000
	lightBookWords = 20_000
)

// ErrAlreadyQueued reports a submit for a book that has an active job.
var ErrAlreadyQueued = errors.New("book already has an active job")

// ErrQueueFull reports a submit while the durable queue is at capacity.
var ErrQueueFull = errors.New("parsing queue is full")

// JobStore is the persistence surface the orchestrator needs.
type JobStore interface {
	GetBook(ctx context.Context, id string) (*types.Book, error)
	BookWordCount(ctx context.Context, bookID string) (int, error)
	CreateJob(ctx context.Context, job *types.ParsingJob) error
	GetJob(ctx context.Context, id string) (*types.ParsingJob, error)
	ActiveJobForBook(ctx context.Context, bookID string) (*types.ParsingJob, error)
	FinishJob(ctx context.Context, jobID string, state types.JobState, lastError string) error
	SetBookProcessing(ctx context.Context, bookID string, processing bool) error
}

// Orchestrator coordinates job creation with admission and the durable
// queue.
type Orchestrator struct {
	jobs     JobStore
	coord    *coord.Store
	adm      *admission.Controller
	maxQueue int // durable queue capacity, 0 disables the bound
	logger   *slog.Logger
}

func New(jobs JobStore, cs *coord.Store, adm *admission.Controller, queueCfg config.QueueConfig, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		jobs:     jobs,
		coord:    cs,
		adm:      adm,
		maxQueue: queueCfg.Size,
		logger:   logger.With("component", "orchestrator"),
	}
}

// Submission describes an accepted submit.
type Submission struct {
	Job      *types.ParsingJob
	Queue    string
	Position int64 // 1-based queue position at enqueue time
	Verdict  admission.Verdict
}

// SubmitOptions tune one submit. Zero values mean "derive".
type SubmitOptions struct {
	Tier     string // subscription tier, sets the initial priority
	Priority int    // explicit priority, overrides the tier when > 0
	UserID   string // quota accounting identity, defaults to the book owner
}

// SubmitBook creates a parsing job for the book and enqueues it. The tier
// sets the initial priority; book size picks the routing queue. Submitting a
// book that already has an active job returns ErrAlreadyQueued with that
// job's submission.
func (o *Orchestrator) SubmitBook(ctx context.Context, bookID string, opts SubmitOptions) (*Submission, error) {
	book, err := o.jobs.GetBook(ctx, bookID)
	if err != nil {
		return nil, err
	}

	if existing, err := o.jobs.ActiveJobForBook(ctx, bookID); err == nil {
		pos, _ := o.coord.Position(ctx, existing.ID)
		return &Submission{Job: existing, Position: pos}, ErrAlreadyQueued
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	if o.maxQueue > 0 {
		depth, err := o.coord.QueueLen(ctx)
		if err != nil {
			return nil, fmt.Errorf("queue depth: %w", err)
		}
		if depth >= int64(o.maxQueue) {
			return nil, ErrQueueFull
		}
	}

	words, err := o.jobs.BookWordCount(ctx, bookID)
	if err != nil {
		return nil, err
	}

	priority := types.PriorityForTier(opts.Tier)
	if opts.Priority > 0 {
		priority = types.ClampPriority(opts.Priority)
	}
	userID := opts.UserID
	if userID == "" {
		userID = book.OwnerID
	}

	job := &types.ParsingJob{
		ID:       uuid.NewString(),
		BookID:   bookID,
		UserID:   userID,
		State:    types.JobQueued,
		Priority: priority,
		QueuedAt: time.Now().UTC(),
	}
	if err := o.jobs.CreateJob(ctx, job); err != nil {
		return nil, err
	}

	task := &types.Task{
		JobID:    job.ID,
		BookID:   job.BookID,
		UserID:   job.UserID,
		Priority: job.Priority,
		Queue:    routeQueue(words),
		QueuedAt: job.QueuedAt,
	}
	pos, err := o.adm.Enqueue(ctx, task)
	if err != nil {
		// The job row exists but nothing will ever run it; fail it so the
		// book does not stay stuck in queued.
		o.jobs.FinishJob(ctx, job.ID, types.JobFailed, "enqueue failed: "+err.Error())
		return nil, fmt.Errorf("enqueue job %s: %w", job.ID, err)
	}

	// Advisory only: the dispatcher re-checks atomically before the job runs.
	verdict, err := o.adm.CanStart(ctx, bookID, job.UserID)
	if err != nil {
		verdict = admission.Verdict{Decision: admission.Defer, Reason: admission.ReasonCoordUnavailable}
	}

	o.logger.Info("book submitted",
		"book_id", bookID, "job_id", job.ID, "tier", opts.Tier,
		"priority", job.Priority, "queue", task.Queue, "position", pos)
	return &Submission{Job: job, Queue: task.Queue, Position: pos, Verdict: verdict}, nil
}

// routeQueue picks the worker queue from the book's total word count.
func routeQueue(words int) string {
	switch {
	case words >= heavyBookWords:
		return types.QueueHeavy
	case words > 0 && words <= lightBookWords:
		return types.QueueLight
	default:
		return types.QueueNormal
	}
}

// Cancel stops a job. Queued jobs are removed from the queue and finished
// immediately; running jobs get the cooperative cancel flag and finish at
// the worker's next checkpoint. Cancelling a terminal job is a no-op.
func (o *Orchestrator) Cancel(ctx context.Context, jobID string) (*types.ParsingJob, error) {
	job, err := o.jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.State.Terminal() {
		return job, nil
	}

	// Set the flag first: if the dispatcher grabs the task between our
	// queue check and removal, the worker still sees the cancel.
	if err := o.coord.MarkCancelled(ctx, jobID); err != nil {
		return nil, fmt.Errorf("mark cancelled: %w", err)
	}

	pos, err := o.coord.Position(ctx, jobID)
	if err == nil && pos > 0 {
		if err := o.coord.RemoveTask(ctx, jobID); err != nil {
			return nil, fmt.Errorf("remove queued task: %w", err)
		}
		if err := o.jobs.FinishJob(ctx, jobID, types.JobCancelled, "cancelled while queued"); err != nil {
			return nil, err
		}
		o.jobs.SetBookProcessing(ctx, job.BookID, false)
		o.coord.IncrStat(ctx, coord.StatCancelled)
		o.logger.Info("queued job cancelled", "job_id", jobID)
		return o.jobs.GetJob(ctx, jobID)
	}

	o.logger.Info("cancel requested for running job", "job_id", jobID)
	return job, nil
}

// Status is a point-in-time view of one job.
type Status struct {
	Job      *types.ParsingJob
	Position int64 // 0 when not waiting in the queue
}

// JobStatus reports the job record plus its live queue position.
func (o *Orchestrator) JobStatus(ctx context.Context, jobID string) (*Status, error) {
	job, err := o.jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	st := &Status{Job: job}
	if job.State == types.JobQueued {
		if pos, err := o.coord.Position(ctx, jobID); err == nil {
			st.Position = pos
		}
	}
	return st, nil
}
