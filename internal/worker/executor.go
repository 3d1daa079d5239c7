package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/sandk0/fancai-vibe-hackathon-sub002/internal/coord"
	"github.com/sandk0/fancai-vibe-hackathon-sub002/internal/pipeline/strategy"
	"github.com/sandk0/fancai-vibe-hackathon-sub002/internal/store"
	"github.com/sandk0/fancai-vibe-hackathon-sub002/internal/types"
)

// Retry backoff bounds.
const (
	retryBaseDelay = time.Second
	retryMaxDelay  = 10 * time.Minute
	retryMaxJitter = time.Second
)

// finalizeTimeout bounds terminal-state bookkeeping so shutdown cannot hang
// on a slow store.
const finalizeTimeout = 10 * time.Second

// runTask drives one dispatched task to a terminal outcome. The slot is
// held on entry; every exit path releases it, and the durable queue entry is
// acknowledged only after the outcome is committed.
func (p *Pool) runTask(ctx context.Context, task *types.Task) {
	log := p.logger.With("job_id", task.JobID, "book_id", task.BookID)

	// Gate deferrals requeue without spending an attempt: the job never
	// started, so the retry budget only counts processing attempts.
	if reason := p.preTaskGate(ctx); reason != "" {
		log.Warn("pre-task gate deferred job", "reason", reason)
		p.requeueTask(task, reason, false)
		p.finishCoord(task, false)
		return
	}

	if err := p.coord.MarkProcessing(ctx, task, p.stuckThreshold()); err != nil {
		log.Error("cannot mark processing, requeueing", "error", err)
		p.requeueTask(task, "coordination_unavailable", false)
		p.finishCoord(task, false)
		return
	}

	hbCtx, stopHB := context.WithCancel(ctx)
	go p.heartbeatLoop(hbCtx, task.JobID)

	start := time.Now()
	err := p.runJobWithRetry(ctx, task)
	stopHB()

	fctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()

	switch {
	case err == nil:
		if err := p.jobs.MarkBookParsed(fctx, task.BookID); err != nil {
			// The book flag is retried by the next sweep-requeued run; the
			// job itself did commit every chapter.
			log.Error("mark book parsed failed", "error", err)
		}
		p.finishJob(fctx, task, types.JobSucceeded, "")
		p.coord.IncrStat(fctx, coord.StatCompleted)
		if p.metrics != nil {
			p.metrics.JobsFinished.WithLabelValues(string(types.JobSucceeded)).Inc()
			p.metrics.JobDuration.Observe(time.Since(start).Seconds())
		}
		log.Info("job succeeded", "duration", time.Since(start))
		p.finishCoord(task, true)

	case Kind(err) == KindCancelled:
		p.jobs.SetBookProcessing(fctx, task.BookID, false)
		p.finishJob(fctx, task, types.JobCancelled, err.Error())
		p.coord.IncrStat(fctx, coord.StatCancelled)
		if p.metrics != nil {
			p.metrics.JobsFinished.WithLabelValues(string(types.JobCancelled)).Inc()
		}
		log.Info("job cancelled")
		p.finishCoord(task, true)

	case Kind(err) == KindHardTimeout:
		log.Error("hard time limit exceeded, requeueing")
		p.jobs.SetBookProcessing(fctx, task.BookID, false)
		p.jobs.RequeueJob(fctx, task.JobID, err.Error())
		p.requeueTask(task, "hard_timeout", true)
		p.finishCoord(task, true)

	default:
		p.jobs.SetBookProcessing(fctx, task.BookID, false)
		p.finishJob(fctx, task, types.JobFailed, err.Error())
		p.coord.IncrStat(fctx, coord.StatFailed)
		if p.metrics != nil {
			p.metrics.JobsFinished.WithLabelValues(string(types.JobFailed)).Inc()
		}
		log.Error("job failed", "error", err, "kind", Kind(err))
		p.finishCoord(task, true)
	}
}

// finishCoord releases the slot and, when ack is set, removes the durable
// processing entry. Requeue paths skip the ack for the processing marker
// because MarkProcessing never ran or the task went back to the queue.
func (p *Pool) finishCoord(task *types.Task, ack bool) {
	ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()

	if err := p.coord.ReleaseSlot(ctx, task.BookID, task.UserID); err != nil {
		p.logger.Error("release slot failed", "job_id", task.JobID, "error", err)
	}
	if ack {
		if err := p.coord.Ack(ctx, task.JobID); err != nil {
			p.logger.Error("ack failed", "job_id", task.JobID, "error", err)
		}
	}
	p.slotReleased()
}

// requeueTask returns the task to the durable queue with its original
// priority. bump charges the run against the retry budget; deferrals that
// never started processing pass false.
func (p *Pool) requeueTask(task *types.Task, reason string, bump bool) {
	ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()

	next := *task
	if bump {
		next.Attempts++
	}
	if _, err := p.coord.PushTask(ctx, &next); err != nil {
		p.logger.Error("requeue failed", "job_id", task.JobID, "error", err)
		return
	}
	p.coord.IncrStat(ctx, coord.StatRequeued)
	p.logger.Info("task requeued", "job_id", task.JobID, "reason", reason, "attempts", next.Attempts)
}

func (p *Pool) finishJob(ctx context.Context, task *types.Task, state types.JobState, lastError string) {
	if err := p.jobs.FinishJob(ctx, task.JobID, state, lastError); err != nil {
		p.logger.Error("finish job failed", "job_id", task.JobID, "state", state, "error", err)
	}
}

// runJobWithRetry runs job attempts with exponential backoff and jitter.
// Only recoverable failures retry; the last error is returned on
// exhaustion.
func (p *Pool) runJobWithRetry(ctx context.Context, task *types.Task) error {
	attempts := p.cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}

	return retry.Do(
		func() error { return p.runAttempt(ctx, task) },
		retry.Context(ctx),
		retry.Attempts(uint(attempts)),
		retry.Delay(retryBaseDelay),
		retry.MaxDelay(retryMaxDelay),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.MaxJitter(retryMaxJitter),
		retry.RetryIf(Retryable),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			p.logger.Warn("job attempt failed, retrying",
				"job_id", task.JobID, "attempt", n+1, "error", err)
			p.jobs.RequeueJob(ctx, task.JobID, err.Error())
			if p.metrics != nil {
				p.metrics.JobRetries.Inc()
			}
		}),
	)
}

// runAttempt is one start-to-finish pass over the book's unparsed chapters.
// Chapters run strictly in ascending order; the cancel flag and the time
// budget are checked between chapters.
func (p *Pool) runAttempt(parent context.Context, task *types.Task) error {
	now := time.Now().UTC()
	if err := p.jobs.MarkJobRunning(parent, task.JobID, now); err != nil {
		return Wrap(KindTransient, err)
	}
	if err := p.jobs.SetBookProcessing(parent, task.BookID, true); err != nil {
		return Wrap(KindTransient, err)
	}

	soft := p.cfg.SoftTimeLimit()
	if soft <= 0 {
		soft = 25 * time.Minute
	}
	hard := p.cfg.HardTimeLimit()
	if hard <= soft {
		hard = soft + 5*time.Minute
	}

	jobCtx, cancel := context.WithTimeout(parent, soft)
	defer cancel()

	var hardFired atomic.Bool
	hardTimer := time.AfterFunc(hard, func() {
		hardFired.Store(true)
		cancel()
	})
	defer hardTimer.Stop()

	book, err := p.jobs.GetBook(jobCtx, task.BookID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Errf(KindMalformedBook, "book %s missing: %v", task.BookID, err)
		}
		return Wrap(KindTransient, err)
	}

	chapters, err := p.jobs.UnparsedChapters(jobCtx, task.BookID)
	if err != nil {
		return Wrap(KindTransient, err)
	}
	total, parsed, err := p.jobs.ChapterCounts(jobCtx, task.BookID)
	if err != nil {
		total, parsed = len(chapters), 0
	}

	for i := range chapters {
		ch := &chapters[i]

		if cancelled, err := p.coord.IsCancelled(jobCtx, task.JobID); err == nil && cancelled {
			return Errf(KindCancelled, "cancel requested")
		}
		if jobCtx.Err() != nil {
			return p.timeoutError(&hardFired, jobCtx.Err())
		}

		chStart := time.Now()
		res, err := p.pipe.ProcessChapter(jobCtx, ch, book.OwnerID)
		if err != nil {
			return p.classify(&hardFired, err)
		}

		if p.metrics != nil {
			p.metrics.ChaptersProcessed.Inc()
			p.metrics.DescriptionsKept.Add(float64(res.Found))
			p.metrics.ImagesDispatched.Add(float64(res.Dispatched))
			p.metrics.ChapterDuration.Observe(time.Since(chStart).Seconds())
		}

		// Checkpoint: descriptions and chapter flags are already committed
		// by the pipeline; progress is advisory.
		parsed++
		if total > 0 {
			p.jobs.SetJobProgress(jobCtx, task.JobID, float64(parsed)/float64(total))
		}
	}
	return nil
}

func (p *Pool) timeoutError(hardFired *atomic.Bool, cause error) error {
	if hardFired.Load() {
		return Errf(KindHardTimeout, "hard time limit %s exceeded", p.cfg.HardTimeLimit())
	}
	return Errf(KindSoftTimeout, "soft time limit %s exceeded: %v", p.cfg.SoftTimeLimit(), cause)
}

// classify maps a chapter failure onto the retry taxonomy.
func (p *Pool) classify(hardFired *atomic.Bool, err error) error {
	var je *JobError
	if errors.As(err, &je) {
		return je
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return p.timeoutError(hardFired, err)
	}
	if errors.Is(err, strategy.ErrNoProcessors) {
		return Wrap(KindProcessorDown, err)
	}
	return Wrap(KindTransient, err)
}

// heartbeatLoop refreshes the job's liveness key until stopped. The key TTL
// is the stuck-job threshold: if this worker dies, the key expires and the
// sweep requeues the job.
func (p *Pool) heartbeatLoop(ctx context.Context, jobID string) {
	interval := p.cfg.HeartbeatInterval()
	if interval <= 0 {
		interval = 30 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.coord.Heartbeat(ctx, jobID, p.stuckThreshold()); err != nil && ctx.Err() == nil {
				p.logger.Warn("heartbeat failed", "job_id", jobID, "error", err)
			}
		}
	}
}

func (p *Pool) stuckThreshold() time.Duration {
	if t := p.cfg.StuckJobThreshold(); t > 0 {
		return t
	}
	return 5 * time.Minute
}
