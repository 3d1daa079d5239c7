package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sandk0/fancai-vibe-hackathon-sub002/internal/types"
)

// CreateJob inserts a new parsing job in the queued state.
func (s *Store) CreateJob(ctx context.Context, job *types.ParsingJob) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO parsing_jobs (id, book_id, user_id, state, priority, attempts, queued_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		job.ID, job.BookID, job.UserID, job.State, job.Priority, job.Attempts, job.QueuedAt)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

// GetJob loads one parsing job by id.
func (s *Store) GetJob(ctx context.Context, id string) (*types.ParsingJob, error) {
	var (
		j          types.ParsingJob
		startedAt  sql.NullTime
		finishedAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, book_id, user_id, state, priority, attempts, progress,
		       queued_at, started_at, finished_at, last_error
		FROM parsing_jobs WHERE id = $1`, id).Scan(
		&j.ID, &j.BookID, &j.UserID, &j.State, &j.Priority, &j.Attempts, &j.Progress,
		&j.QueuedAt, &startedAt, &finishedAt, &j.LastError)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	if startedAt.Valid {
		j.StartedAt = &startedAt.Time
	}
	if finishedAt.Valid {
		j.FinishedAt = &finishedAt.Time
	}
	return &j, nil
}

// MarkJobRunning transitions a job to running and bumps its attempt count.
func (s *Store) MarkJobRunning(ctx context.Context, jobID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE parsing_jobs
		SET state = 'running', attempts = attempts + 1, started_at = $2, last_error = ''
		WHERE id = $1`, jobID, at)
	if err != nil {
		return fmt.Errorf("mark running: %w", err)
	}
	return nil
}

// FinishJob records a terminal state. No-op when the job is already
// terminal: the first finisher wins.
func (s *Store) FinishJob(ctx context.Context, jobID string, state types.JobState, lastError string) error {
	if !state.Terminal() {
		return fmt.Errorf("finish job %s: %s is not terminal", jobID, state)
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE parsing_jobs
		SET state = $2, finished_at = now(), last_error = $3
		WHERE id = $1 AND state NOT IN ('succeeded', 'failed', 'cancelled')`,
		jobID, state, lastError)
	if err != nil {
		return fmt.Errorf("finish job: %w", err)
	}
	return nil
}

// RequeueJob returns a job to the queued state after a recoverable failure.
func (s *Store) RequeueJob(ctx context.Context, jobID, lastError string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE parsing_jobs
		SET state = 'queued', last_error = $2
		WHERE id = $1 AND state NOT IN ('succeeded', 'failed', 'cancelled')`,
		jobID, lastError)
	if err != nil {
		return fmt.Errorf("requeue job: %w", err)
	}
	return nil
}

// SetJobProgress stores the completed-chapter fraction for status queries.
func (s *Store) SetJobProgress(ctx context.Context, jobID string, progress float64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE parsing_jobs SET progress = $2 WHERE id = $1`, jobID, progress)
	if err != nil {
		return fmt.Errorf("set progress: %w", err)
	}
	return nil
}

// ActiveJobForBook returns the book's queued or running job, or ErrNotFound.
func (s *Store) ActiveJobForBook(ctx context.Context, bookID string) (*types.ParsingJob, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM parsing_jobs
		WHERE book_id = $1 AND state IN ('queued', 'running')
		ORDER BY queued_at DESC LIMIT 1`, bookID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("active job for %s: %w", bookID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("active job: %w", err)
	}
	return s.GetJob(ctx, id)
}

// PurgeTerminalJobs deletes terminal jobs older than the retention window.
func (s *Store) PurgeTerminalJobs(ctx context.Context, retention time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM parsing_jobs
		WHERE state IN ('succeeded', 'failed', 'cancelled')
		  AND finished_at < now() - $1::interval`,
		fmt.Sprintf("%d seconds", int(retention.Seconds())))
	if err != nil {
		return 0, fmt.Errorf("purge jobs: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.logger.Info("purged terminal jobs", "count", n)
	}
	return n, nil
}
