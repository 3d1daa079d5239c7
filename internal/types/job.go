package types

import "time"

// JobState is the lifecycle state of a parsing job.
type JobState string

const (
	JobQueued    JobState = "queued"
	JobRunning   JobState = "running"
	JobSucceeded JobState = "succeeded"
	JobFailed    JobState = "failed"
	JobCancelled JobState = "cancelled"
)

// Terminal reports whether the state is final.
func (s JobState) Terminal() bool {
	return s == JobSucceeded || s == JobFailed || s == JobCancelled
}

// Priority bounds for parsing jobs. Lower integer means higher priority.
const (
	PriorityHighest = 1
	PriorityLowest  = 10
)

// PriorityForTier derives the initial queue priority from a subscription
// tier. Unknown tiers get the lowest priority. Age-based promotion may later
// decrement the value down to PriorityHighest.
func PriorityForTier(tier string) int {
	switch tier {
	case "premium":
		return 2
	case "plus":
		return 4
	case "free":
		return 7
	}
	return PriorityLowest
}

// ClampPriority bounds p into [PriorityHighest, PriorityLowest].
func ClampPriority(p int) int {
	if p < PriorityHighest {
		return PriorityHighest
	}
	if p > PriorityLowest {
		return PriorityLowest
	}
	return p
}

// ParsingJob is the scheduler-internal record for one description-extraction
// run over a book. At most one active job exists per book across the fleet.
type ParsingJob struct {
	ID         string     `json:"id"`
	BookID     string     `json:"book_id"`
	UserID     string     `json:"user_id"`
	State      JobState   `json:"state"`
	Priority   int        `json:"priority"`
	Attempts   int        `json:"attempts"`
	Progress   float64    `json:"progress"`
	QueuedAt   time.Time  `json:"queued_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
}

// Task is the durable queue payload for a parsing job. It carries everything
// dispatch needs so priority is never re-derived at pop time.
type Task struct {
	JobID    string    `json:"job_id"`
	BookID   string    `json:"book_id"`
	UserID   string    `json:"user_id"`
	Priority int       `json:"priority"`
	Queue    string    `json:"queue"` // routing: heavy, normal or light
	Attempts int       `json:"attempts"`
	QueuedAt time.Time `json:"queued_at"`
}

// Routing queue names for workers.
const (
	QueueHeavy  = "heavy"
	QueueNormal = "normal"
	QueueLight  = "light"
)
