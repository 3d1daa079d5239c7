package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/sandk0/fancai-vibe-hackathon-sub002/internal/admission"
	"github.com/sandk0/fancai-vibe-hackathon-sub002/internal/config"
	"github.com/sandk0/fancai-vibe-hackathon-sub002/internal/coord"
	"github.com/sandk0/fancai-vibe-hackathon-sub002/internal/store"
	"github.com/sandk0/fancai-vibe-hackathon-sub002/internal/types"
)

type memJobStore struct {
	mu         sync.Mutex
	books      map[string]*types.Book
	words      map[string]int
	jobs       map[string]*types.ParsingJob
	processing map[string]bool
}

func newMemJobStore() *memJobStore {
	return &memJobStore{
		books:      make(map[string]*types.Book),
		words:      make(map[string]int),
		jobs:       make(map[string]*types.ParsingJob),
		processing: make(map[string]bool),
	}
}

func (m *memJobStore) GetBook(ctx context.Context, id string) (*types.Book, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.books[id]
	if !ok {
		return nil, fmt.Errorf("book %s: %w", id, store.ErrNotFound)
	}
	return b, nil
}

func (m *memJobStore) BookWordCount(ctx context.Context, bookID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.words[bookID], nil
}

func (m *memJobStore) CreateJob(ctx context.Context, job *types.ParsingJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *job
	m.jobs[job.ID] = &cp
	return nil
}

func (m *memJobStore) GetJob(ctx context.Context, id string) (*types.ParsingJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, store.ErrNotFound)
	}
	cp := *j
	return &cp, nil
}

func (m *memJobStore) ActiveJobForBook(ctx context.Context, bookID string) (*types.ParsingJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, j := range m.jobs {
		if j.BookID == bookID && !j.State.Terminal() {
			cp := *j
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("active job for %s: %w", bookID, store.ErrNotFound)
}

func (m *memJobStore) FinishJob(ctx context.Context, jobID string, state types.JobState, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok || j.State.Terminal() {
		return nil
	}
	j.State = state
	j.LastError = lastError
	now := time.Now().UTC()
	j.FinishedAt = &now
	return nil
}

func (m *memJobStore) SetBookProcessing(ctx context.Context, bookID string, processing bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processing[bookID] = processing
	return nil
}

type calmProbe struct{}

func (calmProbe) Snapshot(ctx context.Context) (admission.ResourceSnapshot, error) {
	return admission.ResourceSnapshot{MemoryPercent: 40, AvailableMB: 8192, CPUPercent: 20}, nil
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *memJobStore, *coord.Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	cs := coord.NewWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), slog.Default())
	adm := admission.New(cs, calmProbe{}, nil, config.AdmissionConfig{
		MaxConcurrentGlobal:  5,
		MaxConcurrentPerUser: 1,
		CooldownSecondsPer:   60,
		MaxMemoryPercent:     85,
		MaxCPUPercent:        90,
		MinFreeMemoryMB:      2048,
	}, slog.Default())

	jobs := newMemJobStore()
	return New(jobs, cs, adm, config.QueueConfig{Size: 100}, slog.Default()), jobs, cs
}

func seedBook(js *memJobStore, id, owner string, words int) {
	js.books[id] = &types.Book{ID: id, OwnerID: owner, Title: "t", Format: types.FormatEPUB}
	js.words[id] = words
}

func TestSubmitBook(t *testing.T) {
	ctx := context.Background()
	o, jobs, cs := newTestOrchestrator(t)
	seedBook(jobs, "b1", "u1", 80_000)

	sub, err := o.SubmitBook(ctx, "b1", SubmitOptions{Tier: "premium"})
	if err != nil {
		t.Fatalf("SubmitBook: %v", err)
	}
	if sub.Job.Priority != 2 {
		t.Errorf("priority = %d, want 2 for premium", sub.Job.Priority)
	}
	if sub.Queue != types.QueueNormal {
		t.Errorf("queue = %q, want normal", sub.Queue)
	}
	if sub.Position != 1 {
		t.Errorf("position = %d, want 1", sub.Position)
	}
	if sub.Verdict.Decision != admission.Admit {
		t.Errorf("verdict = %+v, want admit", sub.Verdict)
	}
	if n, _ := cs.QueueLen(ctx); n != 1 {
		t.Errorf("queue len = %d, want 1", n)
	}
	if j, _ := jobs.GetJob(ctx, sub.Job.ID); j.State != types.JobQueued {
		t.Errorf("job state = %q, want queued", j.State)
	}
}

func TestSubmitBookPriorityOverride(t *testing.T) {
	ctx := context.Background()
	o, jobs, _ := newTestOrchestrator(t)
	seedBook(jobs, "b1", "u1", 1000)

	sub, err := o.SubmitBook(ctx, "b1", SubmitOptions{Tier: "free", Priority: 1})
	if err != nil {
		t.Fatalf("SubmitBook: %v", err)
	}
	if sub.Job.Priority != 1 {
		t.Errorf("priority = %d, want explicit 1 over tier", sub.Job.Priority)
	}
}

func TestSubmitBookQueueRouting(t *testing.T) {
	cases := []struct {
		words int
		want  string
	}{
		{200_000, types.QueueHeavy},
		{150_000, types.QueueHeavy},
		{80_000, types.QueueNormal},
		{20_000, types.QueueLight},
		{5_000, types.QueueLight},
		{0, types.QueueNormal}, // unknown size routes normal
	}
	for _, tc := range cases {
		if got := routeQueue(tc.words); got != tc.want {
			t.Errorf("routeQueue(%d) = %q, want %q", tc.words, got, tc.want)
		}
	}
}

func TestSubmitBookAlreadyQueued(t *testing.T) {
	ctx := context.Background()
	o, jobs, _ := newTestOrchestrator(t)
	seedBook(jobs, "b1", "u1", 1000)

	first, err := o.SubmitBook(ctx, "b1", SubmitOptions{Tier: "free"})
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}

	second, err := o.SubmitBook(ctx, "b1", SubmitOptions{Tier: "free"})
	if !errors.Is(err, ErrAlreadyQueued) {
		t.Fatalf("second submit err = %v, want ErrAlreadyQueued", err)
	}
	if second.Job.ID != first.Job.ID {
		t.Errorf("duplicate submit returned a new job: %s vs %s", second.Job.ID, first.Job.ID)
	}
	if len(jobs.jobs) != 1 {
		t.Errorf("jobs created = %d, want 1", len(jobs.jobs))
	}
}

func TestSubmitBookQueueFull(t *testing.T) {
	ctx := context.Background()
	o, jobs, _ := newTestOrchestrator(t)
	o.maxQueue = 1
	seedBook(jobs, "b1", "u1", 1000)
	seedBook(jobs, "b2", "u2", 1000)

	if _, err := o.SubmitBook(ctx, "b1", SubmitOptions{Tier: "free"}); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if _, err := o.SubmitBook(ctx, "b2", SubmitOptions{Tier: "free"}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("err = %v, want ErrQueueFull", err)
	}
	if len(jobs.jobs) != 1 {
		t.Errorf("jobs created = %d, want 1", len(jobs.jobs))
	}
}

func TestSubmitBookMissingBook(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)
	if _, err := o.SubmitBook(context.Background(), "nope", SubmitOptions{Tier: "free"}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestCancelQueuedJob(t *testing.T) {
	ctx := context.Background()
	o, jobs, cs := newTestOrchestrator(t)
	seedBook(jobs, "b1", "u1", 1000)

	sub, err := o.SubmitBook(ctx, "b1", SubmitOptions{Tier: "free"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	job, err := o.Cancel(ctx, sub.Job.ID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if job.State != types.JobCancelled {
		t.Errorf("state = %q, want cancelled", job.State)
	}
	if n, _ := cs.QueueLen(ctx); n != 0 {
		t.Errorf("queue len = %d, want 0 after cancel", n)
	}
}

func TestCancelRunningJobSetsFlag(t *testing.T) {
	ctx := context.Background()
	o, jobs, cs := newTestOrchestrator(t)

	jobs.jobs["j1"] = &types.ParsingJob{ID: "j1", BookID: "b1", UserID: "u1", State: types.JobRunning}

	job, err := o.Cancel(ctx, "j1")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	// The worker finishes the job at its next checkpoint; state is unchanged
	// here.
	if job.State != types.JobRunning {
		t.Errorf("state = %q, want running", job.State)
	}
	if flagged, _ := cs.IsCancelled(ctx, "j1"); !flagged {
		t.Error("cancel flag not set for running job")
	}
}

func TestCancelTerminalJobIsNoop(t *testing.T) {
	ctx := context.Background()
	o, jobs, cs := newTestOrchestrator(t)

	jobs.jobs["j1"] = &types.ParsingJob{ID: "j1", BookID: "b1", State: types.JobSucceeded}

	job, err := o.Cancel(ctx, "j1")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if job.State != types.JobSucceeded {
		t.Errorf("state = %q, want succeeded", job.State)
	}
	if flagged, _ := cs.IsCancelled(ctx, "j1"); flagged {
		t.Error("cancel flag set for terminal job")
	}
}

func TestJobStatusReportsPosition(t *testing.T) {
	ctx := context.Background()
	o, jobs, _ := newTestOrchestrator(t)
	seedBook(jobs, "b1", "u1", 1000)
	seedBook(jobs, "b2", "u2", 1000)

	// Premium enqueues ahead of free.
	free, err := o.SubmitBook(ctx, "b1", SubmitOptions{Tier: "free"})
	if err != nil {
		t.Fatalf("submit free: %v", err)
	}
	if _, err := o.SubmitBook(ctx, "b2", SubmitOptions{Tier: "premium"}); err != nil {
		t.Fatalf("submit premium: %v", err)
	}

	st, err := o.JobStatus(ctx, free.Job.ID)
	if err != nil {
		t.Fatalf("JobStatus: %v", err)
	}
	if st.Position != 2 {
		t.Errorf("position = %d, want 2 behind premium", st.Position)
	}
}
