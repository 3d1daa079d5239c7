package worker

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
	"github.com/sandk0/fancai-vibe-hackathon-sub002/internal/pipeline"
	"github.com/sandk0/fancai-vibe-hackathon-sub002/internal/store"
	"github.com/sandk0/fancai-vibe-hackathon-sub002/internal/types"
)

// memJobStore is an in-memory JobStore and SweepStore.
type memJobStore struct {
	mu        sync.Mutex
	books     map[string]*types.Book
	chapters  map[string][]types.Chapter
	states    map[string]types.JobState
	lastError map[string]string
	attempts  map[string]int
	requeues  int
}

func newMemJobStore() *memJobStore {
	return &memJobStore{
		books:     make(map[string]*types.Book),
		chapters:  make(map[string][]types.Chapter),
		states:    make(map[string]types.JobState),
		lastError: make(map[string]string),
		attempts:  make(map[string]int),
	}
}

func (m *memJobStore) GetBook(ctx context.Context, id string) (*types.Book, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.books[id]
	if !ok {
		return nil, fmt.Errorf("book %s: %w", id, store.ErrNotFound)
	}
	cp := *b
	return &cp, nil
}

func (m *memJobStore) SetBookProcessing(ctx context.Context, bookID string, processing bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.books[bookID]; ok {
		b.IsProcessing = processing
	}
	return nil
}

func (m *memJobStore) MarkBookParsed(ctx context.Context, bookID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.books[bookID]; ok {
		b.IsParsed = true
		b.IsProcessing = false
	}
	return nil
}

func (m *memJobStore) UnparsedChapters(ctx context.Context, bookID string) ([]types.Chapter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.Chapter
	for _, ch := range m.chapters[bookID] {
		if !ch.IsDescriptionParsed {
			out = append(out, ch)
		}
	}
	return out, nil
}

func (m *memJobStore) ChapterCounts(ctx context.Context, bookID string) (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := len(m.chapters[bookID])
	parsed := 0
	for _, ch := range m.chapters[bookID] {
		if ch.IsDescriptionParsed {
			parsed++
		}
	}
	return total, parsed, nil
}

func (m *memJobStore) MarkJobRunning(ctx context.Context, jobID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[jobID] = types.JobRunning
	m.attempts[jobID]++
	return nil
}

func (m *memJobStore) FinishJob(ctx context.Context, jobID string, state types.JobState, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.states[jobID]; ok && cur.Terminal() {
		return nil
	}
	m.states[jobID] = state
	m.lastError[jobID] = lastError
	return nil
}

func (m *memJobStore) RequeueJob(ctx context.Context, jobID, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[jobID] = types.JobQueued
	m.lastError[jobID] = lastError
	m.requeues++
	return nil
}

func (m *memJobStore) SetJobProgress(ctx context.Context, jobID string, progress float64) error {
	return nil
}

func (m *memJobStore) PurgeTerminalJobs(ctx context.Context, retention time.Duration) (int64, error) {
	return 0, nil
}

func (m *memJobStore) state(jobID string) types.JobState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.states[jobID]
}

func (m *memJobStore) book(id string) types.Book {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.books[id]
}

// scriptedPipe fails a scripted number of times before succeeding.
type scriptedPipe struct {
	mu        sync.Mutex
	failures  int
	errToUse  error
	processed int
}

func (s *scriptedPipe) ProcessChapter(ctx context.Context, ch *types.Chapter, ownerID string) (*pipeline.ChapterResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return nil, s.errToUse
	}
	s.processed++
	return &pipeline.ChapterResult{Found: 2, Dispatched: 1}, nil
}

func workerConfig() config.WorkerConfig {
	return config.WorkerConfig{
		Concurrency:              1,
		SoftTimeLimitSeconds:     60,
		HardTimeLimitSeconds:     120,
		MaxTasksPerChild:         10,
		MaxAttempts:              3,
		HeartbeatIntervalSeconds: 1,
		StuckJobThresholdSeconds: 5,
	}
}

func newTestPool(t *testing.T, jobs *memJobStore, pipe ChapterProcessor) (*Pool, *coord.Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	cs := coord.NewWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), slog.Default())
	pool := NewPool(Config{
		Jobs:     jobs,
		Coord:    cs,
		Pipeline: pipe,
		Worker:   workerConfig(),
		Logger:   slog.Default(),
	})
	return pool, cs, mr
}

func seedJob(t *testing.T, jobs *memJobStore, cs *coord.Store, jobID string) *types.Task {
	t.Helper()
	jobs.books["b1"] = &types.Book{ID: "b1", OwnerID: "u1", Title: "T", Format: types.FormatEPUB}
	jobs.chapters["b1"] = []types.Chapter{
		{ID: "c1", BookID: "b1", Number: 1, Content: "one"},
		{ID: "c2", BookID: "b1", Number: 2, Content: "two"},
	}
	jobs.states[jobID] = types.JobQueued

	if _, err := cs.AcquireSlot(context.Background(), "b1", "u1", 5, 1, time.Minute); err != nil {
		t.Fatalf("seed slot: %v", err)
	}
	return &types.Task{JobID: jobID, BookID: "b1", UserID: "u1", Priority: 4, Queue: types.QueueNormal, QueuedAt: time.Now()}
}

func TestRunTaskSuccess(t *testing.T) {
	jobs := newMemJobStore()
	pipe := &scriptedPipe{}
	pool, cs, _ := newTestPool(t, jobs, pipe)
	task := seedJob(t, jobs, cs, "job1")

	pool.runTask(context.Background(), task)

	if got := jobs.state("job1"); got != types.JobSucceeded {
		t.Fatalf("state = %s, want succeeded", got)
	}
	b := jobs.book("b1")
	if !b.IsParsed || b.IsProcessing {
		t.Fatalf("book flags = parsed=%v processing=%v", b.IsParsed, b.IsProcessing)
	}
	if pipe.processed != 2 {
		t.Fatalf("chapters processed = %d, want 2", pipe.processed)
	}

	ctx := context.Background()
	active, err := cs.ActiveCount(ctx)
	if err != nil {
		t.Fatalf("ActiveCount: %v", err)
	}
	if active != 0 {
		t.Fatalf("slot still held after success")
	}
	// Late ack: processing entry removed only now.
	stale, err := cs.StaleProcessing(ctx)
	if err != nil {
		t.Fatalf("StaleProcessing: %v", err)
	}
	if len(stale) != 0 {
		t.Fatalf("processing entries remain: %d", len(stale))
	}
}

func TestRunTaskRetriesTransientFailure(t *testing.T) {
	jobs := newMemJobStore()
	pipe := &scriptedPipe{failures: 1, errToUse: errors.New("connection reset")}
	pool, cs, _ := newTestPool(t, jobs, pipe)
	task := seedJob(t, jobs, cs, "job1")

	pool.runTask(context.Background(), task)

	if got := jobs.state("job1"); got != types.JobSucceeded {
		t.Fatalf("state = %s, want succeeded after retry", got)
	}
	if jobs.requeues != 1 {
		t.Fatalf("requeues = %d, want 1", jobs.requeues)
	}
	if jobs.attempts["job1"] != 2 {
		t.Fatalf("attempts = %d, want 2", jobs.attempts["job1"])
	}
}

func TestRunTaskPermanentFailureNoRetry(t *testing.T) {
	jobs := newMemJobStore()
	pipe := &scriptedPipe{failures: 99, errToUse: Errf(KindMalformedBook, "broken archive")}
	pool, cs, _ := newTestPool(t, jobs, pipe)
	task := seedJob(t, jobs, cs, "job1")

	pool.runTask(context.Background(), task)

	if got := jobs.state("job1"); got != types.JobFailed {
		t.Fatalf("state = %s, want failed", got)
	}
	if jobs.attempts["job1"] != 1 {
		t.Fatalf("attempts = %d, want 1 (no retry on malformed book)", jobs.attempts["job1"])
	}
	b := jobs.book("b1")
	if b.IsProcessing {
		t.Fatalf("is_processing still set after failure")
	}
}

func TestRunTaskCooperativeCancel(t *testing.T) {
	jobs := newMemJobStore()
	pipe := &scriptedPipe{}
	pool, cs, _ := newTestPool(t, jobs, pipe)
	task := seedJob(t, jobs, cs, "job1")

	if err := cs.MarkCancelled(context.Background(), "job1"); err != nil {
		t.Fatalf("MarkCancelled: %v", err)
	}

	pool.runTask(context.Background(), task)

	if got := jobs.state("job1"); got != types.JobCancelled {
		t.Fatalf("state = %s, want cancelled", got)
	}
	if pipe.processed != 0 {
		t.Fatalf("chapters processed after cancel = %d, want 0", pipe.processed)
	}
}

// pressuredProbe reports a host too loaded to start new work.
type pressuredProbe struct{}

func (pressuredProbe) Snapshot(ctx context.Context) (admission.ResourceSnapshot, error) {
	return admission.ResourceSnapshot{MemoryPercent: 95, AvailableMB: 100, CPUPercent: 20}, nil
}

func TestRunTaskPreGateDeferKeepsAttempts(t *testing.T) {
	jobs := newMemJobStore()
	pipe := &scriptedPipe{}
	pool, cs, _ := newTestPool(t, jobs, pipe)
	pool.probe = pressuredProbe{}
	task := seedJob(t, jobs, cs, "job1")
	task.Attempts = 2

	pool.runTask(context.Background(), task)

	// The job never started: it goes back to the queue with its attempt
	// count intact, so sustained pressure cannot exhaust the retry budget.
	if pipe.processed != 0 {
		t.Fatalf("chapters processed under pressure = %d, want 0", pipe.processed)
	}
	ctx := context.Background()
	requeued, err := cs.PopHighest(ctx)
	if err != nil || requeued == nil {
		t.Fatalf("pop requeued task: task=%+v err=%v", requeued, err)
	}
	if requeued.Attempts != 2 {
		t.Fatalf("attempts = %d, want 2 (gate defer spends no attempt)", requeued.Attempts)
	}
	if got := jobs.state("job1"); got != types.JobQueued {
		t.Fatalf("state = %s, want still queued", got)
	}
	active, _ := cs.ActiveCount(ctx)
	if active != 0 {
		t.Fatalf("slot still held after defer")
	}
}

func TestRetryableTaxonomy(t *testing.T) {
	for _, tc := range []struct {
		err  error
		want bool
	}{
		{Errf(KindTransient, "io"), true},
		{Errf(KindCoordination, "redis timeout"), true},
		{Errf(KindProcessorDown, "model gone"), true},
		{Errf(KindSoftTimeout, "25m"), true},
		{Errf(KindHardTimeout, "30m"), false},
		{Errf(KindMalformedBook, "bad zip"), false},
		{Errf(KindPolicy, "tier"), false},
		{Errf(KindQuota, "limit"), false},
		{Errf(KindCancelled, "user"), false},
		{errors.New("unclassified"), true},
	} {
		if got := Retryable(tc.err); got != tc.want {
			t.Errorf("Retryable(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestSweepRequeuesAbandonedJob(t *testing.T) {
	jobs := newMemJobStore()
	pool, cs, mr := newTestPool(t, jobs, &scriptedPipe{})
	_ = pool
	task := seedJob(t, jobs, cs, "job1")

	ctx := context.Background()
	if err := cs.MarkProcessing(ctx, task, time.Second); err != nil {
		t.Fatalf("MarkProcessing: %v", err)
	}
	mr.FastForward(2 * time.Second) // heartbeat expires, worker is "dead"

	sw := NewSweeper(cs, jobs, workerConfig(), nil, slog.Default())
	sw.SweepOnce()

	if jobs.requeues != 1 {
		t.Fatalf("requeues = %d, want 1", jobs.requeues)
	}
	qlen, err := cs.QueueLen(ctx)
	if err != nil {
		t.Fatalf("QueueLen: %v", err)
	}
	if qlen != 1 {
		t.Fatalf("queue len = %d, want requeued task", qlen)
	}
	active, err := cs.ActiveCount(ctx)
	if err != nil {
		t.Fatalf("ActiveCount: %v", err)
	}
	if active != 0 {
		t.Fatalf("abandoned slot not released")
	}
}

func TestSweepFailsJobOutOfAttempts(t *testing.T) {
	jobs := newMemJobStore()
	_, cs, mr := newTestPool(t, jobs, &scriptedPipe{})
	task := seedJob(t, jobs, cs, "job1")
	task.Attempts = 2 // next start would be the 4th

	ctx := context.Background()
	if err := cs.MarkProcessing(ctx, task, time.Second); err != nil {
		t.Fatalf("MarkProcessing: %v", err)
	}
	mr.FastForward(2 * time.Second)

	sw := NewSweeper(cs, jobs, workerConfig(), nil, slog.Default())
	sw.SweepOnce()

	if got := jobs.state("job1"); got != types.JobFailed {
		t.Fatalf("state = %s, want failed when out of attempts", got)
	}
	qlen, _ := cs.QueueLen(ctx)
	if qlen != 0 {
		t.Fatalf("queue len = %d, want 0", qlen)
	}
}
