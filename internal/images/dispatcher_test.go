package images

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/sandk0/fancai-vibe-hackathon-sub002/internal/types"
)

type memSink struct {
	mu      sync.Mutex
	batches [][]types.ImageGenerationRequest
	seen    map[string]bool
}

func (m *memSink) InsertImageRequests(ctx context.Context, reqs []types.ImageGenerationRequest) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen == nil {
		m.seen = make(map[string]bool)
	}
	m.batches = append(m.batches, reqs)
	var inserted int64
	for _, r := range reqs {
		if !m.seen[r.IdempotencyKey] {
			m.seen[r.IdempotencyKey] = true
			inserted++
		}
	}
	return inserted, nil
}

func (m *memSink) total() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.seen)
}

func req(key string) types.ImageGenerationRequest {
	return types.ImageGenerationRequest{
		IdempotencyKey: key,
		DescriptionID:  key,
		ChapterID:      "ch1",
		OwnerID:        "user1",
		Priority:       0.8,
	}
}

func TestDispatchFlushesOnBatchSize(t *testing.T) {
	sink := &memSink{}
	d := NewDispatcher(Config{Sink: sink, BatchSize: 2, FlushInterval: time.Hour, Logger: slog.Default()})
	d.Start(context.Background())
	defer d.Stop()

	if err := d.Dispatch(context.Background(), []types.ImageGenerationRequest{req("a"), req("b")}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for sink.total() < 2 {
		select {
		case <-deadline:
			t.Fatalf("batch never flushed, got %d requests", sink.total())
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestStopFlushesRemaining(t *testing.T) {
	sink := &memSink{}
	d := NewDispatcher(Config{Sink: sink, BatchSize: 100, FlushInterval: time.Hour, Logger: slog.Default()})
	d.Start(context.Background())

	if err := d.Dispatch(context.Background(), []types.ImageGenerationRequest{req("x")}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	d.Stop()

	if sink.total() != 1 {
		t.Fatalf("requests after stop = %d, want 1", sink.total())
	}
}

func TestDuplicateKeysCountedOnce(t *testing.T) {
	sink := &memSink{}
	d := NewDispatcher(Config{Sink: sink, BatchSize: 10, FlushInterval: time.Hour, Logger: slog.Default()})
	d.Start(context.Background())

	reqs := []types.ImageGenerationRequest{req("dup"), req("dup"), req("other")}
	if err := d.Dispatch(context.Background(), reqs); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	d.Stop()

	if sink.total() != 2 {
		t.Fatalf("unique requests = %d, want 2", sink.total())
	}
}
