// Package images emits image generation requests to the downstream
// subsystem. Requests are queued, batched and flushed asynchronously; the
// idempotency key on each request makes re-emission from retried chapters
// safe.
package images

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sandk0/fancai-vibe-hackathon-sub002/internal/types"
)

// Sink persists batches of pending generation requests. Implemented by the
// Postgres store.
type Sink interface {
	InsertImageRequests(ctx context.Context, reqs []types.ImageGenerationRequest) (int64, error)
}

// Config configures the dispatcher.
type Config struct {
	Sink          Sink
	BatchSize     int           // flush after N requests (default 50)
	FlushInterval time.Duration // or after this long (default 2s)
	QueueSize     int           // buffer size (default 500)
	Logger        *slog.Logger
}

// Dispatcher batches image generation requests and flushes them to the sink.
type Dispatcher struct {
	sink   Sink
	logger *slog.Logger

	batchSize     int
	flushInterval time.Duration

	queue   chan types.ImageGenerationRequest
	batch   []types.ImageGenerationRequest
	batchMu sync.Mutex
	flushCh chan struct{}

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewDispatcher creates a dispatcher. Call Start before dispatching.
func NewDispatcher(cfg Config) *Dispatcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 2 * time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 500
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Dispatcher{
		sink:          cfg.Sink,
		logger:        cfg.Logger.With("component", "images"),
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		queue:         make(chan types.ImageGenerationRequest, cfg.QueueSize),
		batch:         make([]types.ImageGenerationRequest, 0, cfg.BatchSize),
		flushCh:       make(chan struct{}, 1),
	}
}

// Start begins the background batcher.
func (d *Dispatcher) Start(ctx context.Context) {
	d.ctx, d.cancel = context.WithCancel(ctx)
	d.wg.Add(1)
	go d.runBatcher()
}

// Stop drains the queue, flushes the final batch and shuts down.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		d.logger.Info("stopping dispatcher, flushing remaining requests")
		close(d.queue)
		d.wg.Wait()
		d.cancel()
	})
}

// Dispatch queues a batch of requests. Blocks when the buffer is full until
// space frees up or the context ends.
func (d *Dispatcher) Dispatch(ctx context.Context, reqs []types.ImageGenerationRequest) error {
	for _, r := range reqs {
		select {
		case d.queue <- r:
		case <-d.ctx.Done():
			return fmt.Errorf("dispatcher stopped")
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Flush forces an immediate flush of the current batch.
func (d *Dispatcher) Flush() {
	select {
	case d.flushCh <- struct{}{}:
	default:
		// flush already pending
	}
}

func (d *Dispatcher) runBatcher() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case req, ok := <-d.queue:
			if !ok {
				d.flushBatch()
				return
			}
			d.addToBatch(req)

		case <-ticker.C:
			d.flushBatch()

		case <-d.flushCh:
			d.flushBatch()
		}
	}
}

func (d *Dispatcher) addToBatch(req types.ImageGenerationRequest) {
	d.batchMu.Lock()
	d.batch = append(d.batch, req)
	shouldFlush := len(d.batch) >= d.batchSize
	d.batchMu.Unlock()

	if shouldFlush {
		d.flushBatch()
	}
}

func (d *Dispatcher) flushBatch() {
	d.batchMu.Lock()
	if len(d.batch) == 0 {
		d.batchMu.Unlock()
		return
	}
	reqs := d.batch
	d.batch = make([]types.ImageGenerationRequest, 0, d.batchSize)
	d.batchMu.Unlock()

	n, err := d.sink.InsertImageRequests(d.ctx, reqs)
	if err != nil {
		// The chapter that produced these is already persisted; a retried
		// job re-emits with the same idempotency keys.
		d.logger.Error("image request flush failed", "count", len(reqs), "error", err)
		return
	}
	d.logger.Debug("image requests flushed", "sent", len(reqs), "new", n)
}
