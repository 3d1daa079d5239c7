package processor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ModelCache is a per-process LRU registry for loaded processor models.
// Eviction happens on cache miss when full; entries also expire after the
// configured TTL. There is deliberately no process-wide instance: each worker
// owns its own cache.
type ModelCache struct {
	mu       sync.Mutex
	entries  map[string]*cacheEntry
	maxSize  int
	ttl      time.Duration
	logger   *slog.Logger
	evicted  int64
	hitCount int64
}

type cacheEntry struct {
	loadedAt time.Time
	lastUsed time.Time
}

// NewModelCache creates a cache with the given capacity and TTL.
func NewModelCache(maxSize int, ttl time.Duration, logger *slog.Logger) *ModelCache {
	if maxSize <= 0 {
		maxSize = 3
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ModelCache{
		entries: make(map[string]*cacheEntry),
		maxSize: maxSize,
		ttl:     ttl,
		logger:  logger.With("component", "model_cache"),
	}
}

// Ensure guarantees the processor's model is resident, loading it on a miss.
// On a miss with a full cache the least recently used entry is evicted first.
func (c *ModelCache) Ensure(ctx context.Context, p Processor) error {
	name := p.Name()

	c.mu.Lock()
	c.expireLocked()
	if e, ok := c.entries[name]; ok {
		e.lastUsed = time.Now()
		c.hitCount++
		c.mu.Unlock()
		return nil
	}
	if len(c.entries) >= c.maxSize {
		c.evictLRULocked()
	}
	c.mu.Unlock()

	// Load outside the lock: model loads can be slow.
	if err := p.Load(ctx); err != nil {
		return fmt.Errorf("load model %s: %w", name, err)
	}

	c.mu.Lock()
	now := time.Now()
	c.entries[name] = &cacheEntry{loadedAt: now, lastUsed: now}
	c.mu.Unlock()

	c.logger.Debug("model loaded", "name", name)
	return nil
}

// Preload loads the named processors eagerly, e.g. at worker start.
func (c *ModelCache) Preload(ctx context.Context, reg *Registry, names []string) {
	for _, name := range names {
		p, ok := reg.Get(name)
		if !ok {
			c.logger.Warn("preload skipped, unknown processor", "name", name)
			continue
		}
		if err := c.Ensure(ctx, p); err != nil {
			c.logger.Warn("preload failed", "name", name, "error", err)
		}
	}
}

// Clear drops every cached model. Called by the post-task hook.
func (c *ModelCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*cacheEntry)
}

// Len returns the number of resident models.
func (c *ModelCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *ModelCache) expireLocked() {
	cutoff := time.Now().Add(-c.ttl)
	for name, e := range c.entries {
		if e.lastUsed.Before(cutoff) {
			delete(c.entries, name)
			c.evicted++
		}
	}
}

func (c *ModelCache) evictLRULocked() {
	var oldest string
	var oldestAt time.Time
	for name, e := range c.entries {
		if oldest == "" || e.lastUsed.Before(oldestAt) {
			oldest = name
			oldestAt = e.lastUsed
		}
	}
	if oldest != "" {
		delete(c.entries, oldest)
		c.evicted++
		c.logger.Debug("model evicted", "name", oldest)
	}
}
