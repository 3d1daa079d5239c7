package processor

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/sandk0/fancai-vibe-hackathon-sub002/internal/config"
)

// Registry holds processors by stable name together with their configuration.
// Configuration is seeded from defaults at startup and refreshed on admin
// update; a failed refresh keeps the previous records.
type Registry struct {
	mu         sync.RWMutex
	processors map[string]Processor
	configs    map[string]config.ProcessorConfig
	downUntil  map[string]time.Time
	logger     *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		processors: make(map[string]Processor),
		configs:    make(map[string]config.ProcessorConfig),
		downUntil:  make(map[string]time.Time),
		logger:     logger.With("component", "processors"),
	}
}

// Register adds a processor with its configuration record.
func (r *Registry) Register(p Processor, cfg config.ProcessorConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := p.Name()
	if _, exists := r.processors[name]; exists {
		return fmt.Errorf("processor already registered: %s", name)
	}
	r.processors[name] = p
	r.configs[name] = cfg
	r.logger.Info("processor registered", "name", name, "enabled", cfg.Enabled, "weight", cfg.Weight, "rank", cfg.PriorityRank)
	return nil
}

// Get returns a processor by name.
func (r *Registry) Get(name string) (Processor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.processors[name]
	return p, ok
}

// Config returns the configuration record for a processor. The zero value is
// returned for unknown names.
func (r *Registry) Config(name string) config.ProcessorConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.configs[name]
}

// UpdateConfigs replaces configuration records wholesale. Unknown names are
// ignored; registered processors missing from the update keep their record.
func (r *Registry) UpdateConfigs(configs map[string]config.ProcessorConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, cfg := range configs {
		if _, ok := r.processors[name]; !ok {
			continue
		}
		r.configs[name] = cfg
	}
	r.logger.Info("processor configs refreshed", "count", len(configs))
}

// MarkDown records a processor as unavailable for the given duration.
// Strategies call this when a processor fails so fallbacks skip it.
func (r *Registry) MarkDown(name string, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.downUntil[name] = time.Now().Add(d)
	r.logger.Warn("processor marked down", "name", name, "for", d)
}

// Available reports whether a processor is enabled, not marked down, and
// passes its own hot availability check.
func (r *Registry) Available(name string) bool {
	r.mu.RLock()
	p, ok := r.processors[name]
	cfg := r.configs[name]
	until := r.downUntil[name]
	r.mu.RUnlock()

	if !ok || !cfg.Enabled {
		return false
	}
	if time.Now().Before(until) {
		return false
	}
	return p.IsAvailable()
}

// Enabled returns all enabled, available processors ordered by descending
// priority rank (highest rank first). Name breaks ties for determinism.
func (r *Registry) Enabled() []Processor {
	r.mu.RLock()
	names := make([]string, 0, len(r.processors))
	for name := range r.processors {
		names = append(names, name)
	}
	r.mu.RUnlock()

	var out []Processor
	for _, name := range names {
		if r.Available(name) {
			p, _ := r.Get(name)
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ri := r.Config(out[i].Name()).PriorityRank
		rj := r.Config(out[j].Name()).PriorityRank
		if ri != rj {
			return ri > rj
		}
		return out[i].Name() < out[j].Name()
	})
	return out
}

// Weight returns the voting weight for a processor.
func (r *Registry) Weight(name string) float64 {
	return r.Config(name).Weight
}
