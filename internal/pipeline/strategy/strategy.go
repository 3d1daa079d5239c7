// Package strategy implements the orchestration patterns over NLP
// processors: single, parallel, sequential, ensemble and adaptive. A factory
// resolves the configured mode and caches strategy instances.
package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sandk0/fancai-vibe-hackathon-sub002/internal/processor"
)

// Mode selects the processing strategy.
type Mode string

const (
	ModeSingle     Mode = "single"
	ModeParallel   Mode = "parallel"
	ModeSequential Mode = "sequential"
	ModeEnsemble   Mode = "ensemble"
	ModeAdaptive   Mode = "adaptive"
)

// ParseMode validates a mode string, defaulting to adaptive.
func ParseMode(s string) Mode {
	switch Mode(s) {
	case ModeSingle, ModeParallel, ModeSequential, ModeEnsemble, ModeAdaptive:
		return Mode(s)
	}
	return ModeAdaptive
}

// Result is a strategy's output: merged raw descriptions plus per-processor
// errors. Processor errors are recorded, never fatal, as long as at least one
// processor produced output.
type Result struct {
	Raws            []processor.RawDescription
	ProcessorErrors map[string]string
	Used            []string
	ModeApplied     Mode
}

// Strategy extracts raw descriptions from chapter text.
type Strategy interface {
	Mode() Mode
	Extract(ctx context.Context, text, chapterID string) (*Result, error)
}

// downDuration is how long a failing processor stays marked unavailable.
const downDuration = 5 * time.Minute

// Factory resolves modes to cached strategy instances.
type Factory struct {
	mu       sync.Mutex
	cache    map[Mode]Strategy
	registry *processor.Registry
	models   *processor.ModelCache
	logger   *slog.Logger

	maxParallel        int
	consensusThreshold float64
}

// FactoryConfig configures a strategy factory.
type FactoryConfig struct {
	Registry           *processor.Registry
	Models             *processor.ModelCache
	MaxParallel        int
	ConsensusThreshold float64
	Logger             *slog.Logger
}

// NewFactory creates a factory over the given processor registry.
func NewFactory(cfg FactoryConfig) *Factory {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxParallel := cfg.MaxParallel
	if maxParallel <= 0 {
		maxParallel = 3
	}
	threshold := cfg.ConsensusThreshold
	if threshold <= 0 {
		threshold = 0.5
	}
	return &Factory{
		cache:              make(map[Mode]Strategy),
		registry:           cfg.Registry,
		models:             cfg.Models,
		logger:             logger.With("component", "strategy"),
		maxParallel:        maxParallel,
		consensusThreshold: threshold,
	}
}

// Resolve returns the cached strategy for a mode, creating it on first use.
func (f *Factory) Resolve(mode Mode) Strategy {
	f.mu.Lock()
	defer f.mu.Unlock()

	if s, ok := f.cache[mode]; ok {
		return s
	}

	var s Strategy
	switch mode {
	case ModeSingle:
		s = &singleStrategy{f: f}
	case ModeParallel:
		s = &parallelStrategy{f: f}
	case ModeSequential:
		s = &sequentialStrategy{f: f}
	case ModeEnsemble:
		s = &ensembleStrategy{f: f}
	default:
		s = &adaptiveStrategy{f: f}
	}
	f.cache[mode] = s
	return s
}

// runOne loads and invokes a single processor, applying its confidence
// threshold and stamping the source name. A failure marks the processor down
// so subsequent fallbacks skip it.
func (f *Factory) runOne(ctx context.Context, p processor.Processor, text, chapterID string) ([]processor.RawDescription, error) {
	if f.models != nil {
		if err := f.models.Ensure(ctx, p); err != nil {
			f.registry.MarkDown(p.Name(), downDuration)
			return nil, err
		}
	}

	raws, err := p.Extract(ctx, text, chapterID)
	if err != nil {
		f.registry.MarkDown(p.Name(), downDuration)
		return nil, fmt.Errorf("processor %s: %w", p.Name(), err)
	}

	threshold := f.registry.Config(p.Name()).Threshold
	out := raws[:0]
	for _, r := range raws {
		if r.Confidence < threshold {
			continue
		}
		r.Source = p.Name()
		out = append(out, r)
	}
	return out, nil
}
