package strategy

import (
	"context"
	"errors"
	"sync"

	"github.com/sandk0/fancai-vibe-hackathon-sub002/internal/processor"
)

// ErrNoProcessors is returned when no enabled processor produced output.
var ErrNoProcessors = errors.New("no processors available")

// procOutput pairs one processor's results with its error, keyed by name.
type procOutput struct {
	name string
	raws []processor.RawDescription
	err  error
}

// runAll invokes every enabled processor. When parallel is true the calls
// fan out concurrently, bounded by max_parallel_processors; otherwise they
// run one at a time in rank order (for memory-tight sequential mode).
func (f *Factory) runAll(ctx context.Context, text, chapterID string, parallel bool) []procOutput {
	enabled := f.registry.Enabled()
	if len(enabled) == 0 {
		return nil
	}

	if !parallel {
		out := make([]procOutput, 0, len(enabled))
		for _, p := range enabled {
			raws, err := f.runOne(ctx, p, text, chapterID)
			out = append(out, procOutput{name: p.Name(), raws: raws, err: err})
			if ctx.Err() != nil {
				break
			}
		}
		return out
	}

	sem := make(chan struct{}, f.maxParallel)
	results := make([]procOutput, len(enabled))
	var wg sync.WaitGroup

	for i, p := range enabled {
		wg.Add(1)
		sem <- struct{}{} // acquire
		go func(idx int, p processor.Processor) {
			defer wg.Done()
			defer func() { <-sem }() // release

			raws, err := f.runOne(ctx, p, text, chapterID)
			results[idx] = procOutput{name: p.Name(), raws: raws, err: err}
		}(i, p)
	}
	wg.Wait()
	return results
}

// mergeOutputs flattens per-processor outputs into a Result, recording
// errors without failing the strategy.
func mergeOutputs(outputs []procOutput, mode Mode) *Result {
	res := &Result{ProcessorErrors: make(map[string]string), ModeApplied: mode}
	for _, o := range outputs {
		if o.err != nil {
			res.ProcessorErrors[o.name] = o.err.Error()
			continue
		}
		res.Raws = append(res.Raws, o.raws...)
		res.Used = append(res.Used, o.name)
	}
	return res
}

// parallelStrategy runs all enabled processors concurrently and merges.
type parallelStrategy struct {
	f *Factory
}

func (s *parallelStrategy) Mode() Mode { return ModeParallel }

func (s *parallelStrategy) Extract(ctx context.Context, text, chapterID string) (*Result, error) {
	outputs := s.f.runAll(ctx, text, chapterID, true)
	if len(outputs) == 0 {
		return &Result{ProcessorErrors: map[string]string{}, ModeApplied: ModeParallel}, ErrNoProcessors
	}

	res := mergeOutputs(outputs, ModeParallel)
	if len(res.Used) == 0 {
		// All concurrent calls failed; fall back to one sequential pass over
		// whatever the registry still considers available.
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		seq := mergeOutputs(s.f.runAll(ctx, text, chapterID, false), ModeSequential)
		if len(seq.Used) == 0 {
			return res, ErrNoProcessors
		}
		for name, msg := range res.ProcessorErrors {
			if _, ok := seq.ProcessorErrors[name]; !ok {
				seq.ProcessorErrors[name] = msg
			}
		}
		return seq, nil
	}
	return res, nil
}
