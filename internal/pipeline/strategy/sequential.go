package strategy

import "context"

// sequentialStrategy runs the same processors as parallel, one at a time.
// Used when memory is tight; merge behavior is identical.
type sequentialStrategy struct {
	f *Factory
}

func (s *sequentialStrategy) Mode() Mode { return ModeSequential }

func (s *sequentialStrategy) Extract(ctx context.Context, text, chapterID string) (*Result, error) {
	outputs := s.f.runAll(ctx, text, chapterID, false)
	if len(outputs) == 0 {
		return &Result{ProcessorErrors: map[string]string{}, ModeApplied: ModeSequential}, ErrNoProcessors
	}

	res := mergeOutputs(outputs, ModeSequential)
	if len(res.Used) == 0 {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		return res, ErrNoProcessors
	}
	return res, nil
}
