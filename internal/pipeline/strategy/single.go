package strategy

import "context"

// singleStrategy uses the highest-ranked enabled processor, falling back to
// the next available one when it fails.
type singleStrategy struct {
	f *Factory
}

func (s *singleStrategy) Mode() Mode { return ModeSingle }

func (s *singleStrategy) Extract(ctx context.Context, text, chapterID string) (*Result, error) {
	res := &Result{ProcessorErrors: make(map[string]string), ModeApplied: ModeSingle}

	enabled := s.f.registry.Enabled()
	if len(enabled) == 0 {
		return res, ErrNoProcessors
	}

	for _, p := range enabled {
		raws, err := s.f.runOne(ctx, p, text, chapterID)
		if err != nil {
			res.ProcessorErrors[p.Name()] = err.Error()
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			continue
		}
		res.Raws = raws
		res.Used = []string{p.Name()}
		return res, nil
	}

	// Every candidate failed.
	return res, ErrNoProcessors
}
