package strategy

import "context"

// ensembleStrategy runs processors in parallel and applies weighted
// consensus voting. With fewer than two available processors it degrades to
// plain parallel execution, which in turn can degrade to sequential.
type ensembleStrategy struct {
	f *Factory
}

func (s *ensembleStrategy) Mode() Mode { return ModeEnsemble }

func (s *ensembleStrategy) Extract(ctx context.Context, text, chapterID string) (*Result, error) {
	if len(s.f.registry.Enabled()) < 2 {
		res, err := s.f.Resolve(ModeParallel).Extract(ctx, text, chapterID)
		if res != nil {
			res.ModeApplied = ModeParallel
		}
		return res, err
	}

	outputs := s.f.runAll(ctx, text, chapterID, true)
	res := mergeOutputs(outputs, ModeEnsemble)
	if len(res.Used) == 0 {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		return res, ErrNoProcessors
	}

	// Voting needs at least two live sources; otherwise consensus against
	// the full weight sum would starve the single survivor.
	if len(res.Used) < 2 {
		return res, nil
	}

	voter := NewVoter(s.f.registry, s.f.consensusThreshold)
	res.Raws = voter.Vote(outputs)
	return res, nil
}
