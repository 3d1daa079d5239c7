package strategy

import "context"

// adaptiveStrategy inspects the input and delegates to single, parallel or
// ensemble based on a computed complexity score.
type adaptiveStrategy struct {
	f *Factory
}

func (s *adaptiveStrategy) Mode() Mode { return ModeAdaptive }

func (s *adaptiveStrategy) Extract(ctx context.Context, text, chapterID string) (*Result, error) {
	score := TextComplexity(text)
	mode := ModeForComplexity(score)

	s.f.logger.Debug("adaptive strategy selected",
		"chapter_id", chapterID, "complexity", score, "mode", mode)

	res, err := s.f.Resolve(mode).Extract(ctx, text, chapterID)
	if res != nil && res.ModeApplied == "" {
		res.ModeApplied = mode
	}
	return res, err
}
