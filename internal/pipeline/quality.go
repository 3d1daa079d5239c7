package pipeline

import (
	"strings"

	"github.com/sandk0/fancai-vibe-hackathon-sub002/internal/processor"
)

// QualityWeights configures the relative weight of each quality factor.
// The zero value means equal weighting.
type QualityWeights struct {
	Clarity   float64
	Detail    float64
	Emotion   float64
	Coherence float64
	Literary  float64
}

func (w QualityWeights) normalized() QualityWeights {
	sum := w.Clarity + w.Detail + w.Emotion + w.Coherence + w.Literary
	if sum <= 0 {
		return QualityWeights{Clarity: 0.2, Detail: 0.2, Emotion: 0.2, Coherence: 0.2, Literary: 0.2}
	}
	return QualityWeights{
		Clarity:   w.Clarity / sum,
		Detail:    w.Detail / sum,
		Emotion:   w.Emotion / sum,
		Coherence: w.Coherence / sum,
		Literary:  w.Literary / sum,
	}
}

// QualityScore holds the five per-factor scores plus the weighted overall.
type QualityScore struct {
	Clarity   float64
	Detail    float64
	Emotion   float64
	Coherence float64
	Literary  float64
	Overall   float64
}

var (
	emotionTerms = []string{
		"fear", "joy", "dread", "sorrow", "wonder", "terror", "delight", "grief",
		"longing", "fury", "despair", "hope", "awe", "melancholy", "unease",
	}
	coherenceConnectives = []string{
		"because", "therefore", "while", "beyond", "beneath", "above", "within",
		"where", "amid", "between", "against", "toward",
	}
	literaryCues = []string{
		"like a", "as if", "as though", "seemed to", "whisper", "shimmer",
		"echo", "gloom", "luminous", "spectral", "velvet", "silhouette",
	}
	detailAdjectives = []string{
		"ancient", "vast", "towering", "crumbling", "gilded", "ornate", "shadowed",
		"weathered", "immense", "narrow", "winding", "marble", "crimson", "silver",
		"golden", "emerald", "pale", "dark", "massive", "faded", "jagged",
	}
)

// ScoreQuality computes the five-factor quality score for a description's
// content. Every factor is derived from text features alone.
func ScoreQuality(content string, weights QualityWeights) QualityScore {
	lower := strings.ToLower(content)
	words := strings.Fields(content)
	wordCount := len(words)
	if wordCount == 0 {
		return QualityScore{}
	}

	var q QualityScore

	// Clarity: penalize fragments and run-ons; the sweet spot is 12-35 words.
	switch {
	case wordCount < 6:
		q.Clarity = 0.2
	case wordCount <= 35:
		q.Clarity = 1.0
	case wordCount <= 60:
		q.Clarity = 0.7
	default:
		q.Clarity = 0.4
	}

	// Detail richness: density of concrete modifiers.
	adjDensity := float64(keywordHits(lower, detailAdjectives)) / float64(wordCount) * 12
	q.Detail = clamp01(adjDensity)

	// Emotional tone: any emotive vocabulary scores, more scores higher.
	q.Emotion = clamp01(float64(keywordHits(lower, emotionTerms)) * 0.4)

	// Contextual coherence: connectives and spatial anchors tie the span to
	// its surroundings.
	q.Coherence = clamp01(0.3 + float64(keywordHits(lower, coherenceConnectives))*0.25)

	// Literary quality: figurative language and sensory vocabulary.
	q.Literary = clamp01(float64(keywordHits(lower, literaryCues)) * 0.35)
	if len(processor.SplitSentences(content)) > 1 {
		q.Literary = clamp01(q.Literary + 0.15)
	}

	w := weights.normalized()
	q.Overall = clamp01(q.Clarity*w.Clarity + q.Detail*w.Detail + q.Emotion*w.Emotion +
		q.Coherence*w.Coherence + q.Literary*w.Literary)
	return q
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
