package strategy

import (
	"strings"
	"unicode"

	"github.com/sandk0/fancai-vibe-hackathon-sub002/internal/processor"
)

// Complexity thresholds for adaptive strategy selection.
const (
	complexitySimpleBelow  = 0.35
	complexityComplexAbove = 0.65
)

// TextComplexity scores input difficulty in [0,1] from five signals: average
// word length, vocabulary diversity, capitalized token share, dialogue
// markers and sentence density.
func TextComplexity(text string) float64 {
	words := strings.Fields(text)
	if len(words) == 0 {
		return 0
	}

	totalLen := 0
	capitalized := 0
	vocab := make(map[string]struct{})
	dialogueMarks := 0

	for _, w := range words {
		runes := []rune(w)
		totalLen += len(runes)
		if unicode.IsUpper(runes[0]) {
			capitalized++
		}
		vocab[strings.ToLower(strings.Trim(w, `.,!?;:"'`))] = struct{}{}
		if strings.ContainsAny(w, `"'`) || strings.HasPrefix(w, "—") {
			dialogueMarks++
		}
	}

	sentences := processor.SplitSentences(text)
	sentenceCount := len(sentences)
	if sentenceCount == 0 {
		sentenceCount = 1
	}

	// Each factor normalized to [0,1].
	avgWordLen := float64(totalLen) / float64(len(words))
	wordLenScore := clamp01((avgWordLen - 3) / 5) // 3 chars trivial, 8+ complex

	diversity := float64(len(vocab)) / float64(len(words))

	capShare := clamp01(float64(capitalized) / float64(len(words)) * 4)

	dialogueScore := clamp01(float64(dialogueMarks) / float64(len(words)) * 10)

	wordsPerSentence := float64(len(words)) / float64(sentenceCount)
	densityScore := clamp01((wordsPerSentence - 5) / 25) // 5 wps trivial, 30+ complex

	return clamp01((wordLenScore + diversity + capShare + dialogueScore + densityScore) / 5)
}

// ModeForComplexity maps a complexity score to a concrete strategy mode.
func ModeForComplexity(score float64) Mode {
	switch {
	case score < complexitySimpleBelow:
		return ModeSingle
	case score > complexityComplexAbove:
		return ModeEnsemble
	default:
		return ModeParallel
	}
}
