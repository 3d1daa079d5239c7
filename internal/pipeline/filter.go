package pipeline

// Content acceptance bounds for extracted descriptions.
const (
	minContentLen = 50
	maxContentLen = 1000
	minWordCount  = 10
	minConfidence = 0.3
)

// acceptable reports whether a candidate passes the content filter. Bounds
// are inclusive: a 50-char, 10-word span at confidence 0.3 is kept.
func acceptable(c candidate) bool {
	n := len([]rune(c.raw.Content))
	if n < minContentLen || n > maxContentLen {
		return false
	}
	if c.wordCount < minWordCount {
		return false
	}
	return c.raw.Confidence >= minConfidence
}

// filterCandidates drops candidates outside the acceptance bounds. The
// operation is idempotent: filtering an already filtered slice is a no-op.
func filterCandidates(in []candidate) []candidate {
	out := in[:0]
	for _, c := range in {
		if acceptable(c) {
			out = append(out, c)
		}
	}
	return out
}
