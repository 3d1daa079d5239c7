package processor

import "strings"

// NormalizeText lowercases and collapses whitespace for comparison.
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// TrigramSet returns the set of character trigrams of the normalized text.
func TrigramSet(s string) map[string]struct{} {
	norm := NormalizeText(s)
	runes := []rune(norm)
	set := make(map[string]struct{})
	if len(runes) < 3 {
		if norm != "" {
			set[norm] = struct{}{}
		}
		return set
	}
	for i := 0; i+3 <= len(runes); i++ {
		set[string(runes[i:i+3])] = struct{}{}
	}
	return set
}

// TrigramJaccard computes the Jaccard similarity of two texts' trigram sets.
func TrigramJaccard(a, b string) float64 {
	sa, sb := TrigramSet(a), TrigramSet(b)
	if len(sa) == 0 || len(sb) == 0 {
		return 0
	}
	inter := 0
	for t := range sa {
		if _, ok := sb[t]; ok {
			inter++
		}
	}
	union := len(sa) + len(sb) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// RangesOverlap reports whether two [start,end) char ranges intersect.
func RangesOverlap(aStart, aEnd, bStart, bEnd int) bool {
	return aStart < bEnd && bStart < aEnd
}
