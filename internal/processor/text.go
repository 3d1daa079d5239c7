package processor

import (
	"strings"
	"unicode"
)

// Sentence is a text span with its offsets in the source chapter.
type Sentence struct {
	Text  string
	Start int
	End   int
}

// SplitSentences breaks chapter text into sentences, keeping character
// offsets so extracted descriptions can report stable positions.
func SplitSentences(text string) []Sentence {
	var out []Sentence
	start := -1
	runes := []rune(text)

	flush := func(end int) {
		if start < 0 {
			return
		}
		s := strings.TrimSpace(string(runes[start:end]))
		if s != "" {
			out = append(out, Sentence{Text: s, Start: start, End: end})
		}
		start = -1
	}

	for i, r := range runes {
		if start < 0 && !unicode.IsSpace(r) {
			start = i
		}
		switch r {
		case '.', '!', '?':
			// Look ahead: don't split on "Mr." style abbreviations (next
			// rune lowercase) or ellipsis continuation.
			next := i + 1
			for next < len(runes) && runes[next] == r {
				next++
			}
			if next >= len(runes) || unicode.IsSpace(runes[next]) {
				flush(next)
			}
		case '\n':
			if i+1 < len(runes) && runes[i+1] == '\n' {
				flush(i)
			}
		}
	}
	flush(len(runes))
	return out
}

// WordCount counts whitespace-separated words.
func WordCount(s string) int {
	return len(strings.Fields(s))
}

// containsAny reports whether the lowercased text contains any of the terms.
func containsAny(lower string, terms []string) bool {
	for _, t := range terms {
		if strings.Contains(lower, t) {
			return true
		}
	}
	return false
}

// countMatches counts how many terms occur in the lowercased text.
func countMatches(lower string, terms []string) int {
	n := 0
	for _, t := range terms {
		if strings.Contains(lower, t) {
			n++
		}
	}
	return n
}

// capitalizedRuns extracts sequences of capitalized words that do not start
// a sentence, a cheap stand-in for named entity spans.
func capitalizedRuns(sentence string) []string {
	words := strings.Fields(sentence)
	var runs []string
	var current []string

	for i, w := range words {
		trimmed := strings.TrimFunc(w, func(r rune) bool {
			return !unicode.IsLetter(r)
		})
		isCap := trimmed != "" && unicode.IsUpper([]rune(trimmed)[0]) && i > 0
		if isCap {
			current = append(current, trimmed)
			continue
		}
		if len(current) > 0 {
			runs = append(runs, strings.Join(current, " "))
			current = nil
		}
	}
	if len(current) > 0 {
		runs = append(runs, strings.Join(current, " "))
	}
	return runs
}
