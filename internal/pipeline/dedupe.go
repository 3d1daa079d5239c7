package pipeline

import (
	"sort"

	"github.com/sandk0/fancai-vibe-hackathon-sub002/internal/processor"
)

// dedupeThreshold is the trigram Jaccard similarity at which two
// descriptions count as duplicates.
const dedupeThreshold = 0.8

// dedupeCandidates clusters near-identical candidates and keeps one per
// cluster: the highest weighted score (confidence x quality), with the
// earliest chapter position breaking exact ties. Output order follows
// position in chapter.
func dedupeCandidates(in []candidate) []candidate {
	if len(in) <= 1 {
		return in
	}

	// Position order makes clustering deterministic and makes the earliest
	// member the natural tie winner.
	sorted := make([]candidate, len(in))
	copy(sorted, in)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].raw.Start < sorted[j].raw.Start
	})

	var kept []candidate
	for _, c := range sorted {
		norm := processor.NormalizeText(c.raw.Content)
		dup := -1
		for i, k := range kept {
			if norm == processor.NormalizeText(k.raw.Content) ||
				processor.TrigramJaccard(c.raw.Content, k.raw.Content) >= dedupeThreshold {
				dup = i
				break
			}
		}
		if dup < 0 {
			kept = append(kept, c)
			continue
		}
		if c.weightedScore() > kept[dup].weightedScore() {
			kept[dup] = c
		}
	}
	return kept
}

func (c candidate) weightedScore() float64 {
	return c.raw.Confidence * c.quality.Overall
}
