package pipeline

import (
	"strconv"

	"github.com/sandk0/fancai-vibe-hackathon-sub002/internal/processor"
	"github.com/sandk0/fancai-vibe-hackathon-sub002/internal/types"
)

// typeWeights rank description types by how well they translate into
// generated images.
var typeWeights = map[types.DescriptionType]float64{
	types.TypeLocation:   1.0,
	types.TypeCharacter:  0.95,
	types.TypeAtmosphere: 0.8,
	types.TypeObject:     0.7,
	types.TypeAction:     0.6,
}

const (
	literaryBoostFloor      = 0.7
	literaryBoostMultiplier = 1.1
	consensusBoostStep      = 0.1
)

// priorityScore composes the image generation priority: confidence scaled by
// type weight, boosted for high literary quality and for agreement across
// extraction sources, capped at 1.
func priorityScore(confidence float64, typ types.DescriptionType, quality QualityScore, sources int) float64 {
	w, ok := typeWeights[typ]
	if !ok {
		w = 0.5
	}
	score := confidence * w
	if quality.Overall >= literaryBoostFloor {
		score *= literaryBoostMultiplier
	}
	if sources > 1 {
		score *= 1 + consensusBoostStep*float64(sources-1)
	}
	return clamp01(score)
}

// consensusSources reads how many extraction sources confirmed a
// description. Single-strategy output carries no marker and counts as one.
func consensusSources(raw processor.RawDescription) int {
	n, err := strconv.Atoi(raw.Metadata["consensus_sources"])
	if err != nil || n < 1 {
		return 1
	}
	return n
}
