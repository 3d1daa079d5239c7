package strategy

import (
	"sort"
	"strconv"
	"strings"

	"github.com/sandk0/fancai-vibe-hackathon-sub002/internal/processor"
)

// maxContextSnippets caps how many alternate snippets enrich a
// representative's context.
const maxContextSnippets = 2

// voteCluster groups overlapping descriptions from different processors.
type voteCluster struct {
	members []processor.RawDescription
}

// Voter performs weighted consensus voting over per-processor outputs.
type Voter struct {
	registry  *processor.Registry
	threshold float64
}

// NewVoter creates a consensus voter with the given acceptance threshold
// expressed as a fraction of the summed processor weights.
func NewVoter(registry *processor.Registry, threshold float64) *Voter {
	if threshold <= 0 {
		threshold = 0.5
	}
	return &Voter{registry: registry, threshold: threshold}
}

// Vote clusters descriptions across processors, accepts clusters whose
// weighted agreement clears the threshold, and returns one representative
// per surviving cluster with consensus-adjusted confidence.
func (v *Voter) Vote(outputs []procOutput) []processor.RawDescription {
	totalWeight := 0.0
	var all []processor.RawDescription
	for _, o := range outputs {
		if o.err != nil {
			continue
		}
		totalWeight += v.registry.Weight(o.name)
		all = append(all, o.raws...)
	}
	if totalWeight <= 0 || len(all) == 0 {
		return nil
	}

	clusters := clusterBySimilarity(all)

	var out []processor.RawDescription
	for _, c := range clusters {
		voteSum := 0.0
		seen := make(map[string]bool)
		for _, m := range c.members {
			// One vote per processor per cluster: the strongest mention wins.
			if seen[m.Source] {
				continue
			}
			seen[m.Source] = true
			voteSum += v.registry.Weight(m.Source) * m.Confidence
		}
		agreement := voteSum / totalWeight
		if agreement < v.threshold {
			continue
		}

		rep := v.representative(c.members)
		rep.Confidence = clamp01(agreement)
		rep.Context = enrichContext(rep, c.members)
		if rep.Metadata == nil {
			rep.Metadata = make(map[string]string)
		}
		// Priority scoring reads the source count and boosts multi-source
		// descriptions; confidence stays the clamped agreement.
		rep.Metadata["consensus_sources"] = strconv.Itoa(len(seen))

		out = append(out, toContextual(rep))
	}
	return out
}

// contextual wraps RawDescription with the enriched context string; the raw
// type has no Context field, so we store it in metadata.
func toContextual(r repCandidate) processor.RawDescription {
	raw := r.RawDescription
	if r.Context != "" {
		if raw.Metadata == nil {
			raw.Metadata = make(map[string]string)
		}
		raw.Metadata["context"] = r.Context
	}
	return raw
}

// repCandidate is a representative with accumulated context.
type repCandidate struct {
	processor.RawDescription
	Context string
}

// representative picks the member with the highest confidence x weight;
// ties prefer the processor with the higher priority rank.
func (v *Voter) representative(members []processor.RawDescription) repCandidate {
	best := members[0]
	bestScore := best.Confidence * v.registry.Weight(best.Source)
	for _, m := range members[1:] {
		score := m.Confidence * v.registry.Weight(m.Source)
		if score > bestScore {
			best, bestScore = m, score
			continue
		}
		if score == bestScore {
			if v.registry.Config(m.Source).PriorityRank > v.registry.Config(best.Source).PriorityRank {
				best = m
			}
		}
	}
	return repCandidate{RawDescription: best}
}

// enrichContext concatenates unique snippets from other cluster members,
// size-capped.
func enrichContext(rep repCandidate, members []processor.RawDescription) string {
	var snippets []string
	seen := map[string]bool{processor.NormalizeText(rep.Content): true}
	for _, m := range members {
		norm := processor.NormalizeText(m.Content)
		if seen[norm] {
			continue
		}
		seen[norm] = true
		snippets = append(snippets, m.Content)
		if len(snippets) >= maxContextSnippets {
			break
		}
	}
	return strings.Join(snippets, " | ")
}

// clusterBySimilarity groups descriptions whose identity matches: trigram
// Jaccard >= 0.8 with overlapping char ranges, or identical normalized
// content.
func clusterBySimilarity(raws []processor.RawDescription) []voteCluster {
	// Stable order keeps clustering deterministic.
	sorted := make([]processor.RawDescription, len(raws))
	copy(sorted, raws)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Start != sorted[j].Start {
			return sorted[i].Start < sorted[j].Start
		}
		return sorted[i].Source < sorted[j].Source
	})

	var clusters []voteCluster
	for _, r := range sorted {
		placed := false
		for i := range clusters {
			if sameIdentity(clusters[i].members[0], r) {
				clusters[i].members = append(clusters[i].members, r)
				placed = true
				break
			}
		}
		if !placed {
			clusters = append(clusters, voteCluster{members: []processor.RawDescription{r}})
		}
	}
	return clusters
}

func sameIdentity(a, b processor.RawDescription) bool {
	if processor.NormalizeText(a.Content) == processor.NormalizeText(b.Content) {
		return true
	}
	return processor.TrigramJaccard(a.Content, b.Content) >= 0.8 &&
		processor.RangesOverlap(a.Start, a.End, b.Start, b.End)
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
