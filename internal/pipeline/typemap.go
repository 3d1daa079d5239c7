package pipeline

import (
	"strings"

	"github.com/sandk0/fancai-vibe-hackathon-sub002/internal/processor"
	"github.com/sandk0/fancai-vibe-hackathon-sub002/internal/types"
)

// typeMapper translates processor-native labels into unified description
// types. Each processor publishes its own table; unknown labels fall back to
// keyword inference over the description content.
type typeMapper struct {
	tables map[string]processor.LabelTable
}

func newTypeMapper(reg *processor.Registry) *typeMapper {
	m := &typeMapper{tables: make(map[string]processor.LabelTable)}
	for _, p := range reg.Enabled() {
		if labeled, ok := p.(processor.Labeled); ok {
			m.tables[p.Name()] = labeled.Labels()
		}
	}
	return m
}

// Map resolves the unified type for a raw description. Precedence: type set
// by the processor itself, then the processor's label table, then keyword
// inference.
func (m *typeMapper) Map(raw processor.RawDescription) types.DescriptionType {
	if raw.Type != "" {
		return raw.Type
	}
	if table, ok := m.tables[raw.Source]; ok {
		if t, ok := table[strings.ToUpper(raw.Label)]; ok {
			return t
		}
		if t, ok := table[raw.Label]; ok {
			return t
		}
	}
	return inferType(raw.Content)
}

var (
	inferLocation = []string{
		"castle", "forest", "mountain", "river", "village", "city", "tower",
		"valley", "garden", "road", "street", "house", "room", "hall", "shore",
		"bridge", "field", "courtyard",
	}
	inferCharacter = []string{
		"his face", "her face", "his eyes", "her eyes", "he wore", "she wore",
		"tall man", "young woman", "old man", "his hair", "her hair", "figure of",
	}
	inferObject = []string{
		"sword", "cloak", "ring", "lantern", "table", "mirror", "chest", "book",
		"goblet", "blade", "candle", "banner", "carriage",
	}
	inferAction = []string{
		"ran", "leapt", "struck", "galloped", "charged", "fled", "fought",
		"climbed", "hurled", "swung",
	}
)

// inferType guesses a unified type from content keywords. Concrete types are
// tried first; atmosphere is the generic bucket and comes last.
func inferType(content string) types.DescriptionType {
	lower := strings.ToLower(content)
	switch {
	case keywordHits(lower, inferLocation) > 0:
		return types.TypeLocation
	case keywordHits(lower, inferCharacter) > 0:
		return types.TypeCharacter
	case keywordHits(lower, inferObject) > 0:
		return types.TypeObject
	case keywordHits(lower, inferAction) > 1:
		return types.TypeAction
	}
	return types.TypeAtmosphere
}

func keywordHits(lower string, terms []string) int {
	n := 0
	for _, t := range terms {
		if strings.Contains(lower, t) {
			n++
		}
	}
	return n
}
