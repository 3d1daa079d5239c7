package processor

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/sandk0/fancai-vibe-hackathon-sub002/internal/types"
)

// PatternProcessor finds descriptive prose by cue-word patterns: stative
// verbs, spatial prepositions and rich adjective density. It emits generic
// uppercase labels (LOCATION, OBJECT, SCENE).
type PatternProcessor struct {
	loaded atomic.Bool
}

// NewPatternProcessor creates the pattern-based extractor.
func NewPatternProcessor() *PatternProcessor {
	return &PatternProcessor{}
}

var (
	stativeCues = []string{
		" stood ", " rose ", " towered ", " stretched ", " lay ", " hung ",
		" loomed ", " sprawled ", " was covered ", " were covered ", " glittered ",
		" gleamed ", " shone ", " rested ", " sat upon ", " wound ", " opened onto ",
	}
	locationCues = []string{
		"castle", "forest", "mountain", "river", "village", "city", "tower",
		"hall", "valley", "garden", "road", "street", "house", "room", "chamber",
		"field", "shore", "harbor", "bridge", "courtyard", "meadow", "cliff",
	}
	objectCues = []string{
		"sword", "cloak", "ring", "lantern", "table", "chair", "mirror", "chest",
		"book", "goblet", "carriage", "banner", "blade", "jewel", "candle", "door",
	}
	richAdjectives = []string{
		"ancient", "vast", "towering", "crumbling", "gilded", "ornate", "shadowed",
		"weathered", "immense", "narrow", "winding", "moss-covered", "marble",
		"crimson", "silver", "golden", "emerald", "pale", "dark", "massive",
	}
)

func (p *PatternProcessor) Name() string { return "pattern" }

// IsAvailable is a hot check; the pattern tables are compiled in.
func (p *PatternProcessor) IsAvailable() bool { return true }

// Load is idempotent; the pattern processor has no external model.
func (p *PatternProcessor) Load(ctx context.Context) error {
	p.loaded.Store(true)
	return nil
}

// Labels maps the processor's native labels to unified types.
func (p *PatternProcessor) Labels() LabelTable {
	return LabelTable{
		"LOCATION": types.TypeLocation,
		"OBJECT":   types.TypeObject,
		"SCENE":    types.TypeAtmosphere,
	}
}

// Extract scans sentences for descriptive patterns.
func (p *PatternProcessor) Extract(ctx context.Context, text, chapterID string) ([]RawDescription, error) {
	var out []RawDescription
	for _, sent := range SplitSentences(text) {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		lower := " " + strings.ToLower(sent.Text) + " "

		adjCount := countMatches(lower, richAdjectives)
		hasStative := containsAny(lower, stativeCues)
		if !hasStative && adjCount < 2 {
			continue
		}

		label := "SCENE"
		switch {
		case containsAny(lower, locationCues):
			label = "LOCATION"
		case containsAny(lower, objectCues):
			label = "OBJECT"
		}

		conf := 0.4
		if hasStative {
			conf += 0.2
		}
		conf += 0.1 * float64(adjCount)
		if conf > 0.95 {
			conf = 0.95
		}

		out = append(out, RawDescription{
			Content:    sent.Text,
			Label:      label,
			Confidence: conf,
			Start:      sent.Start,
			End:        sent.End,
		})
	}
	return out, nil
}
