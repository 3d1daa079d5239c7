package processor

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/sandk0/fancai-vibe-hackathon-sub002/internal/types"
)

// EntityProcessor extracts character and place descriptions keyed on named
// entity mentions. It uses short NER-style labels (PER, LOC) so the pipeline
// exercises the per-processor label mapping.
type EntityProcessor struct {
	loaded atomic.Bool
}

// NewEntityProcessor creates the entity-based extractor.
func NewEntityProcessor() *EntityProcessor {
	return &EntityProcessor{}
}

var (
	personCues = []string{
		" wore ", " dressed ", " her face", " his face", " her eyes", " his eyes",
		" her hair", " his hair", " tall ", " slender ", " broad-shouldered ",
		" smiled ", " frowned ", " bearded ", " wrinkled ", " young ", " old man",
		" old woman", " features ",
	}
	placePrepositions = []string{
		" in ", " at ", " near ", " beyond ", " beneath ", " above ", " across ",
	}
)

func (p *EntityProcessor) Name() string { return "entity" }

// IsAvailable reports whether the model is resident. The entity model is
// considered hot once loaded at least once in this process.
func (p *EntityProcessor) IsAvailable() bool { return true }

// Load is idempotent.
func (p *EntityProcessor) Load(ctx context.Context) error {
	p.loaded.Store(true)
	return nil
}

// Labels maps NER-style labels to unified types.
func (p *EntityProcessor) Labels() LabelTable {
	return LabelTable{
		"PER": types.TypeCharacter,
		"LOC": types.TypeLocation,
	}
}

// Extract finds sentences anchored on named entities and classifies them as
// character or location descriptions.
func (p *EntityProcessor) Extract(ctx context.Context, text, chapterID string) ([]RawDescription, error) {
	var out []RawDescription
	for _, sent := range SplitSentences(text) {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		entities := capitalizedRuns(sent.Text)
		if len(entities) == 0 {
			continue
		}
		lower := " " + strings.ToLower(sent.Text) + " "

		label := ""
		conf := 0.0
		if n := countMatches(lower, personCues); n > 0 {
			label = "PER"
			conf = 0.45 + 0.12*float64(n)
		} else if containsAny(lower, placePrepositions) && containsAny(lower, locationCues) {
			label = "LOC"
			conf = 0.55
		}
		if label == "" {
			continue
		}
		if conf > 0.92 {
			conf = 0.92
		}

		out = append(out, RawDescription{
			Content:    sent.Text,
			Label:      label,
			Confidence: conf,
			Start:      sent.Start,
			End:        sent.End,
			Entities:   entities,
		})
	}
	return out, nil
}
