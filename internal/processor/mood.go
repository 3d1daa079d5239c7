package processor

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/sandk0/fancai-vibe-hackathon-sub002/internal/types"
)

// MoodProcessor targets atmosphere and action prose via an emotional and
// kinetic lexicon. Its native labels are lowercase words, unlike the other
// processors, which keeps the type mapping honest.
type MoodProcessor struct {
	loaded atomic.Bool
}

// NewMoodProcessor creates the mood-based extractor.
func NewMoodProcessor() *MoodProcessor {
	return &MoodProcessor{}
}

var (
	atmosphereLexicon = []string{
		"gloomy", "mist", "fog", "silence", "silent", "eerie", "dread", "chill",
		"warmth", "twilight", "dusk", "dawn", "shadow", "storm", "thunder",
		"drizzle", "heavy air", "stale air", "candlelight", "moonlight", "hush",
		"oppressive", "serene", "melancholy", "forlorn",
	}
	actionLexicon = []string{
		"ran", "leapt", "charged", "galloped", "struck", "swung", "hurled",
		"sprinted", "crashed", "burst", "fled", "chased", "fought", "collided",
		"scrambled", "dashed", "stumbled",
	}
)

func (p *MoodProcessor) Name() string { return "mood" }

// IsAvailable is a hot check.
func (p *MoodProcessor) IsAvailable() bool { return true }

// Load is idempotent.
func (p *MoodProcessor) Load(ctx context.Context) error {
	p.loaded.Store(true)
	return nil
}

// Labels maps the lexicon labels to unified types.
func (p *MoodProcessor) Labels() LabelTable {
	return LabelTable{
		"atmosphere": types.TypeAtmosphere,
		"action":     types.TypeAction,
	}
}

// Extract scans for sentences dominated by atmosphere or action vocabulary.
func (p *MoodProcessor) Extract(ctx context.Context, text, chapterID string) ([]RawDescription, error) {
	var out []RawDescription
	for _, sent := range SplitSentences(text) {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		lower := strings.ToLower(sent.Text)

		atm := countMatches(lower, atmosphereLexicon)
		act := countMatches(lower, actionLexicon)
		if atm == 0 && act == 0 {
			continue
		}

		label := "atmosphere"
		hits := atm
		if act > atm {
			label = "action"
			hits = act
		}

		conf := 0.35 + 0.15*float64(hits)
		if conf > 0.9 {
			conf = 0.9
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
