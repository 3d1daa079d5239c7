// Package processor defines the pluggable NLP processor contract, a typed
// registry with per-processor configuration, an LRU model cache and the
// built-in heuristic extractors.
package processor

import (
	"context"

	"github.com/sandk0/fancai-vibe-hackathon-sub002/internal/types"
)

// RawDescription is a single candidate span produced by a processor before
// the pipeline maps, scores and filters it.
type RawDescription struct {
	Content    string                // extracted text span
	Label      string                // processor-native entity label (may be empty)
	Type       types.DescriptionType // set when the processor already knows the unified type
	Confidence float64               // processor confidence in [0,1]
	Start      int                   // start char offset in the chapter text
	End        int                   // end char offset in the chapter text
	Entities   []string              // named entities found inside the span
	Source     string                // processor name, filled in by the strategy
	Metadata   map[string]string     // extra processor-specific data
}

// Processor is the uniform contract every NLP component implements.
// IsAvailable is a hot check and must not do heavy work; Load is idempotent
// and may allocate large resident models.
type Processor interface {
	Name() string
	IsAvailable() bool
	Load(ctx context.Context) error
	Extract(ctx context.Context, text, chapterID string) ([]RawDescription, error)
}

// LabelTable maps a processor's native labels to unified description types.
// Processors export their table so the pipeline can translate output without
// knowing processor internals.
type LabelTable map[string]types.DescriptionType

// Labeled is implemented by processors that publish a label mapping table.
type Labeled interface {
	Labels() LabelTable
}
