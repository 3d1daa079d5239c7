package types

// DescriptionType is the unified classification for extracted descriptions.
type DescriptionType string

const (
	TypeLocation   DescriptionType = "LOCATION"
	TypeCharacter  DescriptionType = "CHARACTER"
	TypeAtmosphere DescriptionType = "ATMOSPHERE"
	TypeObject     DescriptionType = "OBJECT"
	TypeAction     DescriptionType = "ACTION"
)

// DescriptionTypes lists every unified type in priority order.
var DescriptionTypes = []DescriptionType{
	TypeLocation, TypeCharacter, TypeAtmosphere, TypeObject, TypeAction,
}

// Description is a typed, scored text span extracted from a chapter.
// Immutable once written.
type Description struct {
	ID                      string          `json:"id"`
	ChapterID               string          `json:"chapter_id"`
	Type                    DescriptionType `json:"type"`
	Content                 string          `json:"content"`
	Context                 string          `json:"context,omitempty"`
	ConfidenceScore         float64         `json:"confidence_score"`
	PriorityScore           float64         `json:"priority_score"`
	PositionInChapter       int             `json:"position_in_chapter"`
	WordCount               int             `json:"word_count"`
	IsSuitableForGeneration bool            `json:"is_suitable_for_generation"`
	ImageGenerated          bool            `json:"image_generated"`
}
