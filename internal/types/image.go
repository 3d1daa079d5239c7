package types

import "time"

// ImageService identifies the downstream image generation provider.
type ImageService string

const (
	ServicePollinations    ImageService = "pollinations"
	ServiceOpenAIDalle     ImageService = "openai_dalle"
	ServiceMidjourney      ImageService = "midjourney"
	ServiceStableDiffusion ImageService = "stable_diffusion"
	ServiceImagen          ImageService = "imagen"
)

// ImageStatus tracks a generated image through its lifecycle. Transitions are
// monotonic except failed -> pending on retry.
type ImageStatus string

const (
	ImagePending    ImageStatus = "pending"
	ImageGenerating ImageStatus = "generating"
	ImageCompleted  ImageStatus = "completed"
	ImageFailed     ImageStatus = "failed"
	ImageModerated  ImageStatus = "moderated"
)

// GeneratedImage is the persisted record for one image generation attempt.
// At least one of DescriptionID or ChapterID must be set.
type GeneratedImage struct {
	ID            string       `json:"id"`
	OwnerID       string       `json:"owner_id"`
	DescriptionID string       `json:"description_id,omitempty"`
	ChapterID     string       `json:"chapter_id,omitempty"`
	Service       ImageService `json:"service_used"`
	Status        ImageStatus  `json:"status"`
	URL           string       `json:"url,omitempty"`
	LocalPath     string       `json:"local_path,omitempty"`
	Prompt        string       `json:"prompt,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	CompletedAt   *time.Time   `json:"completed_at,omitempty"`
}

// ImageGenerationRequest is the at-least-once message emitted to the image
// subsystem for a high-priority description. IdempotencyKey is the
// description ID when present, otherwise a hash of (chapter_id, content).
type ImageGenerationRequest struct {
	IdempotencyKey  string          `json:"idempotency_key"`
	DescriptionID   string          `json:"description_id,omitempty"`
	ChapterID       string          `json:"chapter_id,omitempty"`
	DescriptionText string          `json:"description_text,omitempty"`
	DescriptionType DescriptionType `json:"description_type,omitempty"`
	OwnerID         string          `json:"owner_id"`
	Priority        float64         `json:"priority"`
}
