// Package pipeline turns chapter text into persisted, scored descriptions:
// strategy extraction, type mapping, quality scoring, filtering,
// deduplication, priority scoring, per-chapter persistence and image
// dispatch.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"

	"github.com/sandk0/fancai-vibe-hackathon-sub002/internal/config"
	"github.com/sandk0/fancai-vibe-hackathon-sub002/internal/pipeline/strategy"
	"github.com/sandk0/fancai-vibe-hackathon-sub002/internal/processor"
	"github.com/sandk0/fancai-vibe-hackathon-sub002/internal/types"
)

// Store persists a chapter's descriptions in one transaction. The write must
// be idempotent: persisting the same chapter twice leaves stored rows
// unchanged.
type Store interface {
	SaveChapterDescriptions(ctx context.Context, chapterID string, descs []types.Description) error
}

// ImageDispatcher emits generation requests for high-priority descriptions.
type ImageDispatcher interface {
	Dispatch(ctx context.Context, reqs []types.ImageGenerationRequest) error
}

// candidate is a raw description moving through the post-strategy steps.
type candidate struct {
	raw       processor.RawDescription
	typ       types.DescriptionType
	quality   QualityScore
	wordCount int
	priority  float64
}

// ChapterResult summarizes one chapter's processing.
type ChapterResult struct {
	Found      int
	Dispatched int
	Mode       strategy.Mode
	Skipped    bool
}

// Pipeline owns the description extraction flow for one worker.
type Pipeline struct {
	factory *strategy.Factory
	mapper  *typeMapper
	store   Store
	images  ImageDispatcher
	cfg     config.PipelineConfig
	logger  *slog.Logger
}

// New creates a pipeline over the given strategy factory and sinks.
func New(factory *strategy.Factory, reg *processor.Registry, store Store, images ImageDispatcher, cfg config.PipelineConfig, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		factory: factory,
		mapper:  newTypeMapper(reg),
		store:   store,
		images:  images,
		cfg:     cfg,
		logger:  logger.With("component", "pipeline"),
	}
}

// ProcessChapter runs the full extraction flow for one chapter. Service
// pages are skipped when configured; the chapter is still marked parsed so
// progress stays monotonic.
func (p *Pipeline) ProcessChapter(ctx context.Context, ch *types.Chapter, ownerID string) (*ChapterResult, error) {
	if ch.IsServicePage && p.cfg.SkipServicePages {
		if err := p.store.SaveChapterDescriptions(ctx, ch.ID, nil); err != nil {
			return nil, fmt.Errorf("mark service page %s parsed: %w", ch.ID, err)
		}
		p.logger.Debug("service page skipped", "chapter_id", ch.ID, "number", ch.Number)
		return &ChapterResult{Skipped: true}, nil
	}

	mode := strategy.ParseMode(p.cfg.ProcessingMode)
	res, err := p.factory.Resolve(mode).Extract(ctx, ch.Content, ch.ID)
	if err != nil {
		return nil, fmt.Errorf("extract chapter %s: %w", ch.ID, err)
	}
	for name, msg := range res.ProcessorErrors {
		p.logger.Warn("processor failed", "chapter_id", ch.ID, "processor", name, "error", msg)
	}

	descs := p.refine(res.Raws, ch.ID)

	if err := p.store.SaveChapterDescriptions(ctx, ch.ID, descs); err != nil {
		return nil, fmt.Errorf("persist chapter %s: %w", ch.ID, err)
	}

	dispatched, err := p.dispatchImages(ctx, descs, ownerID)
	if err != nil {
		// Requests carry idempotency keys, so a retried chapter re-emits
		// safely; the chapter itself still counts as processed.
		p.logger.Warn("image dispatch failed", "chapter_id", ch.ID, "error", err)
	}

	p.logger.Info("chapter processed",
		"chapter_id", ch.ID, "number", ch.Number, "mode", res.ModeApplied,
		"raw", len(res.Raws), "kept", len(descs), "dispatched", dispatched)

	return &ChapterResult{Found: len(descs), Dispatched: dispatched, Mode: res.ModeApplied}, nil
}

// refine applies the post-strategy steps: type mapping, quality scoring,
// filtering, dedup and priority scoring. The result is ordered by position
// in chapter.
func (p *Pipeline) refine(raws []processor.RawDescription, chapterID string) []types.Description {
	cands := make([]candidate, 0, len(raws))
	for _, raw := range raws {
		cands = append(cands, candidate{
			raw:       raw,
			typ:       p.mapper.Map(raw),
			quality:   ScoreQuality(raw.Content, QualityWeights{}),
			wordCount: processor.WordCount(raw.Content),
		})
	}

	cands = filterCandidates(cands)
	cands = dedupeCandidates(cands)

	descs := make([]types.Description, 0, len(cands))
	for _, c := range cands {
		c.priority = priorityScore(c.raw.Confidence, c.typ, c.quality, consensusSources(c.raw))
		descs = append(descs, types.Description{
			ID:                      uuid.NewString(),
			ChapterID:               chapterID,
			Type:                    c.typ,
			Content:                 c.raw.Content,
			Context:                 c.raw.Metadata["context"],
			ConfidenceScore:         c.raw.Confidence,
			PriorityScore:           c.priority,
			PositionInChapter:       c.raw.Start,
			WordCount:               c.wordCount,
			IsSuitableForGeneration: c.priority >= p.cfg.ImagePriorityThreshold,
		})
	}
	sort.SliceStable(descs, func(i, j int) bool {
		return descs[i].PositionInChapter < descs[j].PositionInChapter
	})
	return descs
}

// dispatchImages emits requests for the top-K descriptions at or above the
// priority threshold.
func (p *Pipeline) dispatchImages(ctx context.Context, descs []types.Description, ownerID string) (int, error) {
	if p.images == nil {
		return 0, nil
	}

	eligible := make([]types.Description, 0, len(descs))
	for _, d := range descs {
		if d.IsSuitableForGeneration {
			eligible = append(eligible, d)
		}
	}
	if len(eligible) == 0 {
		return 0, nil
	}

	// Cap applies after the threshold cut, best first.
	sort.SliceStable(eligible, func(i, j int) bool {
		return eligible[i].PriorityScore > eligible[j].PriorityScore
	})
	if limit := p.cfg.MaxImagesPerChapter; limit > 0 && len(eligible) > limit {
		eligible = eligible[:limit]
	}

	reqs := make([]types.ImageGenerationRequest, 0, len(eligible))
	for _, d := range eligible {
		reqs = append(reqs, types.ImageGenerationRequest{
			IdempotencyKey:  d.ID,
			DescriptionID:   d.ID,
			ChapterID:       d.ChapterID,
			DescriptionText: d.Content,
			DescriptionType: d.Type,
			OwnerID:         ownerID,
			Priority:        d.PriorityScore,
		})
	}
	if err := p.images.Dispatch(ctx, reqs); err != nil {
		return 0, err
	}
	return len(reqs), nil
}
