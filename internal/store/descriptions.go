package store

import (
	"context"
	"fmt"

	"github.com/sandk0/fancai-vibe-hackathon-sub002/internal/types"
)

// SaveChapterDescriptions persists a chapter's descriptions and flips the
// chapter flags, all in one transaction. The insert is idempotent: rows
// matching an existing (chapter, position, content) are skipped, so
// reprocessing a chapter leaves stored descriptions unchanged.
// descriptions_found never decreases, keeping observed progress monotonic.
func (s *Store) SaveChapterDescriptions(ctx context.Context, chapterID string, descs []types.Description) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO descriptions (id, chapter_id, type, content, context,
			confidence_score, priority_score, position_in_chapter, word_count,
			is_suitable_for_generation)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (chapter_id, position_in_chapter, content) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("prepare descriptions: %w", err)
	}
	defer stmt.Close()

	for _, d := range descs {
		if _, err := stmt.ExecContext(ctx, d.ID, chapterID, d.Type, d.Content, d.Context,
			d.ConfidenceScore, d.PriorityScore, d.PositionInChapter, d.WordCount,
			d.IsSuitableForGeneration); err != nil {
			return fmt.Errorf("insert description at %d: %w", d.PositionInChapter, err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE chapters
		SET is_description_parsed = TRUE,
		    descriptions_found = GREATEST(descriptions_found, $2)
		WHERE id = $1`, chapterID, len(descs))
	if err != nil {
		return fmt.Errorf("update chapter flags: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// DescriptionsForChapter returns a chapter's stored descriptions in position
// order.
func (s *Store) DescriptionsForChapter(ctx context.Context, chapterID string) ([]types.Description, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, chapter_id, type, content, context, confidence_score,
		       priority_score, position_in_chapter, word_count,
		       is_suitable_for_generation, image_generated
		FROM descriptions
		WHERE chapter_id = $1
		ORDER BY position_in_chapter ASC`, chapterID)
	if err != nil {
		return nil, fmt.Errorf("descriptions: %w", err)
	}
	defer rows.Close()

	var out []types.Description
	for rows.Next() {
		var d types.Description
		if err := rows.Scan(&d.ID, &d.ChapterID, &d.Type, &d.Content, &d.Context,
			&d.ConfidenceScore, &d.PriorityScore, &d.PositionInChapter, &d.WordCount,
			&d.IsSuitableForGeneration, &d.ImageGenerated); err != nil {
			return nil, fmt.Errorf("scan description: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
