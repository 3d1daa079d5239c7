package store

import (
	"context"
	"fmt"

	"github.com/sandk0/fancai-vibe-hackathon-sub002/internal/types"
)

// InsertImageRequests records pending generated_images rows for a batch of
// generation requests. The idempotency key deduplicates re-emissions from
// retried chapters; conflicting rows are skipped and the new-row count is
// returned.
func (s *Store) InsertImageRequests(ctx context.Context, reqs []types.ImageGenerationRequest) (int64, error) {
	if len(reqs) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO generated_images (id, owner_id, description_id, chapter_id,
			status, prompt, idempotency_key)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), 'pending', $5, $6)
		ON CONFLICT (idempotency_key) DO NOTHING`)
	if err != nil {
		return 0, fmt.Errorf("prepare images: %w", err)
	}
	defer stmt.Close()

	var inserted int64
	for _, r := range reqs {
		res, err := stmt.ExecContext(ctx, r.IdempotencyKey, r.OwnerID, r.DescriptionID,
			r.ChapterID, r.DescriptionText, r.IdempotencyKey)
		if err != nil {
			return 0, fmt.Errorf("insert image request %s: %w", r.IdempotencyKey, err)
		}
		n, _ := res.RowsAffected()
		inserted += n
	}

	// Mirror the dispatch onto the source descriptions.
	for _, r := range reqs {
		if r.DescriptionID == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE descriptions SET image_generated = TRUE WHERE id = $1`, r.DescriptionID); err != nil {
			return 0, fmt.Errorf("flag description %s: %w", r.DescriptionID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return inserted, nil
}
