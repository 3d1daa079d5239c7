package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/sandk0/fancai-vibe-hackathon-sub002/internal/types"
)

// UnparsedChapters returns the book's chapters that still need description
// extraction, in ascending chapter number. Content is included: the caller
// streams chapters one at a time, so the working set stays one chapter wide.
func (s *Store) UnparsedChapters(ctx context.Context, bookID string) ([]types.Chapter, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, book_id, chapter_number, title, content, word_count,
		       is_service_page, is_description_parsed, descriptions_found
		FROM chapters
		WHERE book_id = $1 AND NOT is_description_parsed
		ORDER BY chapter_number ASC`, bookID)
	if err != nil {
		return nil, fmt.Errorf("unparsed chapters: %w", err)
	}
	defer rows.Close()

	var out []types.Chapter
	for rows.Next() {
		var ch types.Chapter
		if err := rows.Scan(&ch.ID, &ch.BookID, &ch.Number, &ch.Title, &ch.Content,
			&ch.WordCount, &ch.IsServicePage, &ch.IsDescriptionParsed, &ch.DescriptionsFound); err != nil {
			return nil, fmt.Errorf("scan chapter: %w", err)
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}

// ChapterCounts returns (total, parsed) chapter counts for progress
// reporting.
func (s *Store) ChapterCounts(ctx context.Context, bookID string) (total, parsed int, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT count(*), count(*) FILTER (WHERE is_description_parsed)
		FROM chapters WHERE book_id = $1`, bookID).Scan(&total, &parsed)
	if err != nil {
		return 0, 0, fmt.Errorf("chapter counts: %w", err)
	}
	return total, parsed, nil
}

// BookWordCount sums chapter word counts. Used for queue routing at submit.
func (s *Store) BookWordCount(ctx context.Context, bookID string) (int, error) {
	var words int
	err := s.db.QueryRowContext(ctx, `
		SELECT coalesce(sum(word_count), 0) FROM chapters WHERE book_id = $1`, bookID).Scan(&words)
	if err != nil {
		return 0, fmt.Errorf("book word count: %w", err)
	}
	return words, nil
}

// GetChapter loads one chapter by id.
func (s *Store) GetChapter(ctx context.Context, id string) (*types.Chapter, error) {
	var ch types.Chapter
	err := s.db.QueryRowContext(ctx, `
		SELECT id, book_id, chapter_number, title, content, word_count,
		       is_service_page, is_description_parsed, descriptions_found
		FROM chapters WHERE id = $1`, id).Scan(
		&ch.ID, &ch.BookID, &ch.Number, &ch.Title, &ch.Content, &ch.WordCount,
		&ch.IsServicePage, &ch.IsDescriptionParsed, &ch.DescriptionsFound)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("chapter %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get chapter: %w", err)
	}
	return &ch, nil
}
