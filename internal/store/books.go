package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/sandk0/fancai-vibe-hackathon-sub002/internal/types"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// CreateBook inserts a book together with its chapters in one transaction.
func (s *Store) CreateBook(ctx context.Context, book *types.Book, chapters []types.Chapter) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO books (id, owner_id, title, author, format, genre, file_path, cover_ref)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		book.ID, book.OwnerID, book.Title, book.Author, book.Format, book.Genre, book.FilePath, book.CoverRef)
	if err != nil {
		return fmt.Errorf("insert book: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chapters (id, book_id, chapter_number, title, content, word_count, is_service_page)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`)
	if err != nil {
		return fmt.Errorf("prepare chapters: %w", err)
	}
	defer stmt.Close()

	for _, ch := range chapters {
		if _, err := stmt.ExecContext(ctx, ch.ID, book.ID, ch.Number, ch.Title, ch.Content, ch.WordCount, ch.IsServicePage); err != nil {
			return fmt.Errorf("insert chapter %d: %w", ch.Number, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.logger.Info("book created", "book_id", book.ID, "chapters", len(chapters))
	return nil
}

// GetBook loads one book by id.
func (s *Store) GetBook(ctx context.Context, id string) (*types.Book, error) {
	var b types.Book
	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, title, author, format, genre, file_path, cover_ref,
		       is_parsed, is_processing, created_at, updated_at
		FROM books WHERE id = $1`, id).Scan(
		&b.ID, &b.OwnerID, &b.Title, &b.Author, &b.Format, &b.Genre, &b.FilePath,
		&b.CoverRef, &b.IsParsed, &b.IsProcessing, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("book %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get book: %w", err)
	}
	return &b, nil
}

// SetBookProcessing toggles the is_processing flag.
func (s *Store) SetBookProcessing(ctx context.Context, bookID string, processing bool) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE books SET is_processing = $2, updated_at = now() WHERE id = $1`,
		bookID, processing)
	if err != nil {
		return fmt.Errorf("set processing: %w", err)
	}
	return nil
}

// MarkBookParsed sets is_parsed and clears is_processing in one step.
func (s *Store) MarkBookParsed(ctx context.Context, bookID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE books SET is_parsed = TRUE, is_processing = FALSE, updated_at = now()
		WHERE id = $1`, bookID)
	if err != nil {
		return fmt.Errorf("mark parsed: %w", err)
	}
	return nil
}
