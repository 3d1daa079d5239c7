package store

import (
	"context"
	"fmt"
)

// migrations are applied in order at startup. Each statement is idempotent.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS books (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		title TEXT NOT NULL,
		author TEXT NOT NULL DEFAULT '',
		format TEXT NOT NULL CHECK (format IN ('epub', 'fb2')),
		genre TEXT NOT NULL DEFAULT 'other',
		file_path TEXT NOT NULL DEFAULT '',
		cover_ref TEXT NOT NULL DEFAULT '',
		is_parsed BOOLEAN NOT NULL DEFAULT FALSE,
		is_processing BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS chapters (
		id TEXT PRIMARY KEY,
		book_id TEXT NOT NULL REFERENCES books(id) ON DELETE CASCADE,
		chapter_number INTEGER NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL,
		word_count INTEGER NOT NULL DEFAULT 0,
		is_service_page BOOLEAN NOT NULL DEFAULT FALSE,
		is_description_parsed BOOLEAN NOT NULL DEFAULT FALSE,
		descriptions_found INTEGER NOT NULL DEFAULT 0,
		UNIQUE (book_id, chapter_number)
	)`,
	`CREATE TABLE IF NOT EXISTS descriptions (
		id TEXT PRIMARY KEY,
		chapter_id TEXT NOT NULL REFERENCES chapters(id) ON DELETE CASCADE,
		type TEXT NOT NULL CHECK (type IN ('LOCATION', 'CHARACTER', 'ATMOSPHERE', 'OBJECT', 'ACTION')),
		content TEXT NOT NULL,
		context TEXT NOT NULL DEFAULT '',
		confidence_score DOUBLE PRECISION NOT NULL,
		priority_score DOUBLE PRECISION NOT NULL,
		position_in_chapter INTEGER NOT NULL,
		word_count INTEGER NOT NULL,
		is_suitable_for_generation BOOLEAN NOT NULL DEFAULT FALSE,
		image_generated BOOLEAN NOT NULL DEFAULT FALSE,
		UNIQUE (chapter_id, position_in_chapter, content)
	)`,
	`CREATE TABLE IF NOT EXISTS parsing_jobs (
		id TEXT PRIMARY KEY,
		book_id TEXT NOT NULL REFERENCES books(id) ON DELETE CASCADE,
		user_id TEXT NOT NULL,
		state TEXT NOT NULL CHECK (state IN ('queued', 'running', 'succeeded', 'failed', 'cancelled')),
		priority INTEGER NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		progress DOUBLE PRECISION NOT NULL DEFAULT 0,
		queued_at TIMESTAMPTZ NOT NULL,
		started_at TIMESTAMPTZ,
		finished_at TIMESTAMPTZ,
		last_error TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS generated_images (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		description_id TEXT REFERENCES descriptions(id) ON DELETE CASCADE,
		chapter_id TEXT REFERENCES chapters(id) ON DELETE CASCADE,
		service_used TEXT NOT NULL DEFAULT 'pollinations',
		status TEXT NOT NULL CHECK (status IN ('pending', 'generating', 'completed', 'failed', 'moderated')),
		url TEXT NOT NULL DEFAULT '',
		local_path TEXT NOT NULL DEFAULT '',
		prompt TEXT NOT NULL DEFAULT '',
		idempotency_key TEXT NOT NULL UNIQUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		completed_at TIMESTAMPTZ,
		CHECK (description_id IS NOT NULL OR chapter_id IS NOT NULL)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_chapters_book ON chapters (book_id, chapter_number)`,
	`CREATE INDEX IF NOT EXISTS idx_descriptions_chapter ON descriptions (chapter_id)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_book ON parsing_jobs (book_id, state)`,
	`CREATE INDEX IF NOT EXISTS idx_images_status ON generated_images (status)`,
}

// Migrate creates the schema. Safe to run on every startup.
func (s *Store) Migrate(ctx context.Context) error {
	for i, stmt := range migrations {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	s.logger.Info("schema up to date", "statements", len(migrations))
	return nil
}
