// Package types defines the domain entities shared across the orchestrator:
// books, chapters, descriptions, generated images and parsing jobs.
package types

import "time"

// BookFormat identifies the uploaded file format.
type BookFormat string

const (
	FormatEPUB BookFormat = "epub"
	FormatFB2  BookFormat = "fb2"
)

// Valid reports whether the format is one of the supported values.
func (f BookFormat) Valid() bool {
	return f == FormatEPUB || f == FormatFB2
}

// Genre classifies a book. The set matches the DB check constraint.
type Genre string

const (
	GenreFantasy   Genre = "fantasy"
	GenreSciFi     Genre = "scifi"
	GenreDetective Genre = "detective"
	GenreRomance   Genre = "romance"
	GenreHorror    Genre = "horror"
	GenreClassic   Genre = "classic"
	GenreAdventure Genre = "adventure"
	GenreHistory   Genre = "history"
	GenreOther     Genre = "other"
)

// Genres lists every valid genre value.
var Genres = []Genre{
	GenreFantasy, GenreSciFi, GenreDetective, GenreRomance, GenreHorror,
	GenreClassic, GenreAdventure, GenreHistory, GenreOther,
}

// Book is an uploaded book owned by a user. Content is immutable after
// parsing; the orchestrator only toggles the processing flags.
type Book struct {
	ID           string     `json:"id"`
	OwnerID      string     `json:"owner_id"`
	Title        string     `json:"title"`
	Author       string     `json:"author,omitempty"`
	Format       BookFormat `json:"format"`
	Genre        Genre      `json:"genre"`
	FilePath     string     `json:"file_path,omitempty"`
	CoverRef     string     `json:"cover_ref,omitempty"`
	IsParsed     bool       `json:"is_parsed"`
	IsProcessing bool       `json:"is_processing"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}
