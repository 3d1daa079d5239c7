// Package ingest turns uploaded EPUB and FB2 files into Book and Chapter
// records. Chapters come out in reading order with service pages (covers,
// tables of contents, colophons) flagged so the parsing pipeline can skip
// them.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/sandk0/fancai-vibe-hackathon-sub002/internal/types"
)

// bookMeta is the format-independent metadata a parser extracts.
type bookMeta struct {
	Title    string
	Author   string
	Subjects []string // raw genre/subject strings from the file
	CoverRef string
}

// section is one reading-order unit from the source file.
type section struct {
	Title string
	Text  string
}

// BookStore persists a parsed book with its chapters in one transaction.
type BookStore interface {
	CreateBook(ctx context.Context, book *types.Book, chapters []types.Chapter) error
}

// Request carries one upload.
type Request struct {
	OwnerID  string
	Tier     string // owner's subscription tier, "" means free
	Format   types.BookFormat
	Data     []byte
	FilePath string // storage reference, recorded as-is
	Title    string // overrides file metadata when set
	Author   string
	Genre    types.Genre // overrides genre inference when set
}

// Result describes the created book.
type Result struct {
	Book         *types.Book
	ChapterCount int
	WordCount    int
	ServicePages int
}

// Ingester parses uploads and writes them through the store.
type Ingester struct {
	store        BookStore
	maxFreeBytes int64 // free-tier upload cap, 0 disables it
	logger       *slog.Logger
}

func New(store BookStore, maxFreeBytes int64, logger *slog.Logger) *Ingester {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingester{store: store, maxFreeBytes: maxFreeBytes, logger: logger.With("component", "ingest")}
}

// Ingest parses the upload and creates the book with its chapters. The
// created book is not yet queued for description parsing.
func (ing *Ingester) Ingest(ctx context.Context, req Request) (*Result, error) {
	if req.OwnerID == "" {
		return nil, fmt.Errorf("owner id required")
	}
	if len(req.Data) == 0 {
		return nil, fmt.Errorf("empty upload")
	}
	if ing.maxFreeBytes > 0 && freeTier(req.Tier) && int64(len(req.Data)) > ing.maxFreeBytes {
		return nil, fmt.Errorf("upload is %d bytes, free tier allows %d", len(req.Data), ing.maxFreeBytes)
	}

	var (
		meta     *bookMeta
		sections []section
		err      error
	)
	switch req.Format {
	case types.FormatEPUB:
		meta, sections, err = parseEPUB(req.Data)
	case types.FormatFB2:
		meta, sections, err = parseFB2(req.Data)
	default:
		return nil, fmt.Errorf("unsupported format %q", req.Format)
	}
	if err != nil {
		return nil, err
	}

	book := &types.Book{
		ID:       uuid.NewString(),
		OwnerID:  req.OwnerID,
		Title:    firstNonEmpty(req.Title, meta.Title, "Untitled"),
		Author:   firstNonEmpty(req.Author, meta.Author),
		Format:   req.Format,
		Genre:    req.Genre,
		FilePath: req.FilePath,
		CoverRef: meta.CoverRef,
	}
	if book.Genre == "" {
		book.Genre = inferGenre(meta.Subjects)
	}

	chapters := buildChapters(book.ID, sections)

	if err := ing.store.CreateBook(ctx, book, chapters); err != nil {
		return nil, fmt.Errorf("persist book: %w", err)
	}

	res := &Result{Book: book, ChapterCount: len(chapters)}
	for i := range chapters {
		res.WordCount += chapters[i].WordCount
		if chapters[i].IsServicePage {
			res.ServicePages++
		}
	}
	ing.logger.Info("book ingested",
		"book_id", book.ID, "format", book.Format, "genre", book.Genre,
		"chapters", res.ChapterCount, "words", res.WordCount, "service_pages", res.ServicePages)
	return res, nil
}

// buildChapters numbers sections from 1 and fills derived fields.
func buildChapters(bookID string, sections []section) []types.Chapter {
	chapters := make([]types.Chapter, len(sections))
	for i, s := range sections {
		words := len(strings.Fields(s.Text))
		chapters[i] = types.Chapter{
			ID:            uuid.NewString(),
			BookID:        bookID,
			Number:        i + 1,
			Title:         s.Title,
			Content:       s.Text,
			WordCount:     words,
			IsServicePage: isServicePage(s.Title, s.Text, words),
		}
	}
	return chapters
}

// serviceMarkers are title/content cues for non-narrative pages, in English
// and Russian.
var serviceMarkers = []string{
	"contents", "table of contents", "copyright", "colophon", "acknowledg",
	"dedication", "about the author", "about the publisher", "title page",
	"imprint", "cover", "bibliography", "glossary", "index",
	"оглавление", "содержание", "примечания", "об авторе", "посвящение",
	"выходные данные",
}

// servicePageMaxWords bounds how long a service page can be. Long chapters
// are narrative regardless of their title.
const servicePageMaxWords = 400

// isServicePage flags covers, tables of contents and similar apparatus.
// Short pages with a marker in the title are always service; marker hits in
// the opening text only count for very short pages.
func isServicePage(title, text string, words int) bool {
	if words > servicePageMaxWords {
		return false
	}
	lowerTitle := strings.ToLower(title)
	for _, m := range serviceMarkers {
		if strings.Contains(lowerTitle, m) {
			return true
		}
	}
	if words < 50 {
		head := strings.ToLower(text)
		for _, m := range serviceMarkers {
			if strings.Contains(head, m) {
				return true
			}
		}
		// A page this short with digit-heavy lines is a table of contents
		// or page list even without a marker.
		if digitLineShare(text) > 0.5 {
			return true
		}
	}
	return false
}

// digitLineShare is the fraction of lines ending in a page-number-like
// digit run.
func digitLineShare(text string) float64 {
	lines := strings.Split(text, "\n")
	if len(lines) == 0 {
		return 0
	}
	hits := 0
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		last := line[strings.LastIndexByte(line, ' ')+1:]
		if last != "" && strings.Trim(last, "0123456789.") == "" {
			hits++
		}
	}
	return float64(hits) / float64(len(lines))
}

// genreMarkers maps raw subject strings onto the genre enum. FB2 genre codes
// and free-form EPUB subjects both hit these substrings.
var genreMarkers = []struct {
	genre types.Genre
	cues  []string
}{
	{types.GenreFantasy, []string{"fantasy", "sf_fantasy", "фэнтези"}},
	{types.GenreSciFi, []string{"science fiction", "sci-fi", "scifi", "sf_", "фантастика"}},
	{types.GenreDetective, []string{"detective", "mystery", "crime", "детектив"}},
	{types.GenreRomance, []string{"romance", "love_", "роман о любви"}},
	{types.GenreHorror, []string{"horror", "ужасы"}},
	{types.GenreClassic, []string{"classic", "prose_classic", "классика"}},
	{types.GenreAdventure, []string{"adventure", "adv_", "приключения"}},
	{types.GenreHistory, []string{"history", "historical", "истори"}},
}

// inferGenre picks the first marker match across the file's subjects.
func inferGenre(subjects []string) types.Genre {
	for _, raw := range subjects {
		lower := strings.ToLower(strings.TrimSpace(raw))
		if lower == "" {
			continue
		}
		for _, gm := range genreMarkers {
			for _, cue := range gm.cues {
				if strings.Contains(lower, cue) {
					return gm.genre
				}
			}
		}
	}
	return types.GenreOther
}

// freeTier reports whether the tier gets the free-tier upload cap. Unknown
// tiers are treated as free, matching the priority mapping.
func freeTier(tier string) bool {
	switch strings.ToLower(strings.TrimSpace(tier)) {
	case "premium", "plus":
		return false
	default:
		return true
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
