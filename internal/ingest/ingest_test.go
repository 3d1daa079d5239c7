package ingest

import (
	"archive/zip"
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/sandk0/fancai-vibe-hackathon-sub002/internal/types"
)

type memBookStore struct {
	book     *types.Book
	chapters []types.Chapter
}

func (m *memBookStore) CreateBook(ctx context.Context, book *types.Book, chapters []types.Chapter) error {
	m.book = book
	m.chapters = chapters
	return nil
}

const chapterOneText = `The old manor stood at the edge of the moor, its windows dark
and its garden long surrendered to brambles. Edward walked the gravel path
slowly, counting the years since he had last seen the place.`

const chapterTwoText = `Morning came grey and cold. In the kitchen a kettle whistled
while rain traced slow lines down the glass, and the letters lay unopened on
the oak table between them.`

// buildEPUB assembles a minimal two-chapter EPUB in memory.
func buildEPUB(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)

	write := func(name, content string) {
		t.Helper()
		f, err := w.Create(name)
		if err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
		if _, err := f.Write([]byte(content)); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	write("mimetype", "application/epub+zip")
	write("META-INF/container.xml", `<?xml version="1.0"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>`)
	write("OEBPS/content.opf", `<?xml version="1.0" encoding="UTF-8"?>
<package xmlns="http://www.idpf.org/2007/opf" version="3.0" unique-identifier="pub-id">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/">
    <dc:title>The Moor House</dc:title>
    <dc:creator>A. Writer</dc:creator>
    <dc:subject>Mystery fiction</dc:subject>
  </metadata>
  <manifest>
    <item id="cover-img" href="images/cover.jpg" media-type="image/jpeg" properties="cover-image"/>
    <item id="toc" href="toc.xhtml" media-type="application/xhtml+xml"/>
    <item id="ch1" href="ch1.xhtml" media-type="application/xhtml+xml"/>
    <item id="ch2" href="ch2.xhtml" media-type="application/xhtml+xml"/>
  </manifest>
  <spine>
    <itemref idref="toc"/>
    <itemref idref="ch1"/>
    <itemref idref="ch2"/>
  </spine>
</package>`)
	write("OEBPS/images/cover.jpg", "\xff\xd8\xff")
	write("OEBPS/toc.xhtml", `<html><body><h1>Contents</h1>
<p>Chapter One 5</p><p>Chapter Two 17</p></body></html>`)
	write("OEBPS/ch1.xhtml", `<html><head><style>p{margin:0}</style></head>
<body><h1>Chapter One</h1><p>`+chapterOneText+`</p></body></html>`)
	write("OEBPS/ch2.xhtml", `<html><body><h2>Chapter Two</h2><p>`+chapterTwoText+`</p></body></html>`)

	if err := w.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

func TestIngestEPUB(t *testing.T) {
	store := &memBookStore{}
	ing := New(store, 0, nil)

	res, err := ing.Ingest(context.Background(), Request{
		OwnerID: "user1",
		Format:  types.FormatEPUB,
		Data:    buildEPUB(t),
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	if res.Book.Title != "The Moor House" {
		t.Errorf("title = %q", res.Book.Title)
	}
	if res.Book.Author != "A. Writer" {
		t.Errorf("author = %q", res.Book.Author)
	}
	if res.Book.Genre != types.GenreDetective {
		t.Errorf("genre = %q, want detective", res.Book.Genre)
	}
	if res.Book.CoverRef != "OEBPS/images/cover.jpg" {
		t.Errorf("cover ref = %q", res.Book.CoverRef)
	}
	if res.ChapterCount != 3 {
		t.Fatalf("chapters = %d, want 3 (toc + 2)", res.ChapterCount)
	}
	if res.ServicePages != 1 {
		t.Errorf("service pages = %d, want 1", res.ServicePages)
	}

	chapters := store.chapters
	if !chapters[0].IsServicePage {
		t.Error("toc chapter not flagged as service page")
	}
	if chapters[1].IsServicePage || chapters[2].IsServicePage {
		t.Error("narrative chapters flagged as service pages")
	}
	if chapters[1].Title != "Chapter One" {
		t.Errorf("chapter 1 title = %q", chapters[1].Title)
	}
	if chapters[1].Number != 2 || chapters[2].Number != 3 {
		t.Errorf("chapter numbers = %d, %d; want 2, 3", chapters[1].Number, chapters[2].Number)
	}
	if !strings.Contains(chapters[1].Content, "the edge of the moor") {
		t.Errorf("chapter 1 content missing body text: %q", chapters[1].Content)
	}
	if strings.Contains(chapters[1].Content, "margin:0") {
		t.Error("style content leaked into chapter text")
	}
	if chapters[1].WordCount == 0 {
		t.Error("word count not computed")
	}
}

const fb2Fixture = `<?xml version="1.0" encoding="utf-8"?>
<FictionBook xmlns="http://www.gribuser.ru/xml/fictionbook/2.0"
             xmlns:l="http://www.w3.org/1999/xlink">
  <description>
    <title-info>
      <genre>sf_fantasy</genre>
      <book-title>Дорога ветров</book-title>
      <author><first-name>Иван</first-name><last-name>Петров</last-name></author>
      <coverpage><image l:href="#cover.jpg"/></coverpage>
    </title-info>
  </description>
  <body>
    <section>
      <title><p>Часть первая</p></title>
      <section>
        <title><p>Глава 1</p></title>
        <p>Ветер гнал облака над степью, и <emphasis>старая дорога</emphasis>
           уходила к горизонту.</p>
        <p>Путник шёл весь день, не оглядываясь.</p>
      </section>
      <section>
        <title><p>Глава 2</p></title>
        <p>К вечеру показались огни деревни.</p>
      </section>
    </section>
  </body>
  <body name="notes">
    <section><p>Примечание переводчика.</p></section>
  </body>
</FictionBook>`

func TestIngestFB2(t *testing.T) {
	store := &memBookStore{}
	ing := New(store, 0, nil)

	res, err := ing.Ingest(context.Background(), Request{
		OwnerID: "user1",
		Format:  types.FormatFB2,
		Data:    []byte(fb2Fixture),
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	if res.Book.Title != "Дорога ветров" {
		t.Errorf("title = %q", res.Book.Title)
	}
	if res.Book.Author != "Иван Петров" {
		t.Errorf("author = %q", res.Book.Author)
	}
	if res.Book.Genre != types.GenreFantasy {
		t.Errorf("genre = %q, want fantasy", res.Book.Genre)
	}
	if res.Book.CoverRef != "cover.jpg" {
		t.Errorf("cover ref = %q", res.Book.CoverRef)
	}

	// Leaf sections only: the enclosing part contributes its children, and
	// the notes body is skipped.
	if res.ChapterCount != 2 {
		t.Fatalf("chapters = %d, want 2", res.ChapterCount)
	}
	if store.chapters[0].Title != "Глава 1" || store.chapters[1].Title != "Глава 2" {
		t.Errorf("titles = %q, %q", store.chapters[0].Title, store.chapters[1].Title)
	}
	if !strings.Contains(store.chapters[0].Content, "старая дорога") {
		t.Errorf("inline markup text lost: %q", store.chapters[0].Content)
	}
}

func TestIngestOverrides(t *testing.T) {
	store := &memBookStore{}
	ing := New(store, 0, nil)

	res, err := ing.Ingest(context.Background(), Request{
		OwnerID: "user1",
		Format:  types.FormatEPUB,
		Data:    buildEPUB(t),
		Title:   "Renamed",
		Genre:   types.GenreHorror,
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Book.Title != "Renamed" {
		t.Errorf("title override ignored: %q", res.Book.Title)
	}
	if res.Book.Genre != types.GenreHorror {
		t.Errorf("genre override ignored: %q", res.Book.Genre)
	}
}

func TestIngestFreeTierSizeCap(t *testing.T) {
	ctx := context.Background()
	data := buildEPUB(t)
	ing := New(&memBookStore{}, int64(len(data))-1, nil)

	if _, err := ing.Ingest(ctx, Request{OwnerID: "u", Format: types.FormatEPUB, Data: data}); err == nil {
		t.Error("oversized free-tier upload accepted")
	}
	if _, err := ing.Ingest(ctx, Request{OwnerID: "u", Tier: "premium", Format: types.FormatEPUB, Data: data}); err != nil {
		t.Errorf("premium upload rejected: %v", err)
	}
}

func TestIngestRejectsBadInput(t *testing.T) {
	ing := New(&memBookStore{}, 0, nil)
	ctx := context.Background()

	if _, err := ing.Ingest(ctx, Request{Format: types.FormatEPUB, Data: []byte("x")}); err == nil {
		t.Error("missing owner accepted")
	}
	if _, err := ing.Ingest(ctx, Request{OwnerID: "u", Format: types.FormatEPUB}); err == nil {
		t.Error("empty upload accepted")
	}
	if _, err := ing.Ingest(ctx, Request{OwnerID: "u", Format: "pdf", Data: []byte("x")}); err == nil {
		t.Error("unsupported format accepted")
	}
	if _, err := ing.Ingest(ctx, Request{OwnerID: "u", Format: types.FormatEPUB, Data: []byte("not a zip")}); err == nil {
		t.Error("corrupt epub accepted")
	}
}

func TestIsServicePage(t *testing.T) {
	long := strings.Repeat("word ", 500)
	cases := []struct {
		name  string
		title string
		text  string
		want  bool
	}{
		{"toc title", "Table of Contents", "Chapter One 5\nChapter Two 17", true},
		{"copyright title", "Copyright", "All rights reserved.", true},
		{"russian toc", "Оглавление", "Глава 1 ... 5", true},
		{"short page number list", "", "Prologue 1\nChapter One 5\nChapter Two 17", true},
		{"narrative chapter", "Chapter One", chapterOneText, false},
		{"long page with toc title", "Contents of the Letter", long, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			words := len(strings.Fields(tc.text))
			if got := isServicePage(tc.title, tc.text, words); got != tc.want {
				t.Errorf("isServicePage(%q) = %v, want %v", tc.title, got, tc.want)
			}
		})
	}
}

func TestInferGenre(t *testing.T) {
	cases := []struct {
		subjects []string
		want     types.Genre
	}{
		{[]string{"sf_fantasy"}, types.GenreFantasy},
		{[]string{"Historical fiction"}, types.GenreHistory},
		{[]string{"Mystery fiction"}, types.GenreDetective},
		{[]string{"cooking"}, types.GenreOther},
		{nil, types.GenreOther},
	}
	for _, tc := range cases {
		if got := inferGenre(tc.subjects); got != tc.want {
			t.Errorf("inferGenre(%v) = %q, want %q", tc.subjects, got, tc.want)
		}
	}
}
