package ingest

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/charmap"
)

// fb2Document maps the FictionBook 2 layout: title-info metadata, nested
// body sections and inline binaries (cover images).
type fb2Document struct {
	Description struct {
		TitleInfo struct {
			Genres    []string `xml:"genre"`
			BookTitle string   `xml:"book-title"`
			Authors   []struct {
				First  string `xml:"first-name"`
				Middle string `xml:"middle-name"`
				Last   string `xml:"last-name"`
			} `xml:"author"`
			Coverpage struct {
				Image struct {
					Href string `xml:"href,attr"`
				} `xml:"image"`
			} `xml:"coverpage"`
		} `xml:"title-info"`
	} `xml:"description"`
	Bodies []fb2Body `xml:"body"`
}

type fb2Body struct {
	Name     string       `xml:"name,attr"`
	Sections []fb2Section `xml:"section"`
}

type fb2Section struct {
	Title struct {
		Paragraphs []string `xml:"p"`
	} `xml:"title"`
	Paragraphs []fb2Paragraph `xml:"p"`
	Sections   []fb2Section   `xml:"section"` // nested parts
}

// fb2Paragraph keeps inline markup (emphasis, strong) as flattened text.
type fb2Paragraph struct {
	Text string `xml:",chardata"`
	Any  []struct {
		Text string `xml:",chardata"`
	} `xml:",any"`
}

func (p fb2Paragraph) flatten() string {
	var sb strings.Builder
	sb.WriteString(p.Text)
	for _, in := range p.Any {
		sb.WriteByte(' ')
		sb.WriteString(in.Text)
	}
	return collapseSpace(sb.String())
}

// parseFB2 reads a FictionBook 2 XML file and returns metadata plus one
// section per leaf body section, in document order. Notes and comments
// bodies are skipped.
func parseFB2(data []byte) (*bookMeta, []section, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.CharsetReader = fb2Charset

	var doc fb2Document
	if err := dec.Decode(&doc); err != nil {
		return nil, nil, fmt.Errorf("parse fb2: %w", err)
	}

	ti := doc.Description.TitleInfo
	meta := &bookMeta{
		Title:    strings.TrimSpace(ti.BookTitle),
		Subjects: ti.Genres,
		CoverRef: strings.TrimPrefix(ti.Coverpage.Image.Href, "#"),
	}
	if len(ti.Authors) > 0 {
		a := ti.Authors[0]
		meta.Author = collapseSpace(a.First + " " + a.Middle + " " + a.Last)
	}

	var sections []section
	for _, body := range doc.Bodies {
		// The main body has no name; "notes" and "comments" are apparatus.
		if body.Name != "" {
			continue
		}
		for _, s := range body.Sections {
			sections = flattenFB2Section(s, sections)
		}
	}
	if len(sections) == 0 {
		return nil, nil, fmt.Errorf("fb2 has no readable sections")
	}
	return meta, sections, nil
}

// flattenFB2Section appends the leaf sections under s in document order.
// A part with nested sections contributes its children, not itself.
func flattenFB2Section(s fb2Section, out []section) []section {
	if len(s.Sections) > 0 {
		for _, sub := range s.Sections {
			out = flattenFB2Section(sub, out)
		}
		return out
	}

	var sb strings.Builder
	for _, p := range s.Paragraphs {
		if line := p.flatten(); line != "" {
			sb.WriteString(line)
			sb.WriteByte('\n')
		}
	}
	text := strings.TrimRight(sb.String(), "\n")
	if text == "" {
		return out
	}
	return append(out, section{
		Title: collapseSpace(strings.Join(s.Title.Paragraphs, " ")),
		Text:  text,
	})
}

// fb2Charset handles the windows-1251 encoding still common in FB2 files.
func fb2Charset(charset string, input io.Reader) (io.Reader, error) {
	switch strings.ToLower(charset) {
	case "", "utf-8", "utf8":
		return input, nil
	case "windows-1251", "cp1251":
		return charmap.Windows1251.NewDecoder().Reader(input), nil
	case "koi8-r":
		return charmap.KOI8R.NewDecoder().Reader(input), nil
	case "iso-8859-1", "latin1":
		return charmap.ISO8859_1.NewDecoder().Reader(input), nil
	default:
		return nil, fmt.Errorf("unsupported fb2 charset %q", charset)
	}
}
