package ingest

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"path"
	"strings"
)

// containerXML is META-INF/container.xml, pointing at the OPF package.
type containerXML struct {
	Rootfiles []struct {
		FullPath string `xml:"full-path,attr"`
	} `xml:"rootfiles>rootfile"`
}

// opfPackage is the subset of the OPF package document the parser needs:
// metadata, the manifest and the spine reading order.
type opfPackage struct {
	Metadata struct {
		Titles   []string `xml:"title"`
		Creators []string `xml:"creator"`
		Subjects []string `xml:"subject"`
		Metas    []struct {
			Name    string `xml:"name,attr"`
			Content string `xml:"content,attr"`
		} `xml:"meta"`
	} `xml:"metadata"`
	Manifest struct {
		Items []struct {
			ID         string `xml:"id,attr"`
			Href       string `xml:"href,attr"`
			MediaType  string `xml:"media-type,attr"`
			Properties string `xml:"properties,attr"`
		} `xml:"item"`
	} `xml:"manifest"`
	Spine struct {
		ItemRefs []struct {
			IDRef  string `xml:"idref,attr"`
			Linear string `xml:"linear,attr"`
		} `xml:"itemref"`
	} `xml:"spine"`
}

// parseEPUB reads an EPUB archive and returns its metadata plus one section
// per linear spine document, in reading order.
func parseEPUB(data []byte) (*bookMeta, []section, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, nil, fmt.Errorf("open epub archive: %w", err)
	}

	files := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		files[f.Name] = f
	}

	raw, err := readZipFile(files, "META-INF/container.xml")
	if err != nil {
		return nil, nil, fmt.Errorf("epub container: %w", err)
	}
	var container containerXML
	if err := xml.Unmarshal(raw, &container); err != nil {
		return nil, nil, fmt.Errorf("parse container.xml: %w", err)
	}
	if len(container.Rootfiles) == 0 {
		return nil, nil, fmt.Errorf("container.xml names no rootfile")
	}

	opfPath := container.Rootfiles[0].FullPath
	raw, err = readZipFile(files, opfPath)
	if err != nil {
		return nil, nil, fmt.Errorf("epub package: %w", err)
	}
	var pkg opfPackage
	if err := xml.Unmarshal(raw, &pkg); err != nil {
		return nil, nil, fmt.Errorf("parse %s: %w", opfPath, err)
	}

	meta := &bookMeta{}
	if len(pkg.Metadata.Titles) > 0 {
		meta.Title = strings.TrimSpace(pkg.Metadata.Titles[0])
	}
	if len(pkg.Metadata.Creators) > 0 {
		meta.Author = strings.TrimSpace(pkg.Metadata.Creators[0])
	}
	meta.Subjects = pkg.Metadata.Subjects

	// Manifest hrefs are relative to the OPF document.
	opfDir := path.Dir(opfPath)
	itemsByID := make(map[string]string, len(pkg.Manifest.Items))
	for _, item := range pkg.Manifest.Items {
		href := item.Href
		if opfDir != "." {
			href = path.Join(opfDir, href)
		}
		itemsByID[item.ID] = href
		if strings.Contains(item.Properties, "cover-image") && meta.CoverRef == "" {
			meta.CoverRef = href
		}
	}
	// EPUB 2 cover convention: <meta name="cover" content="item-id"/>.
	if meta.CoverRef == "" {
		for _, m := range pkg.Metadata.Metas {
			if m.Name == "cover" {
				meta.CoverRef = itemsByID[m.Content]
				break
			}
		}
	}

	var sections []section
	for _, ref := range pkg.Spine.ItemRefs {
		if ref.Linear == "no" {
			continue
		}
		href, ok := itemsByID[ref.IDRef]
		if !ok {
			continue
		}
		raw, err := readZipFile(files, href)
		if err != nil {
			return nil, nil, fmt.Errorf("spine document %s: %w", href, err)
		}
		title, text := extractXHTML(raw)
		if strings.TrimSpace(text) == "" {
			continue
		}
		sections = append(sections, section{Title: title, Text: text})
	}
	if len(sections) == 0 {
		return nil, nil, fmt.Errorf("epub has no readable spine documents")
	}
	return meta, sections, nil
}

func readZipFile(files map[string]*zip.File, name string) ([]byte, error) {
	f, ok := files[name]
	if !ok {
		return nil, fmt.Errorf("%s missing from archive", name)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// extractXHTML strips markup from a spine document, returning the first
// heading as the section title and the flattened body text. Script and style
// content is dropped.
func extractXHTML(raw []byte) (title, text string) {
	dec := xml.NewDecoder(bytes.NewReader(raw))
	dec.Strict = false
	dec.AutoClose = xml.HTMLAutoClose
	dec.Entity = xml.HTMLEntity

	var (
		sb      strings.Builder
		heading strings.Builder
		depth   int // nesting inside h1..h6
		skip    int // nesting inside script/style
	)
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			name := strings.ToLower(t.Name.Local)
			switch name {
			case "script", "style":
				skip++
			case "h1", "h2", "h3", "h4", "h5", "h6":
				if title == "" {
					depth++
				}
			case "p", "div", "br", "li":
				sb.WriteByte('\n')
			}
		case xml.EndElement:
			name := strings.ToLower(t.Name.Local)
			switch name {
			case "script", "style":
				if skip > 0 {
					skip--
				}
			case "h1", "h2", "h3", "h4", "h5", "h6":
				if depth > 0 {
					depth--
					if depth == 0 {
						title = collapseSpace(heading.String())
					}
				}
			}
		case xml.CharData:
			if skip > 0 {
				continue
			}
			if depth > 0 {
				heading.Write(t)
			}
			sb.Write(t)
		}
	}
	return title, collapseText(sb.String())
}

// collapseSpace squeezes all whitespace runs to single spaces.
func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// collapseText normalizes paragraph text: spaces squeezed within lines,
// blank lines removed.
func collapseText(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if line = collapseSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
