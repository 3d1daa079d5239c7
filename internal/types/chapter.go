package types

// Chapter is a single chapter of a book, emitted by the format parser at
// upload time. Number is unique within a book and ascending.
type Chapter struct {
	ID                  string `json:"id"`
	BookID              string `json:"book_id"`
	Number              int    `json:"chapter_number"`
	Title               string `json:"title"`
	Content             string `json:"content"`
	WordCount           int    `json:"word_count"`
	IsServicePage       bool   `json:"is_service_page"`
	IsDescriptionParsed bool   `json:"is_description_parsed"`
	DescriptionsFound   int    `json:"descriptions_found"`
}
