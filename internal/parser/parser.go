package parser

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

// Document is the flattened text of a source file.
type Document struct {
	Title    string
	Sections []Section
}

// Section is a run of body text under one heading path.
type Section struct {
	Heading string // e.g. "Cells > Structure"
	Text    string // paragraphs separated by blank lines
	Page    int    // source page, 0 if N/A
}

// Parser converts raw document bytes into a Document.
type Parser interface {
	Parse(r io.Reader, filename string) (*Document, error)
}

// SupportedExtensions lists file extensions this service can handle.
var SupportedExtensions = map[string]bool{
	".txt":      true,
	".md":       true,
	".markdown": true,
	".csv":      true,
	".html":     true,
	".htm":      true,
	".pdf":      true,
	".docx":     true,
}

// ForFile returns the appropriate parser for a filename.
func ForFile(filename string) (Parser, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".txt":
		return &TextParser{}, nil
	case ".md", ".markdown":
		return &MarkdownParser{}, nil
	case ".csv":
		return &CSVParser{}, nil
	case ".html", ".htm":
		return &HTMLParser{}, nil
	case ".pdf":
		return &PDFParser{FallbackPdftotext: true}, nil
	case ".docx":
		return &DOCXParser{}, nil
	default:
		return nil, fmt.Errorf("unsupported file extension: %s", ext)
	}
}

// IsSupportedExtension checks if a file extension is supported.
func IsSupportedExtension(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	return SupportedExtensions[ext]
}

func baseTitle(filename string) string {
	return strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
}

// outline tracks the heading path while a parser walks a document and
// emits one Section per run of body text.
type outline struct {
	doc    *Document
	levels []int
	titles []string
	body   strings.Builder
}

func newOutline(doc *Document) *outline {
	return &outline{doc: doc}
}

func (o *outline) heading(level int, title string) {
	o.flush()
	for len(o.levels) > 0 && o.levels[len(o.levels)-1] >= level {
		o.levels = o.levels[:len(o.levels)-1]
		o.titles = o.titles[:len(o.titles)-1]
	}
	o.levels = append(o.levels, level)
	o.titles = append(o.titles, title)
}

func (o *outline) text(t string) {
	t = strings.TrimSpace(t)
	if t == "" {
		return
	}
	if o.body.Len() > 0 {
		o.body.WriteString("\n\n")
	}
	o.body.WriteString(t)
}

func (o *outline) flush() {
	t := strings.TrimSpace(o.body.String())
	o.body.Reset()
	if t == "" {
		return
	}
	o.doc.Sections = append(o.doc.Sections, Section{
		Heading: strings.Join(o.titles, " > "),
		Text:    t,
	})
}
