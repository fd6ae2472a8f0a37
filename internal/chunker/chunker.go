package chunker

import (
	"strings"

	"github.com/dgallion1/topictree/internal/parser"
)

// Config controls paragraph extraction.
type Config struct {
	MaxTokens int // Paragraphs above this are split on sentence boundaries.
	MinTokens int // Paragraphs below this are dropped.
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxTokens: 400,
		MinTokens: 8,
	}
}

// Paragraphs flattens a parsed document into the ordered paragraph list
// the clustering engine consumes. Heading text is not included.
func Paragraphs(doc *parser.Document, cfg Config) []string {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 400
	}
	if cfg.MinTokens < 0 {
		cfg.MinTokens = 0
	}
	if doc == nil {
		return nil
	}

	var out []string
	for _, sec := range doc.Sections {
		for _, para := range splitByParagraphs(sec.Text) {
			para = collapseLines(para)
			pieces := []string{para}
			if CountTokens(para) > cfg.MaxTokens {
				pieces = splitBySentences(para, cfg.MaxTokens)
			}
			for _, p := range pieces {
				if CountTokens(p) >= cfg.MinTokens {
					out = append(out, p)
				}
			}
		}
	}
	return out
}

// splitByParagraphs splits on blank lines.
func splitByParagraphs(text string) []string {
	parts := strings.Split(text, "\n\n")
	var result []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

// collapseLines joins hard-wrapped lines into one line.
func collapseLines(p string) string {
	return strings.Join(strings.Fields(p), " ")
}

// splitBySentences packs whole sentences into pieces of at most
// maxTokens. A single sentence longer than that is kept intact.
func splitBySentences(text string, maxTokens int) []string {
	var result []string
	var current strings.Builder
	currentTokens := 0

	for _, sent := range splitSentences(text) {
		sentTokens := CountTokens(sent)
		if currentTokens+sentTokens > maxTokens && currentTokens > 0 {
			result = append(result, current.String())
			current.Reset()
			currentTokens = 0
		}
		if current.Len() > 0 {
			current.WriteString(" ")
		}
		current.WriteString(sent)
		currentTokens += sentTokens
	}
	if currentTokens > 0 {
		result = append(result, current.String())
	}
	return result
}

// splitSentences does basic sentence splitting on ". ", "! " and "? ".
func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder

	for i, r := range text {
		current.WriteRune(r)
		if (r == '.' || r == '!' || r == '?') && i+1 < len(text) && text[i+1] == ' ' {
			sentences = append(sentences, strings.TrimSpace(current.String()))
			current.Reset()
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}
