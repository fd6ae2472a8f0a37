package parser

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
)

// csvRowsPerSection bounds how many data rows land in one section.
const csvRowsPerSection = 20

// CSVParser handles CSV files. Each data row becomes one paragraph of
// "header: value" pairs.
type CSVParser struct{}

func (p *CSVParser) Parse(r io.Reader, filename string) (*Document, error) {
	reader := csv.NewReader(r)
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}

	doc := &Document{Title: baseTitle(filename)}
	if len(records) < 2 {
		return doc, nil
	}
	headers, rows := records[0], records[1:]

	for start := 0; start < len(rows); start += csvRowsPerSection {
		end := min(start+csvRowsPerSection, len(rows))
		paras := make([]string, 0, end-start)
		for _, row := range rows[start:end] {
			if p := csvRowText(headers, row); p != "" {
				paras = append(paras, p)
			}
		}
		if len(paras) == 0 {
			continue
		}
		doc.Sections = append(doc.Sections, Section{
			Heading: fmt.Sprintf("Rows %d-%d", start+2, end+1),
			Text:    strings.Join(paras, "\n\n"),
		})
	}
	return doc, nil
}

func csvRowText(headers, row []string) string {
	parts := make([]string, 0, len(row))
	for j, cell := range row {
		cell = strings.TrimSpace(cell)
		if cell == "" {
			continue
		}
		if j < len(headers) && headers[j] != "" {
			parts = append(parts, headers[j]+": "+cell)
		} else {
			parts = append(parts, cell)
		}
	}
	return strings.Join(parts, ", ")
}
