package parser

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/tealeg/xlsx"
	"github.com/xuri/excelize/v2"

	"vector-search/internal/models"
)

// Extractor turns raw document bytes into page texts
type Extractor func(data []byte) ([]string, error)

var extractors = map[string]Extractor{
	".pdf":      extractPDF,
	".docx":     extractDOCX,
	".pptx":     extractPPTX,
	".xlsx":     extractXLSX,
	".xlsm":     extractXLSM,
	".md":       extractMarkdown,
	".markdown": extractMarkdown,
	".txt":      extractText,
}

// Supported reports whether filename has an extension Extract understands
func Supported(filename string) bool {
	_, ok := extractors[strings.ToLower(filepath.Ext(filename))]
	return ok
}

// Extract returns the pages of a document, numbered from 1. Pages without
// text are kept so numbering matches the source. If no page has any text
// the result is empty and err is nil. Malformed input fails with
// models.ErrExtraction.
func Extract(data []byte, filename string) ([]models.Page, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	extract, ok := extractors[ext]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported file format %q", models.ErrExtraction, ext)
	}

	texts, err := safeExtract(extract, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", models.ErrExtraction, filename, err)
	}

	pages := make([]models.Page, len(texts))
	hasText := false
	for i, text := range texts {
		if strings.TrimSpace(text) != "" {
			hasText = true
		}
		pages[i] = models.Page{Number: i + 1, Text: text, SourceFilename: filename}
	}
	if !hasText {
		return []models.Page{}, nil
	}
	return pages, nil
}

// third party readers panic on some malformed input
func safeExtract(extract Extractor, data []byte) (texts []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			texts = nil
			err = fmt.Errorf("reader panic: %v", r)
		}
	}()
	return extract(data)
}

func extractPDF(data []byte) ([]string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}

	numPages := reader.NumPage()
	pages := make([]string, 0, numPages)
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		pages = append(pages, pageText)
	}
	return pages, nil
}

// docx has no page model, the whole body is one page
func extractDOCX(data []byte) ([]string, error) {
	r, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	paragraphs, err := xmlParagraphs(strings.NewReader(r.Editable().GetContent()))
	if err != nil {
		return nil, err
	}
	return []string{strings.Join(paragraphs, "\n\n")}, nil
}

// one page per sheet, one paragraph per row
func extractXLSX(data []byte) ([]string, error) {
	f, err := xlsx.OpenBinary(data)
	if err != nil {
		return nil, err
	}

	pages := make([]string, 0, len(f.Sheets))
	for _, sheet := range f.Sheets {
		var rows [][]string
		for _, row := range sheet.Rows {
			if row == nil {
				continue
			}
			cells := make([]string, 0, len(row.Cells))
			for _, cell := range row.Cells {
				if cell == nil {
					cells = append(cells, "")
					continue
				}
				cells = append(cells, cell.String())
			}
			rows = append(rows, cells)
		}
		pages = append(pages, sheetText(sheet.Name, rows))
	}
	return pages, nil
}

func extractXLSM(data []byte) ([]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sheets := f.GetSheetList()
	pages := make([]string, 0, len(sheets))
	for _, name := range sheets {
		rows, err := f.GetRows(name)
		if err != nil {
			return nil, fmt.Errorf("sheet %s: %w", name, err)
		}
		pages = append(pages, sheetText(name, rows))
	}
	return pages, nil
}

func sheetText(name string, rows [][]string) string {
	var text strings.Builder
	for _, cells := range rows {
		line := strings.TrimRight(strings.Join(cells, "\t"), "\t ")
		if line == "" {
			continue
		}
		if text.Len() == 0 {
			fmt.Fprintf(&text, "Sheet: %s", name)
		}
		text.WriteString("\n\n")
		text.WriteString(line)
	}
	return text.String()
}

// form feeds separate pages in plain text
func extractText(data []byte) ([]string, error) {
	return strings.Split(string(data), "\f"), nil
}
