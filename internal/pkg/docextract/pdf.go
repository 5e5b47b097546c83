package docextract

import (
	"bytes"
	"fmt"

	"github.com/ledongthuc/pdf"

	"gopherai-legal/internal/model"
	"gopherai-legal/internal/rag"
)

// extractPDF returns the plain text of every page. Pages without extractable text
// are kept with empty text so page numbers stay aligned with the source.
func extractPDF(data []byte) (pages []model.Page, err error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty pdf", rag.ErrExtractionFailed)
	}

	// The parser panics on some malformed cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			pages = nil
			err = fmt.Errorf("%w: pdf parser: %v", rag.ErrExtractionFailed, r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: open pdf: %w", rag.ErrExtractionFailed, err)
	}

	total := reader.NumPage()
	pages = make([]model.Page, 0, total)
	for i := 1; i <= total; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			pages = append(pages, model.Page{Number: i})
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("%w: read pdf page %d: %w", rag.ErrExtractionFailed, i, err)
		}
		pages = append(pages, model.Page{Number: i, Text: text})
	}
	return pages, nil
}
