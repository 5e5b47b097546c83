package docextract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"gopherai-legal/internal/model"
	"gopherai-legal/internal/rag"
)

const (
	docxBodyPath   = "word/document.xml"
	maxDocxBodyLen = 64 << 20
)

// extractDOCX reads word/document.xml and splits it on explicit page breaks
// (w:br w:type="page" and w:pageBreakBefore). Every break starts a new page number,
// so blank pages are kept with empty text like the PDF loader does. A
// pageBreakBefore on the very first paragraph does not open a blank page.
func extractDOCX(data []byte) ([]model.Page, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty docx", rag.ErrExtractionFailed)
	}
	archive, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: open docx archive: %w", rag.ErrExtractionFailed, err)
	}

	var body *zip.File
	for _, f := range archive.File {
		if f.Name == docxBodyPath {
			body = f
			break
		}
	}
	if body == nil {
		return nil, fmt.Errorf("%w: docx has no %s", rag.ErrExtractionFailed, docxBodyPath)
	}

	rc, err := body.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", rag.ErrExtractionFailed, docxBodyPath, err)
	}
	defer rc.Close()

	pages, err := walkDocumentXML(io.LimitReader(rc, maxDocxBodyLen))
	if err != nil {
		return nil, fmt.Errorf("%w: parse %s: %w", rag.ErrExtractionFailed, docxBodyPath, err)
	}
	return pages, nil
}

func walkDocumentXML(r io.Reader) ([]model.Page, error) {
	dec := xml.NewDecoder(r)

	var (
		pages   []model.Page
		current strings.Builder
		inText  bool
		sawBody bool
	)
	breakPage := func() {
		pages = append(pages, model.Page{Number: len(pages) + 1, Text: current.String()})
		current.Reset()
	}

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "body":
				sawBody = true
			case "t":
				inText = true
			case "tab":
				current.WriteByte('\t')
			case "cr":
				current.WriteByte('\n')
			case "br":
				if attr(t, "type") == "page" {
					breakPage()
				} else {
					current.WriteByte('\n')
				}
			case "pageBreakBefore":
				v := attr(t, "val")
				atStart := len(pages) == 0 && strings.TrimSpace(current.String()) == ""
				if (v == "" || v == "1" || v == "true" || v == "on") && !atStart {
					breakPage()
				}
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				current.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				current.Write(t)
			}
		}
	}
	if !sawBody {
		return nil, errors.New("document has no body element")
	}

	pages = append(pages, model.Page{Number: len(pages) + 1, Text: current.String()})
	return pages, nil
}

func attr(el xml.StartElement, local string) string {
	for _, a := range el.Attr {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}
