// Package docextract turns uploaded PDF and DOCX bytes into per-page text.
package docextract

import (
	"fmt"
	"path/filepath"
	"strings"

	"gopherai-legal/internal/model"
	"gopherai-legal/internal/rag"
)

// Format is the declared format of an uploaded document.
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
)

// Document is an uploaded file. It only lives for the duration of an ingest.
type Document struct {
	Filename string
	Format   Format
	Data     []byte
}

// ParseFormat accepts "pdf"/"docx" in any case, with or without a leading dot.
func ParseFormat(raw string) (Format, error) {
	switch Format(strings.TrimPrefix(strings.ToLower(strings.TrimSpace(raw)), ".")) {
	case FormatPDF:
		return FormatPDF, nil
	case FormatDOCX:
		return FormatDOCX, nil
	default:
		return "", fmt.Errorf("%w: %q", rag.ErrUnsupportedFormat, raw)
	}
}

// FormatFromFilename derives the format from the file extension.
func FormatFromFilename(name string) (Format, error) {
	return ParseFormat(filepath.Ext(name))
}

// Load extracts (page, text) pairs from data. It never reports success with text
// it could not read: corrupted input fails with rag.ErrExtractionFailed.
func Load(data []byte, format Format) ([]model.Page, error) {
	switch format {
	case FormatPDF:
		return extractPDF(data)
	case FormatDOCX:
		return extractDOCX(data)
	default:
		return nil, fmt.Errorf("%w: %q", rag.ErrUnsupportedFormat, string(format))
	}
}
