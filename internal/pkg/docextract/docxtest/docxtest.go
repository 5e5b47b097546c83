// Package docxtest builds minimal DOCX files for tests.
package docxtest

import (
	"archive/zip"
	"bytes"
	"html"
	"testing"
)

const pageBreak = `<w:p><w:r><w:br w:type="page"/></w:r></w:p>`

// Build returns a DOCX whose pages are separated by explicit page breaks. Each page
// is a single paragraph.
func Build(t testing.TB, pages ...string) []byte {
	t.Helper()
	var body bytes.Buffer
	for i, p := range pages {
		if i > 0 {
			body.WriteString(pageBreak)
		}
		body.WriteString(`<w:p><w:r><w:t xml:space="preserve">` + html.EscapeString(p) + `</w:t></w:r></w:p>`)
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	if err != nil {
		t.Fatalf("create document part: %v", err)
	}
	doc := `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` +
		`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` +
		body.String() + `</w:body></w:document>`
	if _, err := w.Write([]byte(doc)); err != nil {
		t.Fatalf("write document part: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close docx: %v", err)
	}
	return buf.Bytes()
}
