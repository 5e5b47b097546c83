package docextract

import (
	"archive/zip"
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gopherai-legal/internal/pkg/docextract/docxtest"
	"gopherai-legal/internal/rag"
)

func buildDOCX(t *testing.T, body string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` +
		`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` +
		body + `</w:body></w:document>`))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func para(text string) string {
	return `<w:p><w:r><w:t xml:space="preserve">` + text + `</w:t></w:r></w:p>`
}

const pageBreak = `<w:p><w:r><w:br w:type="page"/></w:r></w:p>`

func TestLoadDOCXSplitsOnPageBreaks(t *testing.T) {
	data := buildDOCX(t, para("Rent is due on the 1st.")+para("Late fee is $50.")+pageBreak+para("Parking is included."))

	pages, err := Load(data, FormatDOCX)
	require.NoError(t, err)
	require.Len(t, pages, 2)

	assert.Equal(t, 1, pages[0].Number)
	assert.Contains(t, pages[0].Text, "Rent is due on the 1st.")
	assert.Contains(t, pages[0].Text, "Late fee is $50.")
	assert.Equal(t, 2, pages[1].Number)
	assert.Contains(t, pages[1].Text, "Parking is included.")
	assert.NotContains(t, pages[1].Text, "Late fee")
}

func TestLoadDOCXKeepsBlankPageNumbers(t *testing.T) {
	pages, err := Load(docxtest.Build(t, "", "Rent is due on the 1st.", "", "Parking is included."), FormatDOCX)
	require.NoError(t, err)
	require.Len(t, pages, 4)

	assert.Equal(t, 1, pages[0].Number)
	assert.Empty(t, strings.TrimSpace(pages[0].Text))
	assert.Equal(t, 2, pages[1].Number)
	assert.Contains(t, pages[1].Text, "Rent is due on the 1st.")
	assert.Empty(t, strings.TrimSpace(pages[2].Text))
	assert.Equal(t, 4, pages[3].Number)
	assert.Contains(t, pages[3].Text, "Parking is included.")

	chunks, err := rag.Chunk("lease.docx", pages, rag.ChunkConfig{Size: 30, Overlap: 0}, 0)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	assert.Equal(t, 2, chunks[0].SourcePage)
	assert.Equal(t, 4, chunks[len(chunks)-1].SourcePage)
}

func TestLoadDOCXPageBreakBeforeFirstParagraph(t *testing.T) {
	first := `<w:p><w:pPr><w:pageBreakBefore/></w:pPr><w:r><w:t>Title</w:t></w:r></w:p>`
	second := `<w:p><w:pPr><w:pageBreakBefore/></w:pPr><w:r><w:t>Schedule A</w:t></w:r></w:p>`
	pages, err := Load(buildDOCX(t, first+second), FormatDOCX)
	require.NoError(t, err)
	require.Len(t, pages, 2)
	assert.Contains(t, pages[0].Text, "Title")
	assert.Equal(t, 2, pages[1].Number)
	assert.Contains(t, pages[1].Text, "Schedule A")
}

func TestLoadDOCXTabsAndLineBreaks(t *testing.T) {
	data := buildDOCX(t, `<w:p><w:r><w:t>a</w:t><w:tab/><w:t>b</w:t><w:br/><w:t>c</w:t></w:r></w:p>`)

	pages, err := Load(data, FormatDOCX)
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, "a\tb\nc\n", pages[0].Text)
}

func TestLoadDOCXEmptyBodyIsOneEmptyPage(t *testing.T) {
	pages, err := Load(buildDOCX(t, ""), FormatDOCX)
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, "", strings.TrimSpace(pages[0].Text))
}

func TestLoadCorruptedInput(t *testing.T) {
	garbage := []byte("this is definitely not a zip or a pdf")

	_, err := Load(garbage, FormatDOCX)
	require.ErrorIs(t, err, rag.ErrExtractionFailed)
	assert.ErrorIs(t, err, rag.ErrCorrupted)

	_, err = Load(garbage, FormatPDF)
	require.ErrorIs(t, err, rag.ErrExtractionFailed)

	_, err = Load(nil, FormatPDF)
	require.ErrorIs(t, err, rag.ErrExtractionFailed)
}

func TestLoadDOCXWithoutBodyPart(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	_, err := zw.Create("word/styles.xml")
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	_, err = Load(buf.Bytes(), FormatDOCX)
	require.ErrorIs(t, err, rag.ErrExtractionFailed)
}

func TestUnsupportedFormat(t *testing.T) {
	_, err := Load([]byte("plain text"), Format("txt"))
	require.ErrorIs(t, err, rag.ErrUnsupportedFormat)
	assert.ErrorIs(t, err, rag.ErrInvalidInput)

	_, err = FormatFromFilename("lease.txt")
	require.ErrorIs(t, err, rag.ErrUnsupportedFormat)
}

func TestFormatFromFilename(t *testing.T) {
	f, err := FormatFromFilename("Lease Agreement.PDF")
	require.NoError(t, err)
	assert.Equal(t, FormatPDF, f)

	f, err = FormatFromFilename("loan.docx")
	require.NoError(t, err)
	assert.Equal(t, FormatDOCX, f)

	f, err = ParseFormat(" .Docx ")
	require.NoError(t, err)
	assert.Equal(t, FormatDOCX, f)
}
