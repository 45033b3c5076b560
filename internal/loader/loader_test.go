package loader

import (
	"archive/zip"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcp-ai/rag-server/internal/domain"
)

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

// minimalPDF builds a single-page PDF with a correct xref table.
func minimalPDF(text string) []byte {
	stream := fmt.Sprintf("BT /F1 12 Tf 72 712 Td (%s) Tj ET", text)
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents 4 0 R /Resources << /Font << /F1 5 0 R >> >> >>",
		fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(stream), stream),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>",
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(objects)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return buf.Bytes()
}

func minimalDOCX(t *testing.T, paragraphs []string, title string) []byte {
	t.Helper()
	var body bytes.Buffer
	for _, p := range paragraphs {
		fmt.Fprintf(&body, "<w:p><w:r><w:t>%s</w:t></w:r></w:p>", p)
	}
	documentXML := `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` +
		`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` +
		body.String() + `</w:body></w:document>`
	coreXML := `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` +
		`<cp:coreProperties xmlns:cp="http://schemas.openxmlformats.org/package/2006/metadata/core-properties" ` +
		`xmlns:dc="http://purl.org/dc/elements/1.1/"><dc:title>` + title + `</dc:title></cp:coreProperties>`

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range map[string]string{
		"word/document.xml": documentXML,
		"docProps/core.xml": coreXML,
	} {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		name    string
		want    Format
		wantErr bool
	}{
		{"report.pdf", FormatPDF, false},
		{"REPORT.PDF", FormatPDF, false},
		{"notes.docx", FormatDOCX, false},
		{"page.html", FormatHTML, false},
		{"notes.txt", "", true},
		{"page.htm", "", true},
		{"README", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DetectFormat(tt.name)
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrUnsupportedFormat)
				assert.False(t, IsSupported(tt.name))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.True(t, IsSupported(tt.name))
		})
	}
}

func TestLoad_UnsupportedExtension(t *testing.T) {
	path := writeFile(t, "notes.txt", []byte("plain text"))
	_, err := Load(path)
	assert.ErrorIs(t, err, domain.ErrUnsupportedFormat)
	assert.NotErrorIs(t, err, domain.ErrLoad)
}

func TestLoad_HTML(t *testing.T) {
	page := `<!DOCTYPE html>
<html>
<head><title>Capitals</title><style>body { color: red; }</style></head>
<body>
  <h1>Europe</h1>
  <p>Paris is   the capital of France.</p>
  <script>var ignored = "Berlin";</script>
  <p>Madrid is the capital of Spain.</p>
</body>
</html>`
	docs, err := Load(writeFile(t, "capitals.html", []byte(page)))
	require.NoError(t, err)
	require.Len(t, docs, 1)

	doc := docs[0]
	assert.Contains(t, doc.Content, "Paris is the capital of France.")
	assert.Contains(t, doc.Content, "Madrid is the capital of Spain.")
	assert.NotContains(t, doc.Content, "Berlin")
	assert.NotContains(t, doc.Content, "color: red")
	assert.Equal(t, "Capitals", doc.Metadata[MetaTitle])
	assert.Equal(t, "capitals.html", doc.Metadata[MetaSource])
	assert.Equal(t, "html", doc.Metadata[MetaFormat])
}

func TestLoad_EmptyHTML(t *testing.T) {
	_, err := Load(writeFile(t, "empty.html", []byte("<html><body><script>x()</script></body></html>")))
	assert.ErrorIs(t, err, domain.ErrLoad)
}

func TestLoad_DOCX(t *testing.T) {
	data := minimalDOCX(t, []string{"Paris is the capital of France.", "The Seine flows through it."}, "Geography")
	docs, err := Load(writeFile(t, "geo.docx", data))
	require.NoError(t, err)
	require.Len(t, docs, 1)

	assert.Equal(t, "Paris is the capital of France.\nThe Seine flows through it.", docs[0].Content)
	assert.Equal(t, "Geography", docs[0].Metadata[MetaTitle])
	assert.Equal(t, "docx", docs[0].Metadata[MetaFormat])
}

func TestLoad_CorruptDOCX(t *testing.T) {
	_, err := Load(writeFile(t, "broken.docx", []byte("not a zip archive")))
	assert.ErrorIs(t, err, domain.ErrLoad)
}

func TestLoad_PDF(t *testing.T) {
	docs, err := Load(writeFile(t, "france.pdf", minimalPDF("Paris is the capital of France.")))
	require.NoError(t, err)
	require.Len(t, docs, 1)

	assert.Contains(t, docs[0].Content, "Paris")
	assert.Equal(t, "1", docs[0].Metadata[MetaPage])
	assert.Equal(t, "france.pdf", docs[0].Metadata[MetaSource])
	assert.Equal(t, "pdf", docs[0].Metadata[MetaFormat])
}

func TestLoad_CorruptPDF(t *testing.T) {
	_, err := Load(writeFile(t, "broken.pdf", []byte("%PDF-1.4\nthis is not really a pdf")))
	assert.ErrorIs(t, err, domain.ErrLoad)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "gone.pdf"))
	assert.ErrorIs(t, err, domain.ErrLoad)
}
