// Package loader extracts plain text and page/section metadata from uploaded
// PDF, DOCX and HTML files.
package loader

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mcp-ai/rag-server/internal/domain"
)

// MaxFileSize is the hard limit for text extraction.
const MaxFileSize = 50 * 1024 * 1024

type Format string

const (
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
	FormatHTML Format = "html"
)

// Metadata keys set on every loaded document.
const (
	MetaSource = "source"
	MetaFormat = "format"
	MetaPage   = "page"
	MetaTitle  = "title"
)

var extensions = map[string]Format{
	".pdf":  FormatPDF,
	".docx": FormatDOCX,
	".html": FormatHTML,
}

// DetectFormat maps a filename's extension to a supported format.
func DetectFormat(filename string) (Format, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if f, ok := extensions[ext]; ok {
		return f, nil
	}
	if ext == "" {
		ext = "(none)"
	}
	return "", domain.Errorf(domain.ErrUnsupportedFormat, "loader.DetectFormat",
		"extension %s is not one of .pdf, .docx, .html", ext)
}

// IsSupported reports whether filename has a loadable extension.
func IsSupported(filename string) bool {
	_, err := DetectFormat(filename)
	return err == nil
}

// Load detects the format from path's extension and extracts its text.
func Load(path string) ([]domain.Document, error) {
	format, err := DetectFormat(path)
	if err != nil {
		return nil, err
	}
	return LoadFormat(path, format)
}

// LoadFormat extracts one Document per page (PDF) or per file (DOCX, HTML).
func LoadFormat(path string, format Format) ([]domain.Document, error) {
	const op = "loader.Load"

	var extract func(string) ([]domain.Document, error)
	switch format {
	case FormatPDF:
		extract = loadPDF
	case FormatDOCX:
		extract = loadDOCX
	case FormatHTML:
		extract = loadHTML
	default:
		return nil, domain.Errorf(domain.ErrUnsupportedFormat, op, "format %q", format)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, domain.Wrap(domain.ErrLoad, op, err)
	}
	if info.Size() > MaxFileSize {
		return nil, domain.Errorf(domain.ErrLoad, op, "%s exceeds size limit of %d bytes", filepath.Base(path), MaxFileSize)
	}

	docs, err := extract(path)
	if err != nil {
		return nil, domain.Wrap(domain.ErrLoad, op, fmt.Errorf("%s: %w", filepath.Base(path), err))
	}

	source := filepath.Base(path)
	for i := range docs {
		if docs[i].Metadata == nil {
			docs[i].Metadata = make(map[string]string)
		}
		docs[i].Metadata[MetaSource] = source
		docs[i].Metadata[MetaFormat] = string(format)
	}
	return docs, nil
}
