package loader

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/mcp-ai/rag-server/internal/domain"
)

// loadPDF returns one Document per page that has extractable text.
func loadPDF(path string) (docs []domain.Document, err error) {
	// The parser panics on some malformed files.
	defer func() {
		if r := recover(); r != nil {
			docs = nil
			err = fmt.Errorf("corrupt pdf: %v", r)
		}
	}()

	file, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer file.Close()

	totalPages := reader.NumPage()
	var pageErrs []error
	for i := 1; i <= totalPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			pageErrs = append(pageErrs, fmt.Errorf("page %d: %w", i, err))
			continue
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		docs = append(docs, domain.Document{
			Content: text,
			Metadata: map[string]string{
				MetaPage: strconv.Itoa(i),
			},
		})
	}
	if len(docs) == 0 {
		if len(pageErrs) > 0 {
			return nil, errors.Join(pageErrs...)
		}
		return nil, errors.New("no text extracted from pdf")
	}
	return docs, nil
}
