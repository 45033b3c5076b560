package loader

import (
	"archive/zip"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/mcp-ai/rag-server/internal/domain"
)

// loadDOCX unzips the package and streams word/document.xml, emitting one
// line per <w:p>.
func loadDOCX(path string) ([]domain.Document, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open docx zip: %w", err)
	}
	defer r.Close()

	var documentXML, coreXML *zip.File
	for _, f := range r.File {
		switch f.Name {
		case "word/document.xml":
			documentXML = f
		case "docProps/core.xml":
			coreXML = f
		}
	}
	if documentXML == nil {
		return nil, errors.New("invalid docx: missing word/document.xml")
	}

	text, err := readDocumentXML(documentXML)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("no text extracted from docx")
	}

	meta := map[string]string{}
	if coreXML != nil {
		if title := readCoreTitle(coreXML); title != "" {
			meta[MetaTitle] = title
		}
	}
	return []domain.Document{{Content: text, Metadata: meta}}, nil
}

func readDocumentXML(f *zip.File) (string, error) {
	rc, err := f.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()

	decoder := xml.NewDecoder(rc)
	var b strings.Builder
	inParagraph := false
	for {
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse document.xml: %w", err)
		}

		switch t := token.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "p":
				inParagraph = true
			case "tab":
				b.WriteString("\t")
			case "br", "cr":
				b.WriteString("\n")
			}
		case xml.EndElement:
			if t.Name.Local == "p" && inParagraph {
				b.WriteString("\n")
				inParagraph = false
			}
		case xml.CharData:
			b.Write(t)
		}
	}
	return strings.TrimSpace(b.String()), nil
}

func readCoreTitle(f *zip.File) string {
	rc, err := f.Open()
	if err != nil {
		return ""
	}
	defer rc.Close()

	var core struct {
		Title string `xml:"title"`
	}
	if err := xml.NewDecoder(rc).Decode(&core); err != nil {
		return ""
	}
	return strings.TrimSpace(core.Title)
}
