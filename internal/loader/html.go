package loader

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/net/html"

	"github.com/mcp-ai/rag-server/internal/domain"
)

var skippedElements = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"head":     true,
	"svg":      true,
	"template": true,
}

var blockElements = map[string]bool{
	"p": true, "div": true, "br": true, "hr": true, "li": true, "tr": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"blockquote": true, "pre": true, "table": true, "section": true, "article": true,
	"ul": true, "ol": true, "header": true, "footer": true, "main": true,
}

func loadHTML(path string) ([]domain.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	root, err := html.Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	text := cleanLines(extractHTMLText(root))
	if text == "" {
		return nil, errors.New("no text extracted from html")
	}

	meta := map[string]string{}
	if title := findTitle(root); title != "" {
		meta[MetaTitle] = title
	}
	return []domain.Document{{Content: text, Metadata: meta}}, nil
}

func extractHTMLText(n *html.Node) string {
	var buf strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.ElementNode && skippedElements[node.Data] {
			return
		}
		if node.Type == html.TextNode {
			buf.WriteString(node.Data)
		}
		block := node.Type == html.ElementNode && blockElements[node.Data]
		if block {
			buf.WriteString("\n")
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
		if block {
			buf.WriteString("\n")
		}
	}
	walk(n)
	return buf.String()
}

func findTitle(n *html.Node) string {
	if n.Type == html.ElementNode && n.Data == "title" {
		if n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
			return strings.TrimSpace(n.FirstChild.Data)
		}
		return ""
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if title := findTitle(child); title != "" {
			return title
		}
	}
	return ""
}

// cleanLines collapses runs of spaces inside each line and drops blank lines,
// keeping a blank line between paragraphs.
func cleanLines(s string) string {
	var out []string
	blank := false
	for _, line := range strings.Split(s, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			blank = len(out) > 0
			continue
		}
		if blank {
			out = append(out, "")
			blank = false
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}
