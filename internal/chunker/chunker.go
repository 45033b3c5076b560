// Package chunker splits document text into overlapping segments for
// embedding.
package chunker

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/mcp-ai/rag-server/internal/domain"
)

// DefaultChunkSize is the default number of characters per chunk.
const DefaultChunkSize = 1000

// DefaultChunkOverlap is the default number of overlapping characters.
const DefaultChunkOverlap = 200

// Metadata keys added to every chunk.
const (
	MetaFileID = "file_id"
	MetaChunk  = "chunk"
)

// Break points in order of preference. A chunk ends just after the separator.
var separators = [][]rune{
	[]rune("\n\n"),
	[]rune("\n"),
	[]rune(". "),
	[]rune("! "),
	[]rune("? "),
	[]rune(" "),
}

var (
	spaceRun   = regexp.MustCompile(`[ \t\f\v\x{00A0}]+`)
	padNewline = regexp.MustCompile(` *\n *`)
	newlineRun = regexp.MustCompile(`\n{3,}`)
)

// Splitter cuts text into chunks of at most chunkSize characters where
// consecutive chunks share exactly overlap characters.
type Splitter struct {
	chunkSize int
	overlap   int
}

// Option configures a Splitter.
type Option func(*Splitter)

// WithChunkSize sets the chunk size in characters.
func WithChunkSize(size int) Option {
	return func(s *Splitter) {
		if size > 0 {
			s.chunkSize = size
		}
	}
}

// WithOverlap sets the overlap between chunks in characters.
func WithOverlap(overlap int) Option {
	return func(s *Splitter) {
		if overlap >= 0 {
			s.overlap = overlap
		}
	}
}

func New(opts ...Option) *Splitter {
	s := &Splitter{
		chunkSize: DefaultChunkSize,
		overlap:   DefaultChunkOverlap,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.overlap >= s.chunkSize {
		s.overlap = s.chunkSize / 4
	}
	return s
}

func (s *Splitter) ChunkSize() int { return s.chunkSize }
func (s *Splitter) Overlap() int   { return s.overlap }

// Split chunks every document and tags each chunk with fileID. Chunk indexes
// run across all documents in order.
func (s *Splitter) Split(docs []domain.Document, fileID int64) []domain.Chunk {
	var chunks []domain.Chunk
	for _, doc := range docs {
		for _, text := range s.SplitText(doc.Content) {
			meta := make(map[string]string, len(doc.Metadata)+2)
			for k, v := range doc.Metadata {
				meta[k] = v
			}
			meta[MetaFileID] = strconv.FormatInt(fileID, 10)
			meta[MetaChunk] = strconv.Itoa(len(chunks))

			chunks = append(chunks, domain.Chunk{
				ID:       uuid.New().String(),
				FileID:   fileID,
				Index:    len(chunks),
				Text:     text,
				Metadata: meta,
			})
		}
	}
	return chunks
}

// SplitText normalizes whitespace in text and splits it. Dropping the first
// Overlap() characters of every chunk after the first and concatenating gives
// back Normalize(text).
func (s *Splitter) SplitText(text string) []string {
	r := []rune(Normalize(text))
	n := len(r)
	if n == 0 {
		return nil
	}
	if n <= s.chunkSize {
		return []string{string(r)}
	}

	// Breaking earlier than this would stall or produce tiny chunks.
	minLen := max(s.overlap+1, s.chunkSize/2)

	var out []string
	start := 0
	for {
		end := start + s.chunkSize
		if end >= n {
			out = append(out, string(r[start:]))
			return out
		}
		cut := findBreak(r, start+minLen, end)
		out = append(out, string(r[start:cut]))
		start = cut - s.overlap
	}
}

// findBreak returns the largest position in [lo, hi] that ends on the most
// preferred separator, or hi when none is found.
func findBreak(r []rune, lo, hi int) int {
	for _, sep := range separators {
		for b := hi; b >= lo; b-- {
			if endsWith(r[:b], sep) {
				return b
			}
		}
	}
	return hi
}

func endsWith(r, suffix []rune) bool {
	if len(r) < len(suffix) {
		return false
	}
	tail := r[len(r)-len(suffix):]
	for i := range suffix {
		if tail[i] != suffix[i] {
			return false
		}
	}
	return true
}

// Normalize converts line endings, strips NUL bytes and collapses runs of
// blanks and empty lines.
func Normalize(text string) string {
	text = strings.ToValidUTF8(text, "")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.ReplaceAll(text, "\x00", "")
	text = spaceRun.ReplaceAllString(text, " ")
	text = padNewline.ReplaceAllString(text, "\n")
	text = newlineRun.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
