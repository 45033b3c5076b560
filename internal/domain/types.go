package domain

import (
	"context"
	"time"
)

// Document is one logical page or section extracted from an uploaded file.
type Document struct {
	Content  string
	Metadata map[string]string
}

// Chunk is a bounded segment of document text. Once handed to the vector
// index it is never mutated.
type Chunk struct {
	ID        string            `json:"id"`
	FileID    int64             `json:"file_id"`
	Index     int               `json:"index"` // position within the file
	Text      string            `json:"text"`
	Embedding []float32         `json:"-"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// ScoredChunk is a search hit.
type ScoredChunk struct {
	Chunk Chunk   `json:"chunk"`
	Score float32 `json:"score"`
}

// DocumentRecord is the registry entry for an uploaded file.
type DocumentRecord struct {
	ID              int64     `json:"id"`
	Filename        string    `json:"filename"`
	UploadTimestamp time.Time `json:"upload_timestamp"`
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// LogEntry is one turn of a session's chat history.
type LogEntry struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Model     string    `json:"model"`
	Timestamp time.Time `json:"timestamp"`
}

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// BatchEmbedder is implemented by embedders that can embed many document
// texts in one request. Results are in input order.
type BatchEmbedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

// GenerateRequest is a single completion call.
type GenerateRequest struct {
	Model       string
	System      string
	History     []LogEntry
	Prompt      string
	Temperature *float32
}

// Generator produces text from a prompt.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}
