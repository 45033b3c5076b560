package core

import (
	"context"

	"github.com/mcp-ai/rag-server/internal/domain"
)

const DefaultTopK = 4

// Searcher is the similarity search side of the vector index.
type Searcher interface {
	Search(ctx context.Context, query string, k int) ([]domain.ScoredChunk, error)
}

// Retriever returns the top k chunks for a query, dropping hits that score
// below minScore. If nothing clears the threshold the result is empty.
type Retriever struct {
	index    Searcher
	k        int
	minScore float32
}

func NewRetriever(index Searcher, k int, minScore float32) *Retriever {
	if k <= 0 {
		k = DefaultTopK
	}
	return &Retriever{index: index, k: k, minScore: minScore}
}

func (r *Retriever) Retrieve(ctx context.Context, query string) ([]domain.ScoredChunk, error) {
	hits, err := r.index.Search(ctx, query, r.k)
	if err != nil {
		return nil, err
	}

	relevant := hits[:0]
	for _, h := range hits {
		// Hits are sorted, so the first miss ends the scan.
		if h.Score < r.minScore {
			break
		}
		relevant = append(relevant, h)
	}
	return relevant, nil
}
