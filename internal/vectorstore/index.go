// Package vectorstore is the persistent vector index. Chunks live in a SQLite
// file under a fixed directory and are mirrored in memory for scoring.
package vectorstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"golang.org/x/sync/errgroup"

	"github.com/mcp-ai/rag-server/internal/domain"
	"github.com/mcp-ai/rag-server/internal/utils"
)

// IndexFile is the database file created inside the index directory.
const IndexFile = "index.db"

const (
	defaultBatchSize   = 100
	defaultConcurrency = 4
)

type entry struct {
	seq   int64 // insertion order, breaks score ties
	chunk domain.Chunk
}

type Index struct {
	db       *sql.DB
	embedder domain.Embedder
	logger   *slog.Logger

	batchSize   int
	concurrency int

	// Operations on the same file_id are serialized.
	fileLocks *utils.KeyedMutex[int64]

	mu      sync.RWMutex
	entries []entry
}

type Option func(*Index)

// WithBatchSize sets how many texts go into one batch embedding request.
func WithBatchSize(n int) Option {
	return func(ix *Index) {
		if n > 0 {
			ix.batchSize = n
		}
	}
}

// WithConcurrency caps the number of embedding requests in flight per Add.
func WithConcurrency(n int) Option {
	return func(ix *Index) {
		if n > 0 {
			ix.concurrency = n
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(ix *Index) {
		ix.logger = logger
	}
}

// Open creates dir if needed, opens the index database inside it and loads
// every stored chunk into memory.
func Open(dir string, embedder domain.Embedder, opts ...Option) (*Index, error) {
	const op = "vectorstore.Open"

	if embedder == nil {
		return nil, domain.Errorf(domain.ErrInvalidInput, op, "embedder is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, domain.Wrap(domain.ErrIndex, op, fmt.Errorf("create index dir: %w", err))
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", filepath.Join(dir, IndexFile))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, domain.Wrap(domain.ErrIndex, op, fmt.Errorf("failed to open database: %w", err))
	}
	db.SetMaxOpenConns(1)
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, domain.Wrap(domain.ErrIndex, op, fmt.Errorf("failed to ping database: %w", err))
	}

	ix := &Index{
		db:          db,
		embedder:    embedder,
		batchSize:   defaultBatchSize,
		concurrency: defaultConcurrency,
		fileLocks:   utils.NewKeyedMutex[int64](),
	}
	for _, opt := range opts {
		opt(ix)
	}
	ix.logger = utils.OrDefault(ix.logger)

	if err = ix.initSchema(); err != nil {
		db.Close()
		return nil, domain.Wrap(domain.ErrIndex, op, fmt.Errorf("failed to initialize schema: %w", err))
	}
	if err = ix.load(); err != nil {
		db.Close()
		return nil, domain.Wrap(domain.ErrIndex, op, err)
	}
	ix.logger.Info("vector index opened", "dir", dir, "chunks", len(ix.entries))
	return ix, nil
}

func (ix *Index) Close() error {
	return ix.db.Close()
}

func (ix *Index) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS chunks (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        chunk_id TEXT NOT NULL,
        file_id INTEGER NOT NULL,
        chunk_index INTEGER NOT NULL,
        content TEXT NOT NULL,
        metadata_json TEXT NOT NULL DEFAULT '{}',
        embedding BLOB NOT NULL
    );

    CREATE INDEX IF NOT EXISTS idx_chunks_file_id ON chunks (file_id);
    `
	_, err := ix.db.Exec(schema)
	return err
}

func (ix *Index) load() error {
	rows, err := ix.db.Query("SELECT id, chunk_id, file_id, chunk_index, content, metadata_json, embedding FROM chunks ORDER BY id ASC")
	if err != nil {
		return fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	var entries []entry
	for rows.Next() {
		var (
			e        entry
			metaJSON string
			blob     []byte
		)
		if err := rows.Scan(&e.seq, &e.chunk.ID, &e.chunk.FileID, &e.chunk.Index, &e.chunk.Text, &metaJSON, &blob); err != nil {
			return fmt.Errorf("failed to scan chunk row: %w", err)
		}
		if err := json.Unmarshal([]byte(metaJSON), &e.chunk.Metadata); err != nil {
			ix.logger.Warn("skipping chunk with unreadable metadata", "chunk_id", e.chunk.ID, "file_id", e.chunk.FileID, "error", err)
			continue
		}
		vec, err := utils.DecodeVector(blob)
		if err != nil || len(vec) == 0 {
			ix.logger.Warn("skipping chunk with unreadable embedding", "chunk_id", e.chunk.ID, "file_id", e.chunk.FileID, "error", err)
			continue
		}
		e.chunk.Embedding = vec
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read chunks: %w", err)
	}

	ix.mu.Lock()
	ix.entries = entries
	ix.mu.Unlock()
	return nil
}

// Add embeds every chunk and persists the whole batch in one transaction.
// Nothing becomes searchable unless every chunk was embedded and stored.
func (ix *Index) Add(ctx context.Context, chunks []domain.Chunk) error {
	const op = "vectorstore.Add"
	if len(chunks) == 0 {
		return nil
	}

	fileIDs := make([]int64, len(chunks))
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		fileIDs[i] = c.FileID
		texts[i] = c.Text
	}
	unlock := utils.LockInt64s(ix.fileLocks, fileIDs)
	defer unlock()

	vectors, err := ix.embedAll(ctx, texts)
	if err != nil {
		return domain.Wrap(domain.ErrEmbedding, op, err)
	}

	added, err := ix.insert(ctx, chunks, vectors)
	if err != nil {
		return domain.Wrap(domain.ErrIndex, op, err)
	}

	ix.mu.Lock()
	ix.entries = append(ix.entries, added...)
	ix.mu.Unlock()

	ix.logger.Debug("chunks indexed", "file_ids", uniqueIDs(fileIDs), "count", len(added))
	return nil
}

func (ix *Index) insert(ctx context.Context, chunks []domain.Chunk, vectors [][]float32) ([]entry, error) {
	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO chunks (chunk_id, file_id, chunk_index, content, metadata_json, embedding) VALUES (?, ?, ?, ?, ?, ?)")
	if err != nil {
		return nil, fmt.Errorf("failed to prepare chunk insert: %w", err)
	}
	defer stmt.Close()

	added := make([]entry, 0, len(chunks))
	for i, c := range chunks {
		meta := c.Metadata
		if meta == nil {
			meta = map[string]string{}
		}
		metaJSON, err := json.Marshal(meta)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal metadata for chunk %s: %w", c.ID, err)
		}
		res, err := stmt.ExecContext(ctx, c.ID, c.FileID, c.Index, c.Text, string(metaJSON), utils.EncodeVector(vectors[i]))
		if err != nil {
			return nil, fmt.Errorf("failed to execute chunk insert: %w", err)
		}
		seq, err := res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("failed to read chunk row id: %w", err)
		}

		stored := c
		stored.Metadata = meta
		stored.Embedding = vectors[i]
		added = append(added, entry{seq: seq, chunk: stored})
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit chunks: %w", err)
	}
	return added, nil
}

// embedAll returns one vector per text in input order. Batched when the
// embedder supports it; the first failure cancels the remaining requests.
func (ix *Index) embedAll(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.concurrency)

	if batcher, ok := ix.embedder.(domain.BatchEmbedder); ok {
		for start := 0; start < len(texts); start += ix.batchSize {
			start := start
			end := min(start+ix.batchSize, len(texts))
			g.Go(func() error {
				out, err := batcher.EmbedDocuments(gctx, texts[start:end])
				if err != nil {
					return fmt.Errorf("embed batch [%d:%d]: %w", start, end, err)
				}
				if len(out) != end-start {
					return fmt.Errorf("embed batch [%d:%d]: got %d vectors", start, end, len(out))
				}
				copy(vectors[start:end], out)
				return nil
			})
		}
	} else {
		for i, text := range texts {
			i, text := i, text
			g.Go(func() error {
				vec, err := ix.embedder.Embed(gctx, text)
				if err != nil {
					return fmt.Errorf("embed chunk %d: %w", i, err)
				}
				vectors[i] = vec
				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dim := len(vectors[0])
	for i, v := range vectors {
		if len(v) == 0 {
			return nil, fmt.Errorf("empty embedding for chunk %d", i)
		}
		if len(v) != dim {
			return nil, fmt.Errorf("embedding dimension mismatch for chunk %d: %d != %d", i, len(v), dim)
		}
	}
	return vectors, nil
}

// Search returns up to k chunks ordered by descending cosine similarity to
// query. Equal scores keep insertion order.
func (ix *Index) Search(ctx context.Context, query string, k int) ([]domain.ScoredChunk, error) {
	const op = "vectorstore.Search"
	if k <= 0 {
		return nil, nil
	}

	qv, err := ix.embedder.Embed(ctx, query)
	if err != nil {
		return nil, domain.Wrap(domain.ErrEmbedding, op, err)
	}
	if len(qv) == 0 {
		return nil, domain.Errorf(domain.ErrEmbedding, op, "empty query embedding")
	}

	ix.mu.RLock()
	scored := make([]domain.ScoredChunk, 0, len(ix.entries))
	for _, e := range ix.entries {
		sim, err := utils.CosineSimilarity(qv, e.chunk.Embedding)
		if err != nil {
			ix.logger.Debug("skipping chunk", "chunk_id", e.chunk.ID, "file_id", e.chunk.FileID, "error", err)
			continue
		}
		scored = append(scored, domain.ScoredChunk{Chunk: e.chunk, Score: sim})
	}
	ix.mu.RUnlock()

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

// DeleteByFileID removes every chunk tagged with fileID and returns how many
// were removed. Deleting an unknown id removes nothing and is not an error.
func (ix *Index) DeleteByFileID(ctx context.Context, fileID int64) (int, error) {
	const op = "vectorstore.DeleteByFileID"

	unlock := ix.fileLocks.Lock(fileID)
	defer unlock()

	res, err := ix.db.ExecContext(ctx, "DELETE FROM chunks WHERE file_id = ?", fileID)
	if err != nil {
		return 0, domain.Wrap(domain.ErrIndex, op, fmt.Errorf("failed to delete chunks for file %d: %w", fileID, err))
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, domain.Wrap(domain.ErrIndex, op, err)
	}

	ix.mu.Lock()
	kept := ix.entries[:0]
	for _, e := range ix.entries {
		if e.chunk.FileID != fileID {
			kept = append(kept, e)
		}
	}
	clear(ix.entries[len(kept):])
	ix.entries = kept
	ix.mu.Unlock()

	ix.logger.Debug("chunks deleted", "file_id", fileID, "count", affected)
	return int(affected), nil
}

// Count returns the number of searchable chunks.
func (ix *Index) Count() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.entries)
}

// CountByFileID returns the number of searchable chunks for one file.
func (ix *Index) CountByFileID(fileID int64) int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	n := 0
	for _, e := range ix.entries {
		if e.chunk.FileID == fileID {
			n++
		}
	}
	return n
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	var out []int64
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
