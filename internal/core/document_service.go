package core

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/mcp-ai/rag-server/internal/chunker"
	"github.com/mcp-ai/rag-server/internal/domain"
	"github.com/mcp-ai/rag-server/internal/loader"
	"github.com/mcp-ai/rag-server/internal/utils"
)

// Registry is the document record store.
type Registry interface {
	InsertDocumentRecord(ctx context.Context, filename string) (int64, error)
	GetDocument(ctx context.Context, fileID int64) (*domain.DocumentRecord, error)
	GetAllDocuments(ctx context.Context) ([]domain.DocumentRecord, error)
	DeleteDocumentRecord(ctx context.Context, fileID int64) error
}

// ChunkIndex is the write side of the vector index.
type ChunkIndex interface {
	Add(ctx context.Context, chunks []domain.Chunk) error
	DeleteByFileID(ctx context.Context, fileID int64) (int, error)
}

// DocumentService owns the ingestion and deletion boundaries. Indexing and
// deletion of the same file_id never overlap.
type DocumentService struct {
	registry Registry
	index    ChunkIndex
	splitter *chunker.Splitter
	load     func(path string) ([]domain.Document, error)
	locks    *utils.KeyedMutex[int64]
	logger   *slog.Logger
}

func NewDocumentService(registry Registry, index ChunkIndex, splitter *chunker.Splitter, logger *slog.Logger) *DocumentService {
	if splitter == nil {
		splitter = chunker.New()
	}
	return &DocumentService{
		registry: registry,
		index:    index,
		splitter: splitter,
		load:     loader.Load,
		locks:    utils.NewKeyedMutex[int64](),
		logger:   utils.OrDefault(logger),
	}
}

// RegisterDocument creates the registry record and returns its file_id.
func (s *DocumentService) RegisterDocument(ctx context.Context, filename string) (int64, error) {
	return s.registry.InsertDocumentRecord(ctx, filename)
}

// IndexDocument loads path, chunks it and adds the chunks under fileID. The
// record must still exist so a concurrent delete cannot leave orphan chunks.
func (s *DocumentService) IndexDocument(ctx context.Context, path string, fileID int64) error {
	const op = "core.DocumentService.IndexDocument"

	unlock := s.locks.Lock(fileID)
	defer unlock()

	if _, err := s.registry.GetDocument(ctx, fileID); err != nil {
		return err
	}

	docs, err := s.load(path)
	if err != nil {
		return err
	}
	chunks := s.splitter.Split(docs, fileID)
	if len(chunks) == 0 {
		return domain.Errorf(domain.ErrLoad, op, "no text to index in %s", path)
	}
	if err := s.index.Add(ctx, chunks); err != nil {
		return err
	}

	s.logger.Info("document indexed", "file_id", fileID, "pages", len(docs), "chunks", len(chunks))
	return nil
}

// Ingest registers filename and indexes path under the new file_id. On any
// indexing failure the record is removed again and the indexing error is
// returned, joined with the rollback error if that failed too.
func (s *DocumentService) Ingest(ctx context.Context, path, filename string) (int64, error) {
	fileID, err := s.RegisterDocument(ctx, filename)
	if err != nil {
		return 0, err
	}

	if err := s.IndexDocument(ctx, path, fileID); err != nil {
		// Clean up even if the caller has gone away.
		if _, rbErr := s.DeleteDocument(context.WithoutCancel(ctx), fileID); rbErr != nil {
			s.logger.Error("rollback after failed ingestion failed", "file_id", fileID, "filename", filename, "error", rbErr)
			return 0, errors.Join(err, rbErr)
		}
		s.logger.Warn("ingestion failed, registry entry rolled back", "file_id", fileID, "filename", filename, "kind", kindName(err), "error", err)
		return 0, err
	}
	return fileID, nil
}

// DeleteDocument removes the file's chunks and then its registry record. If
// the chunk deletion fails the record is kept so the delete can be retried.
// It returns the number of chunks removed.
func (s *DocumentService) DeleteDocument(ctx context.Context, fileID int64) (int, error) {
	unlock := s.locks.Lock(fileID)
	defer unlock()

	removed, err := s.index.DeleteByFileID(ctx, fileID)
	if err != nil {
		s.logger.Error("failed to delete chunks, keeping registry entry", "file_id", fileID, "error", err)
		return 0, err
	}

	if err := s.registry.DeleteDocumentRecord(ctx, fileID); err != nil {
		if errors.Is(err, domain.ErrNotFound) && removed > 0 {
			s.logger.Warn("removed chunks of a file with no registry entry", "file_id", fileID, "chunks", removed)
			return removed, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.Error("failed to delete registry entry after removing chunks", "file_id", fileID, "chunks", removed, "error", err)
		}
		return removed, err
	}

	s.logger.Info("document deleted", "file_id", fileID, "chunks", removed)
	return removed, nil
}

func (s *DocumentService) ListDocuments(ctx context.Context) ([]domain.DocumentRecord, error) {
	return s.registry.GetAllDocuments(ctx)
}

// Supported reports whether filename has an extension the loader accepts.
func (s *DocumentService) Supported(filename string) bool {
	return loader.IsSupported(strings.TrimSpace(filename))
}
