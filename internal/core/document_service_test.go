package core

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcp-ai/rag-server/internal/chunker"
	"github.com/mcp-ai/rag-server/internal/domain"
	"github.com/mcp-ai/rag-server/internal/store"
	"github.com/mcp-ai/rag-server/internal/vectorstore"
)

type docFixture struct {
	svc      *DocumentService
	registry *store.SQLiteStore
	index    *vectorstore.Index
	embedder *keywordEmbedder
	dir      string
}

func newDocFixture(t *testing.T) *docFixture {
	t.Helper()
	dir := t.TempDir()
	logger, _ := bufferLogger()

	registry, err := store.NewSQLiteStore(filepath.Join(dir, "rag_app.db"))
	require.NoError(t, err)
	t.Cleanup(func() { registry.Close() })

	emb := &keywordEmbedder{}
	index, err := vectorstore.Open(filepath.Join(dir, "vector_data"), emb, vectorstore.WithLogger(logger))
	require.NoError(t, err)
	t.Cleanup(func() { index.Close() })

	return &docFixture{
		svc:      NewDocumentService(registry, index, chunker.New(), logger),
		registry: registry,
		index:    index,
		embedder: emb,
		dir:      dir,
	}
}

func (f *docFixture) writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(f.dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func (f *docFixture) registryCount(t *testing.T) int {
	t.Helper()
	docs, err := f.svc.ListDocuments(context.Background())
	require.NoError(t, err)
	return len(docs)
}

// onePagePDF builds a single-page PDF whose page shows text.
func onePagePDF(text string) []byte {
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
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return buf.Bytes()
}

func htmlPage(title, body string) []byte {
	return []byte("<html><head><title>" + title + "</title></head><body><p>" + body + "</p></body></html>")
}

func TestIngest_IndexesAndRegisters(t *testing.T) {
	f := newDocFixture(t)
	path := f.writeFile(t, "germany.html", htmlPage("Germany facts", "Berlin is the capital of Germany."))

	id, err := f.svc.Ingest(context.Background(), path, "germany.html")
	require.NoError(t, err)
	assert.Positive(t, id)

	rec, err := f.registry.GetDocument(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "germany.html", rec.Filename)
	assert.Equal(t, 1, f.index.CountByFileID(id))
}

func TestIngest_UnsupportedFormatRollsBack(t *testing.T) {
	f := newDocFixture(t)
	path := f.writeFile(t, "notes.txt", []byte("Paris is the capital of France."))

	_, err := f.svc.Ingest(context.Background(), path, "notes.txt")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUnsupportedFormat)
	assert.Equal(t, 0, f.registryCount(t))
	assert.Equal(t, 0, f.index.Count())
}

func TestIngest_EmbeddingFailureRollsBack(t *testing.T) {
	f := newDocFixture(t)
	f.embedder.setFail(true)
	path := f.writeFile(t, "germany.html", htmlPage("Germany", "Berlin is the capital of Germany."))

	_, err := f.svc.Ingest(context.Background(), path, "germany.html")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrEmbedding)
	assert.Equal(t, 0, f.registryCount(t))
	assert.Equal(t, 0, f.index.Count())
}

func TestIngest_CorruptFileRollsBack(t *testing.T) {
	f := newDocFixture(t)
	path := f.writeFile(t, "broken.docx", []byte("definitely not a zip"))

	_, err := f.svc.Ingest(context.Background(), path, "broken.docx")
	assert.ErrorIs(t, err, domain.ErrLoad)
	assert.Equal(t, 0, f.registryCount(t))
}

// failingRegistry wraps the real store and fails deletes.
type failingRegistry struct {
	*store.SQLiteStore
	deleteErr error
}

func (r *failingRegistry) DeleteDocumentRecord(context.Context, int64) error {
	return r.deleteErr
}

func TestIngest_RollbackFailureJoinsErrors(t *testing.T) {
	f := newDocFixture(t)
	rollbackErr := domain.Errorf(domain.ErrRegistry, "store.DeleteDocumentRecord", "database is locked")
	logger, logs := bufferLogger()
	svc := NewDocumentService(&failingRegistry{SQLiteStore: f.registry, deleteErr: rollbackErr}, f.index, chunker.New(), logger)
	path := f.writeFile(t, "notes.txt", []byte("text"))

	_, err := svc.Ingest(context.Background(), path, "notes.txt")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUnsupportedFormat)
	assert.ErrorIs(t, err, domain.ErrRegistry)
	assert.Contains(t, logs.String(), "rollback after failed ingestion failed")
	assert.Contains(t, logs.String(), `"file_id":1`)
}

func TestIndexDocument_RequiresRecord(t *testing.T) {
	f := newDocFixture(t)
	path := f.writeFile(t, "germany.html", htmlPage("Germany", "Berlin is the capital of Germany."))

	err := f.svc.IndexDocument(context.Background(), path, 42)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, 0, f.index.Count())
}

func TestRegisterThenIndex(t *testing.T) {
	f := newDocFixture(t)
	ctx := context.Background()
	path := f.writeFile(t, "germany.html", htmlPage("Germany", "Berlin is the capital of Germany."))

	id, err := f.svc.RegisterDocument(ctx, "germany.html")
	require.NoError(t, err)
	require.NoError(t, f.svc.IndexDocument(ctx, path, id))
	assert.Equal(t, 1, f.index.CountByFileID(id))
}

// failingIndex fails every delete.
type failingIndex struct {
	ChunkIndex
}

func (failingIndex) DeleteByFileID(context.Context, int64) (int, error) {
	return 0, domain.Errorf(domain.ErrIndex, "vectorstore.DeleteByFileID", "disk I/O error")
}

func TestDeleteDocument_IndexFailureKeepsRecord(t *testing.T) {
	f := newDocFixture(t)
	ctx := context.Background()
	id, err := f.registry.InsertDocumentRecord(ctx, "france.pdf")
	require.NoError(t, err)

	svc := NewDocumentService(f.registry, failingIndex{ChunkIndex: f.index}, chunker.New(), nil)
	_, err = svc.DeleteDocument(ctx, id)
	assert.ErrorIs(t, err, domain.ErrIndex)

	_, err = f.registry.GetDocument(ctx, id)
	assert.NoError(t, err, "registry entry must survive a failed chunk delete")
}

func TestDeleteDocument_RemovesChunksThenRecord(t *testing.T) {
	f := newDocFixture(t)
	ctx := context.Background()
	path := f.writeFile(t, "germany.html", htmlPage("Germany", "Berlin is the capital of Germany."))
	id, err := f.svc.Ingest(ctx, path, "germany.html")
	require.NoError(t, err)

	removed, err := f.svc.DeleteDocument(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 0, f.index.CountByFileID(id))
	assert.Equal(t, 0, f.registryCount(t))

	removed, err = f.svc.DeleteDocument(ctx, id)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Zero(t, removed)
}

func TestDeleteDocument_CleansOrphanChunks(t *testing.T) {
	f := newDocFixture(t)
	ctx := context.Background()
	require.NoError(t, f.index.Add(ctx, []domain.Chunk{{ID: "orphan", FileID: 77, Text: "paris"}}))

	removed, err := f.svc.DeleteDocument(ctx, 77)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 0, f.index.Count())
}

func TestListDocuments_NewestFirst(t *testing.T) {
	f := newDocFixture(t)
	ctx := context.Background()
	for _, name := range []string{"a.html", "b.html"} {
		_, err := f.svc.RegisterDocument(ctx, name)
		require.NoError(t, err)
	}
	docs, err := f.svc.ListDocuments(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "b.html", docs[0].Filename)
}

func TestSupported(t *testing.T) {
	svc := NewDocumentService(nil, nil, nil, nil)
	assert.True(t, svc.Supported("a.PDF"))
	assert.True(t, svc.Supported("b.docx"))
	assert.True(t, svc.Supported("c.html"))
	assert.False(t, svc.Supported("d.txt"))
}
