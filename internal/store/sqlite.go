// Package store is the SQLite record store holding the document registry and
// the append-only session log.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/mcp-ai/rag-server/internal/domain"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	const op = "store.Open"

	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, domain.Wrap(domain.ErrRegistry, op, fmt.Errorf("failed to open database: %w", err))
	}
	// One writer avoids SQLITE_BUSY between concurrent requests.
	db.SetMaxOpenConns(1)
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, domain.Wrap(domain.ErrRegistry, op, fmt.Errorf("failed to ping database: %w", err))
	}

	store := &SQLiteStore{db: db}
	if err = store.initSchema(); err != nil {
		db.Close()
		return nil, domain.Wrap(domain.ErrRegistry, op, fmt.Errorf("failed to initialize schema: %w", err))
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS document_store (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        filename TEXT NOT NULL,
        upload_timestamp DATETIME NOT NULL
    );

    CREATE TABLE IF NOT EXISTS application_logs (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        session_id TEXT NOT NULL,
        role TEXT NOT NULL CHECK (role IN ('user', 'assistant')),
        content TEXT NOT NULL,
        model TEXT NOT NULL,
        created_at DATETIME NOT NULL
    );

    CREATE INDEX IF NOT EXISTS idx_application_logs_session ON application_logs (session_id, id);
    `
	_, err := s.db.Exec(schema)
	return err
}

// Document registry

// InsertDocumentRecord registers filename and returns its generated file_id.
func (s *SQLiteStore) InsertDocumentRecord(ctx context.Context, filename string) (int64, error) {
	const op = "store.InsertDocumentRecord"
	if strings.TrimSpace(filename) == "" {
		return 0, domain.Errorf(domain.ErrInvalidInput, op, "filename is required")
	}

	res, err := s.db.ExecContext(ctx, "INSERT INTO document_store (filename, upload_timestamp) VALUES (?, ?)", filename, time.Now().UTC())
	if err != nil {
		return 0, domain.Wrap(domain.ErrRegistry, op, fmt.Errorf("failed to insert document: %w", err))
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, domain.Wrap(domain.ErrRegistry, op, err)
	}
	return id, nil
}

func (s *SQLiteStore) GetDocument(ctx context.Context, fileID int64) (*domain.DocumentRecord, error) {
	const op = "store.GetDocument"

	var doc domain.DocumentRecord
	err := s.db.QueryRowContext(ctx, "SELECT id, filename, upload_timestamp FROM document_store WHERE id = ?", fileID).
		Scan(&doc.ID, &doc.Filename, &doc.UploadTimestamp)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.Errorf(domain.ErrNotFound, op, "document %d", fileID)
		}
		return nil, domain.Wrap(domain.ErrRegistry, op, fmt.Errorf("failed to query document: %w", err))
	}
	return &doc, nil
}

// GetAllDocuments lists the registry, newest upload first.
func (s *SQLiteStore) GetAllDocuments(ctx context.Context) ([]domain.DocumentRecord, error) {
	const op = "store.GetAllDocuments"

	rows, err := s.db.QueryContext(ctx, "SELECT id, filename, upload_timestamp FROM document_store ORDER BY upload_timestamp DESC, id DESC")
	if err != nil {
		return nil, domain.Wrap(domain.ErrRegistry, op, fmt.Errorf("failed to query documents: %w", err))
	}
	defer rows.Close()

	docs := []domain.DocumentRecord{}
	for rows.Next() {
		var doc domain.DocumentRecord
		if err := rows.Scan(&doc.ID, &doc.Filename, &doc.UploadTimestamp); err != nil {
			return nil, domain.Wrap(domain.ErrRegistry, op, fmt.Errorf("failed to scan document row: %w", err))
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Wrap(domain.ErrRegistry, op, err)
	}
	return docs, nil
}

// DeleteDocumentRecord removes the registry row. A missing row is ErrNotFound.
func (s *SQLiteStore) DeleteDocumentRecord(ctx context.Context, fileID int64) error {
	const op = "store.DeleteDocumentRecord"

	res, err := s.db.ExecContext(ctx, "DELETE FROM document_store WHERE id = ?", fileID)
	if err != nil {
		return domain.Wrap(domain.ErrRegistry, op, fmt.Errorf("failed to delete document: %w", err))
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return domain.Errorf(domain.ErrNotFound, op, "document %d", fileID)
	}
	return nil
}

// Session log

// AppendExchange writes the user question and the assistant answer as two
// consecutive entries of session, atomically.
func (s *SQLiteStore) AppendExchange(ctx context.Context, sessionID, question, answer, model string) error {
	const op = "store.AppendExchange"
	if sessionID == "" {
		return domain.Errorf(domain.ErrInvalidInput, op, "session id is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Wrap(domain.ErrRegistry, op, fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO application_logs (session_id, role, content, model, created_at) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return domain.Wrap(domain.ErrRegistry, op, fmt.Errorf("failed to prepare log insert: %w", err))
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, turn := range []struct {
		role    domain.Role
		content string
	}{
		{domain.RoleUser, question},
		{domain.RoleAssistant, answer},
	} {
		if _, err := stmt.ExecContext(ctx, sessionID, string(turn.role), turn.content, model, now); err != nil {
			return domain.Wrap(domain.ErrRegistry, op, fmt.Errorf("failed to execute log insert: %w", err))
		}
	}

	if err := tx.Commit(); err != nil {
		return domain.Wrap(domain.ErrRegistry, op, fmt.Errorf("failed to commit log entries: %w", err))
	}
	return nil
}

// GetChatHistory returns the last limit entries of session in insertion
// order. limit <= 0 returns the whole session.
func (s *SQLiteStore) GetChatHistory(ctx context.Context, sessionID string, limit int) ([]domain.LogEntry, error) {
	const op = "store.GetChatHistory"
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}

	query := `
        SELECT id, session_id, role, content, model, created_at FROM (
            SELECT id, session_id, role, content, model, created_at
            FROM application_logs
            WHERE session_id = ?
            ORDER BY id DESC
            LIMIT ?
        ) ORDER BY id ASC
    `
	rows, err := s.db.QueryContext(ctx, query, sessionID, limit)
	if err != nil {
		return nil, domain.Wrap(domain.ErrRegistry, op, fmt.Errorf("failed to query history: %w", err))
	}
	defer rows.Close()

	var entries []domain.LogEntry
	for rows.Next() {
		var (
			e    domain.LogEntry
			role string
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &role, &e.Content, &e.Model, &e.Timestamp); err != nil {
			return nil, domain.Wrap(domain.ErrRegistry, op, fmt.Errorf("failed to scan log row: %w", err))
		}
		e.Role = domain.Role(role)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Wrap(domain.ErrRegistry, op, err)
	}
	return entries, nil
}
