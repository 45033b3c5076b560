package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mcp-ai/rag-server/internal/core"
	"github.com/mcp-ai/rag-server/internal/domain"
	"github.com/mcp-ai/rag-server/internal/loader"
	"github.com/mcp-ai/rag-server/internal/utils"
)

// Multipart overhead allowed on top of the loader's file size limit.
const uploadSlack = 1 << 20

type ChatService interface {
	Chat(ctx context.Context, req core.ChatRequest) (*core.ChatResponse, error)
}

type DocumentService interface {
	Ingest(ctx context.Context, path, filename string) (int64, error)
	DeleteDocument(ctx context.Context, fileID int64) (int, error)
	ListDocuments(ctx context.Context) ([]domain.DocumentRecord, error)
	Supported(filename string) bool
}

type APIHandler struct {
	chatService ChatService
	docService  DocumentService
	uploadDir   string
	logger      *slog.Logger
}

func NewAPIHandler(cs ChatService, ds DocumentService, uploadDir string, logger *slog.Logger) *APIHandler {
	return &APIHandler{
		chatService: cs,
		docService:  ds,
		uploadDir:   uploadDir,
		logger:      utils.OrDefault(logger),
	}
}

type QueryInput struct {
	Question  string `json:"question"`
	SessionID string `json:"session_id,omitempty"`
	Model     string `json:"model,omitempty"`
}

type QueryResponse struct {
	Answer    string `json:"answer"`
	SessionID string `json:"session_id"`
	Model     string `json:"model"`
	// Warning is set when the answer could not be saved to the session log.
	Warning string `json:"warning,omitempty"`
}

type DeleteFileRequest struct {
	FileID int64 `json:"file_id"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

func (h *APIHandler) RootHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "RAG server is running. See /api/v1 for the API."})
}

func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *APIHandler) ChatHandler(w http.ResponseWriter, r *http.Request) {
	var req QueryInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, domain.Errorf(domain.ErrInvalidInput, "api.Chat", "invalid request body: %v", err))
		return
	}

	resp, err := h.chatService.Chat(r.Context(), core.ChatRequest{
		Question:  req.Question,
		SessionID: req.SessionID,
		Model:     req.Model,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	out := QueryResponse{Answer: resp.Answer, SessionID: resp.SessionID, Model: resp.Model}
	if resp.LogErr != nil {
		out.Warning = "the answer could not be saved to the session history"
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *APIHandler) UploadHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, loader.MaxFileSize+uploadSlack)

	file, header, err := r.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.writeError(w, r, domain.Errorf(domain.ErrInvalidInput, "api.Upload", "file exceeds %d bytes", loader.MaxFileSize))
			return
		}
		h.writeError(w, r, domain.Errorf(domain.ErrInvalidInput, "api.Upload", "no file uploaded"))
		return
	}
	defer file.Close()

	filename := filepath.Base(header.Filename)
	if !h.docService.Supported(filename) {
		h.writeError(w, r, domain.Errorf(domain.ErrUnsupportedFormat, "api.Upload",
			"unsupported file type, allowed types are .pdf, .docx, .html"))
		return
	}

	path, err := h.stage(file, filename)
	if err != nil {
		h.writeError(w, r, fmt.Errorf("failed to stage upload: %w", err))
		return
	}
	defer func() {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			h.logger.Warn("failed to remove staged upload", "path", path, "error", err)
		}
	}()

	fileID, err := h.docService.Ingest(r.Context(), path, filename)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message": fmt.Sprintf("File %s has been successfully uploaded and indexed.", filename),
		"file_id": fileID,
	})
}

// stage copies the upload into the upload directory under a unique name that
// keeps the original extension.
func (h *APIHandler) stage(src io.Reader, filename string) (string, error) {
	if err := os.MkdirAll(h.uploadDir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(h.uploadDir, fmt.Sprintf("%d_%s", time.Now().UnixNano(), filename))
	dst, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(path)
		return "", err
	}
	if err := dst.Close(); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

func (h *APIHandler) ListDocumentsHandler(w http.ResponseWriter, r *http.Request) {
	docs, err := h.docService.ListDocuments(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

func (h *APIHandler) DeleteDocumentHandler(w http.ResponseWriter, r *http.Request) {
	var req DeleteFileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, domain.Errorf(domain.ErrInvalidInput, "api.DeleteDocument", "invalid request body: %v", err))
		return
	}
	if req.FileID <= 0 {
		h.writeError(w, r, domain.Errorf(domain.ErrInvalidInput, "api.DeleteDocument", "file_id must be positive"))
		return
	}

	removed, err := h.docService.DeleteDocument(r.Context(), req.FileID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":        fmt.Sprintf("Successfully deleted document with file_id %d from the system.", req.FileID),
		"chunks_removed": removed,
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrUnsupportedFormat):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (h *APIHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	detail := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		detail = "internal error: " + detail
	}
	writeJSON(w, status, errorResponse{Detail: strings.TrimSpace(detail)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
