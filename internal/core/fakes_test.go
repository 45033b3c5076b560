package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/mcp-ai/rag-server/internal/domain"
)

var vocab = []string{"paris", "france", "berlin", "germany", "capital", "population"}

// keywordEmbedder counts vocabulary words; the last dimension keeps vectors
// non-zero.
type keywordEmbedder struct {
	mu   sync.Mutex
	fail bool
}

func (e *keywordEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	fail := e.fail
	e.mu.Unlock()
	if fail {
		return nil, errors.New("embedding provider unavailable")
	}
	vec := make([]float32, len(vocab)+1)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,?!'\"")
		for i, v := range vocab {
			if w == v {
				vec[i]++
			}
		}
	}
	vec[len(vocab)] = 0.01
	return vec, nil
}

func (e *keywordEmbedder) setFail(fail bool) {
	e.mu.Lock()
	e.fail = fail
	e.mu.Unlock()
}

// fakeGenerator dispatches on the system instruction: rewrite requests and
// answer requests get separate handlers.
type fakeGenerator struct {
	mu       sync.Mutex
	requests []domain.GenerateRequest
	rewrite  func(ctx context.Context, req domain.GenerateRequest) (string, error)
	answer   func(ctx context.Context, req domain.GenerateRequest) (string, error)
}

func (g *fakeGenerator) Generate(ctx context.Context, req domain.GenerateRequest) (string, error) {
	g.mu.Lock()
	g.requests = append(g.requests, req)
	g.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if req.System == rewriteInstruction {
		if g.rewrite == nil {
			return req.Prompt, nil
		}
		return g.rewrite(ctx, req)
	}
	if g.answer == nil {
		return "answer: " + req.Prompt, nil
	}
	return g.answer(ctx, req)
}

func (g *fakeGenerator) calls(kind string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, r := range g.requests {
		isRewrite := r.System == rewriteInstruction
		if (kind == "rewrite") == isRewrite {
			n++
		}
	}
	return n
}

// subjectRewriter resolves "its" with the last country named in history.
func subjectRewriter(_ context.Context, req domain.GenerateRequest) (string, error) {
	subject := ""
	for _, e := range req.History {
		for _, country := range []string{"France", "Germany"} {
			if strings.Contains(e.Content, country) {
				subject = country
			}
		}
	}
	if subject == "" {
		return req.Prompt, nil
	}
	return fmt.Sprintf("%s in %s?\n", strings.TrimSuffix(req.Prompt, "?"), subject), nil
}

// contextAnswerer answers with the context it was given.
func contextAnswerer(_ context.Context, req domain.GenerateRequest) (string, error) {
	_, ctxText, _ := strings.Cut(req.System, "Context:\n")
	return "According to the documents: " + ctxText, nil
}

// memoryHistory is an in-memory HistoryStore.
type memoryHistory struct {
	mu        sync.Mutex
	entries   []domain.LogEntry
	loadErr   error
	appendErr error
}

func (h *memoryHistory) GetChatHistory(_ context.Context, sessionID string, limit int) ([]domain.LogEntry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.loadErr != nil {
		return nil, h.loadErr
	}
	var out []domain.LogEntry
	for _, e := range h.entries {
		if e.SessionID == sessionID {
			out = append(out, e)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (h *memoryHistory) AppendExchange(ctx context.Context, sessionID, question, answer, model string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.appendErr != nil {
		return h.appendErr
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	h.entries = append(h.entries,
		domain.LogEntry{SessionID: sessionID, Role: domain.RoleUser, Content: question, Model: model},
		domain.LogEntry{SessionID: sessionID, Role: domain.RoleAssistant, Content: answer, Model: model},
	)
	return nil
}

func (h *memoryHistory) all() []domain.LogEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]domain.LogEntry(nil), h.entries...)
}

// staticSearcher returns fixed hits.
type staticSearcher struct {
	hits []domain.ScoredChunk
	err  error
	k    int
}

func (s *staticSearcher) Search(_ context.Context, _ string, k int) ([]domain.ScoredChunk, error) {
	s.k = k
	if s.err != nil {
		return nil, s.err
	}
	out := append([]domain.ScoredChunk(nil), s.hits...)
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func hit(text string, score float32) domain.ScoredChunk {
	return domain.ScoredChunk{Chunk: domain.Chunk{Text: text, FileID: 1}, Score: score}
}

func bufferLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return logger, &buf
}
