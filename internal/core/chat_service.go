package core

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/mcp-ai/rag-server/internal/config"
	"github.com/mcp-ai/rag-server/internal/domain"
	"github.com/mcp-ai/rag-server/internal/utils"
)

// State is a step of the chat pipeline.
type State string

const (
	StateReceived       State = "RECEIVED"
	StateHistoryLoaded  State = "HISTORY_LOADED"
	StateQueryRewritten State = "QUERY_REWRITTEN"
	StateRetrieved      State = "RETRIEVED"
	StateAnswered       State = "ANSWERED"
	StateLogged         State = "LOGGED"
	StateFailed         State = "FAILED"
)

// StageError reports a chat that ended in FAILED. Stage is the state that
// could not be reached.
type StageError struct {
	Stage State
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("chat failed before %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// HistoryStore is the session log.
type HistoryStore interface {
	GetChatHistory(ctx context.Context, sessionID string, limit int) ([]domain.LogEntry, error)
	AppendExchange(ctx context.Context, sessionID, question, answer, model string) error
}

type ChatRequest struct {
	Question  string
	SessionID string // generated when empty
	Model     string // config default when empty
}

type ChatResponse struct {
	Answer          string               `json:"answer"`
	SessionID       string               `json:"session_id"`
	Model           string               `json:"model"`
	State           State                `json:"state"`
	RewrittenQuery  string               `json:"rewritten_query,omitempty"`
	RewriteFallback bool                 `json:"rewrite_fallback,omitempty"`
	Sources         []domain.ScoredChunk `json:"sources,omitempty"`
	// LogErr is set when the answer was produced but could not be logged.
	// State is then ANSWERED.
	LogErr error `json:"-"`
}

type ChatService struct {
	history      HistoryStore
	rewriter     *QueryRewriter
	retriever    *Retriever
	synthesizer  *AnswerSynthesizer
	historyTurns int
	defaultModel string
	sequencer    *sessionSequencer
	logger       *slog.Logger
}

func NewChatService(history HistoryStore, rewriter *QueryRewriter, retriever *Retriever, synthesizer *AnswerSynthesizer, cfg *config.Config, logger *slog.Logger) *ChatService {
	defaultModel := cfg.DefaultModel
	if defaultModel == "" {
		defaultModel = config.DefaultModelName
	}
	return &ChatService{
		history:      history,
		rewriter:     rewriter,
		retriever:    retriever,
		synthesizer:  synthesizer,
		historyTurns: cfg.HistoryTurns,
		defaultModel: defaultModel,
		sequencer:    newSessionSequencer(),
		logger:       utils.OrDefault(logger),
	}
}

// Chat runs RECEIVED → HISTORY_LOADED → QUERY_REWRITTEN → RETRIEVED →
// ANSWERED → LOGGED. A failed step returns a *StageError and nothing is
// logged. A rewrite failure falls back to the raw question.
func (s *ChatService) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	const op = "core.ChatService.Chat"

	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, &StageError{Stage: StateHistoryLoaded, Err: domain.Errorf(domain.ErrInvalidInput, op, "question is required")}
	}
	model := req.Model
	if model == "" {
		model = s.defaultModel
	}
	if _, ok := config.LookupModel(model); !ok {
		return nil, &StageError{Stage: StateHistoryLoaded, Err: domain.Errorf(domain.ErrInvalidInput, op,
			"unknown model %q, available: %s", model, strings.Join(config.ModelNames(), ", "))}
	}
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	logger := s.logger.With("session_id", sessionID, "model", model)
	t := s.sequencer.take(sessionID)
	defer s.sequencer.release(t)

	resp := &ChatResponse{SessionID: sessionID, Model: model, State: StateReceived}
	fail := func(stage State, err error) (*ChatResponse, error) {
		logger.Error("chat failed", "stage", stage, "kind", kindName(err), "error", err)
		return nil, &StageError{Stage: stage, Err: err}
	}

	history, err := s.history.GetChatHistory(ctx, sessionID, s.historyTurns)
	if err != nil {
		return fail(StateHistoryLoaded, err)
	}
	resp.State = StateHistoryLoaded

	query, err := s.rewriter.Rewrite(ctx, history, question, model)
	if err != nil {
		if ctx.Err() != nil {
			return fail(StateQueryRewritten, domain.Wrap(domain.ErrRewrite, op, ctx.Err()))
		}
		logger.Warn("query rewrite failed, using the original question", "error", err)
		query = question
		resp.RewriteFallback = true
	}
	resp.RewrittenQuery = query
	resp.State = StateQueryRewritten

	hits, err := s.retriever.Retrieve(ctx, query)
	if err != nil {
		return fail(StateRetrieved, err)
	}
	resp.Sources = hits
	resp.State = StateRetrieved
	logger.Debug("context retrieved", "query", query, "chunks", len(hits))

	answer, err := s.synthesizer.Synthesize(ctx, SynthesisInput{
		Context:  hits,
		History:  history,
		Question: question,
		Model:    model,
	})
	if err != nil {
		return fail(StateAnswered, err)
	}
	resp.Answer = answer
	resp.State = StateAnswered

	// Earlier requests of this session log first.
	if err := t.wait(ctx); err != nil {
		return fail(StateLogged, err)
	}
	if err := ctx.Err(); err != nil {
		return fail(StateLogged, err)
	}
	if err := s.history.AppendExchange(ctx, sessionID, question, answer, model); err != nil {
		logger.Error("failed to log chat exchange, returning answer anyway", "error", err)
		resp.LogErr = err
		return resp, nil
	}
	resp.State = StateLogged
	return resp, nil
}

func kindName(err error) string {
	if kind := domain.KindOf(err); kind != nil {
		return kind.Error()
	}
	return "unknown"
}
