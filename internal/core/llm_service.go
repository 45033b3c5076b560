package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"

	"github.com/mcp-ai/rag-server/internal/config"
	"github.com/mcp-ai/rag-server/internal/domain"
	"github.com/mcp-ai/rag-server/internal/utils"
)

// genai uses "model" for assistant turns.
const geminiModelRole = "model"

// LLMService is the Gemini backend. It implements domain.Embedder,
// domain.BatchEmbedder and domain.Generator.
type LLMService struct {
	client         *genai.Client
	embeddingModel string
	defaultModel   string
	temperature    float32
	timeout        time.Duration
	limiter        *rate.Limiter
	logger         *slog.Logger
}

var (
	_ domain.Embedder      = (*LLMService)(nil)
	_ domain.BatchEmbedder = (*LLMService)(nil)
	_ domain.Generator     = (*LLMService)(nil)
)

func NewLLMService(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*LLMService, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.GeminiAPIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	limit := rate.Inf
	if cfg.EmbedRateLimit > 0 {
		limit = rate.Limit(cfg.EmbedRateLimit)
	}

	return &LLMService{
		client:         client,
		embeddingModel: cfg.EmbeddingModel,
		defaultModel:   cfg.DefaultModel,
		temperature:    cfg.Temperature,
		timeout:        cfg.ProviderTimeout,
		limiter:        rate.NewLimiter(limit, 1),
		logger:         utils.OrDefault(logger),
	}, nil
}

func (s *LLMService) Close() {
	if s.client != nil {
		if err := s.client.Close(); err != nil {
			s.logger.Error("error closing GenAI client", "error", err)
		} else {
			s.logger.Info("GenAI client closed")
		}
	}
}

// Embed embeds a search query.
func (s *LLMService) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("embedding rate limiter: %w", err)
	}

	em := s.client.EmbeddingModel(s.embeddingModel)
	em.TaskType = genai.TaskTypeRetrievalQuery
	res, err := em.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, providerError(ctx, "gemini embedding request failed", err)
	}
	if res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, errors.New("no embedding data received from gemini")
	}
	return res.Embedding.Values, nil
}

// EmbedDocuments embeds document chunks in a single batch request.
func (s *LLMService) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("embedding rate limiter: %w", err)
	}

	em := s.client.EmbeddingModel(s.embeddingModel)
	em.TaskType = genai.TaskTypeRetrievalDocument
	batch := em.NewBatch()
	for _, text := range texts {
		batch.AddContent(genai.Text(text))
	}

	res, err := em.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, providerError(ctx, "gemini batch embedding request failed", err)
	}
	if len(res.Embeddings) != len(texts) {
		return nil, fmt.Errorf("gemini returned %d embeddings for %d texts", len(res.Embeddings), len(texts))
	}

	out := make([][]float32, len(texts))
	for i, e := range res.Embeddings {
		if e == nil || len(e.Values) == 0 {
			return nil, fmt.Errorf("no embedding data received from gemini for text %d", i)
		}
		out[i] = e.Values
	}
	s.logger.Debug("embedded batch", "count", len(texts))
	return out, nil
}

// Generate runs one chat completion. History entries are replayed as prior
// turns and req.Prompt is sent as the new user message.
func (s *LLMService) Generate(ctx context.Context, req domain.GenerateRequest) (string, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return "", errors.New("prompt is empty")
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	name := req.Model
	if name == "" {
		name = s.defaultModel
	}
	model := s.client.GenerativeModel(name)
	if req.System != "" {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(req.System)},
		}
	}
	temperature := s.temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	model.SetTemperature(temperature)

	chatSession := model.StartChat()
	chatSession.History = toGeminiHistory(req.History)

	resp, err := chatSession.SendMessage(ctx, genai.Text(req.Prompt))
	if err != nil {
		return "", providerError(ctx, "gemini chat SendMessage failed", err)
	}

	text, err := responseText(resp)
	if err != nil {
		s.logger.Warn("unusable gemini response", "model", name, "error", err)
		return "", err
	}
	return text, nil
}

func (s *LLMService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// providerError keeps the context error in the chain so deadlines are
// reported as timeouts even when the SDK returns its own status error.
func providerError(ctx context.Context, msg string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
		return fmt.Errorf("%s: %w (%w)", msg, ctxErr, err)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

func toGeminiHistory(entries []domain.LogEntry) []*genai.Content {
	history := make([]*genai.Content, 0, len(entries))
	for _, e := range entries {
		role := "user"
		if e.Role == domain.RoleAssistant {
			role = geminiModelRole
		}
		history = append(history, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(e.Content)},
		})
	}
	return history
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", errors.New("gemini response was empty or had no valid candidates")
	}

	var responseText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			responseText.WriteString(string(txt))
		}
	}
	if strings.TrimSpace(responseText.String()) == "" {
		return "", errors.New("gemini response had no text")
	}
	return responseText.String(), nil
}
