package core

import (
	"context"
	"errors"
	"strings"

	"github.com/mcp-ai/rag-server/internal/domain"
)

const qaSystemInstruction = "You are a helpful AI assistant. Use the following context to answer the user's question. " +
	"Answer only from the context. If the answer is not in the context, say that you don't know. " +
	"Do not try to make up an answer."

// NoContextAnswer is returned without calling the model when retrieval found
// nothing and strict context is on.
const NoContextAnswer = "I could not find any relevant information in the uploaded documents to answer that question."

const noContextPlaceholder = "(no relevant context was found)"

// AnswerSynthesizer produces a grounded answer from retrieved chunks.
type AnswerSynthesizer struct {
	gen           domain.Generator
	strictContext bool
}

func NewAnswerSynthesizer(gen domain.Generator, strictContext bool) *AnswerSynthesizer {
	return &AnswerSynthesizer{gen: gen, strictContext: strictContext}
}

type SynthesisInput struct {
	Context  []domain.ScoredChunk // retrieval order
	History  []domain.LogEntry
	Question string
	Model    string
}

// Synthesize calls the model once. There are no retries here.
func (a *AnswerSynthesizer) Synthesize(ctx context.Context, in SynthesisInput) (string, error) {
	const op = "core.AnswerSynthesizer.Synthesize"

	if len(in.Context) == 0 && a.strictContext {
		return NoContextAnswer, nil
	}

	answer, err := a.gen.Generate(ctx, domain.GenerateRequest{
		Model:   in.Model,
		System:  buildQASystemPrompt(in.Context),
		History: in.History,
		Prompt:  in.Question,
	})
	if err != nil {
		return "", domain.Wrap(domain.ErrGeneration, op, err)
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return "", domain.Wrap(domain.ErrGeneration, op, errors.New("model returned an empty answer"))
	}
	return answer, nil
}

func buildQASystemPrompt(chunks []domain.ScoredChunk) string {
	var b strings.Builder
	b.WriteString(qaSystemInstruction)
	b.WriteString("\n\nContext:\n")
	if len(chunks) == 0 {
		b.WriteString(noContextPlaceholder)
		return b.String()
	}
	for i, c := range chunks {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(c.Chunk.Text)
	}
	return b.String()
}
