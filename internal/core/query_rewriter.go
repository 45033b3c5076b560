package core

import (
	"context"
	"errors"
	"strings"

	"github.com/mcp-ai/rag-server/internal/domain"
)

const rewriteInstruction = "Given a chat history and a follow-up question, rewrite the follow-up as a standalone question " +
	"that can be understood and used for document retrieval without the chat history. " +
	"Use the history only to resolve references such as pronouns. Do NOT answer the question. " +
	"Reply with the standalone question on a single line and nothing else."

const DefaultHistoryTurns = 10

// QueryRewriter turns a follow-up question into a standalone retrieval query.
type QueryRewriter struct {
	gen      domain.Generator
	maxTurns int
}

func NewQueryRewriter(gen domain.Generator, maxTurns int) *QueryRewriter {
	if maxTurns <= 0 {
		maxTurns = DefaultHistoryTurns
	}
	return &QueryRewriter{gen: gen, maxTurns: maxTurns}
}

// Rewrite returns question unchanged when history is empty. Otherwise the
// last maxTurns entries and the question go to the model and its first
// non-empty line is the standalone query.
func (q *QueryRewriter) Rewrite(ctx context.Context, history []domain.LogEntry, question, model string) (string, error) {
	const op = "core.QueryRewriter.Rewrite"
	if len(history) == 0 {
		return question, nil
	}
	if len(history) > q.maxTurns {
		history = history[len(history)-q.maxTurns:]
	}

	zero := float32(0)
	out, err := q.gen.Generate(ctx, domain.GenerateRequest{
		Model:       model,
		System:      rewriteInstruction,
		History:     history,
		Prompt:      question,
		Temperature: &zero,
	})
	if err != nil {
		return "", domain.Wrap(domain.ErrRewrite, op, err)
	}

	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line, nil
		}
	}
	return "", domain.Wrap(domain.ErrRewrite, op, errors.New("model returned an empty query"))
}
