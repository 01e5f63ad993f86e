package biz

import (
	"context"
	"strings"

	"github.com/kart-io/logger"

	"github.com/kart-io/lexica/internal/model"
	"github.com/kart-io/lexica/internal/rag/metrics"
	apierrors "github.com/kart-io/lexica/pkg/errors"
	"github.com/kart-io/lexica/pkg/llm"
	"github.com/kart-io/lexica/pkg/llm/resilience"
)

// contextPlaceholder marks where the assembled context goes in the system
// prompt template.
const contextPlaceholder = "{{context}}"

// Generator turns an assembled context and a question into an answer.
type Generator struct {
	provider     llm.ChatProvider
	systemPrompt string
	policy       *resilience.Policy
	metrics      *metrics.Metrics
}

// NewGenerator creates a Generator. The system prompt must contain the
// {{context}} placeholder.
func NewGenerator(provider llm.ChatProvider, systemPrompt string, m *metrics.Metrics) (*Generator, error) {
	if provider == nil {
		return nil, apierrors.ErrInvalidParam.WithMessage("chat provider is required")
	}
	if !strings.Contains(systemPrompt, contextPlaceholder) {
		return nil, apierrors.ErrInvalidParam.WithMessage("system prompt must contain {{context}}")
	}
	return &Generator{
		provider:     provider,
		systemPrompt: systemPrompt,
		policy:       resilience.OncePolicy(),
		metrics:      m,
	}, nil
}

// Generate produces an answer for the question grounded in the context.
// History turns are replayed before the question so follow-up questions keep
// their conversational meaning.
func (g *Generator) Generate(ctx context.Context, contextText, question string, history []model.ConversationTurn) (*llm.GenerateResponse, error) {
	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{
		Role:    llm.RoleSystem,
		Content: strings.ReplaceAll(g.systemPrompt, contextPlaceholder, contextText),
	})
	for _, turn := range history {
		messages = append(messages, llm.Message{Role: llm.Role(turn.Role), Content: turn.Content})
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: question})

	var resp *llm.GenerateResponse
	err := resilience.Retry(ctx, g.policy, func(ctx context.Context) error {
		out, err := g.provider.Chat(ctx, messages)
		if err != nil {
			g.metrics.RecordLLMCall(0, 0, err)
			if _, ok := err.(*apierrors.Errno); ok {
				return err
			}
			return apierrors.ErrGenerationUnavailable.WithCause(err)
		}
		resp = out
		return nil
	})
	if err != nil {
		logger.Errorw("answer generation failed", "provider", g.provider.Name(), "error", err.Error())
		return nil, err
	}

	if resp.TokenUsage != nil {
		g.metrics.RecordLLMCall(resp.TokenUsage.PromptTokens, resp.TokenUsage.CompletionTokens, nil)
	} else {
		g.metrics.RecordLLMCall(0, 0, nil)
	}
	return resp, nil
}
