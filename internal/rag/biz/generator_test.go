package biz

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/lexica/internal/model"
	"github.com/kart-io/lexica/internal/rag/metrics"
	apierrors "github.com/kart-io/lexica/pkg/errors"
	"github.com/kart-io/lexica/pkg/llm"
)

// stubChat records calls and replies from a script.
type stubChat struct {
	calls     int
	failFirst int
	failErr   error
	answer    string
	usage     *llm.TokenUsage
	messages  []llm.Message
}

func (s *stubChat) Chat(_ context.Context, messages []llm.Message) (*llm.GenerateResponse, error) {
	s.calls++
	s.messages = messages
	if s.calls <= s.failFirst {
		return nil, s.failErr
	}
	return &llm.GenerateResponse{Content: s.answer, TokenUsage: s.usage}, nil
}

func (s *stubChat) Name() string { return "stub-chat" }

const testPrompt = "You are a helpful assistant. Context:\n{{context}}"

func TestNewGeneratorRequiresPlaceholder(t *testing.T) {
	_, err := NewGenerator(&stubChat{}, "no placeholder", metrics.New())
	assert.ErrorIs(t, err, apierrors.ErrInvalidParam)

	_, err = NewGenerator(&stubChat{}, testPrompt, metrics.New())
	assert.NoError(t, err)
}

func TestGenerateBuildsMessages(t *testing.T) {
	chat := &stubChat{answer: "The clause is enforceable."}
	g, err := NewGenerator(chat, testPrompt, metrics.New())
	require.NoError(t, err)

	history := []model.ConversationTurn{
		{Role: "user", Content: "earlier question"},
		{Role: "assistant", Content: "earlier answer"},
	}
	resp, err := g.Generate(context.Background(), "[1] some context", "What about section B?", history)
	require.NoError(t, err)
	assert.Equal(t, "The clause is enforceable.", resp.Content)

	require.Len(t, chat.messages, 4)
	assert.Equal(t, llm.RoleSystem, chat.messages[0].Role)
	assert.Contains(t, chat.messages[0].Content, "[1] some context")
	assert.NotContains(t, chat.messages[0].Content, "{{context}}")
	assert.Equal(t, llm.RoleUser, chat.messages[1].Role)
	assert.Equal(t, llm.RoleAssistant, chat.messages[2].Role)
	assert.Equal(t, llm.RoleUser, chat.messages[3].Role)
	assert.Equal(t, "What about section B?", chat.messages[3].Content)
}

func TestGenerateRetriesOnce(t *testing.T) {
	chat := &stubChat{
		failFirst: 1,
		failErr:   errors.New("connection reset"),
		answer:    "recovered",
	}
	g, err := NewGenerator(chat, testPrompt, metrics.New())
	require.NoError(t, err)

	resp, err := g.Generate(context.Background(), "ctx", "q", nil)
	require.NoError(t, err)
	assert.Equal(t, "recovered", resp.Content)
	assert.Equal(t, 2, chat.calls)
}

func TestGenerateGivesUpAfterSecondFailure(t *testing.T) {
	chat := &stubChat{
		failFirst: 10,
		failErr:   errors.New("connection reset"),
	}
	g, err := NewGenerator(chat, testPrompt, metrics.New())
	require.NoError(t, err)

	_, err = g.Generate(context.Background(), "ctx", "q", nil)
	assert.ErrorIs(t, err, apierrors.ErrGenerationUnavailable)
	assert.Equal(t, 2, chat.calls)
}

func TestGenerateRecordsTokenUsage(t *testing.T) {
	m := metrics.New()
	chat := &stubChat{
		answer: "ok",
		usage:  &llm.TokenUsage{PromptTokens: 120, CompletionTokens: 30, TotalTokens: 150},
	}
	g, err := NewGenerator(chat, testPrompt, m)
	require.NoError(t, err)

	resp, err := g.Generate(context.Background(), "ctx", "q", nil)
	require.NoError(t, err)
	require.NotNil(t, resp.TokenUsage)
	assert.Equal(t, 150, resp.TokenUsage.TotalTokens)

	snap := m.Snapshot()
	assert.Equal(t, uint64(1), snap["llm_calls"])
	assert.Equal(t, uint64(120), snap["llm_tokens_prompt"])
	assert.Equal(t, uint64(30), snap["llm_tokens_completion"])
}
