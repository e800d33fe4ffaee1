package supervisor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yanfeng98/fork-gemini-deepresearch/llm"
	"github.com/yanfeng98/fork-gemini-deepresearch/types"
	"go.uber.org/zap"
)

func TestLLMDecisionMaker_Decide(t *testing.T) {
	provider := &fakeProvider{respond: func(*llm.ChatRequest) (*llm.ChatResponse, error) {
		return &llm.ChatResponse{Choices: []llm.ChatChoice{{
			FinishReason: "tool_calls",
			Message: llm.Message{
				Content:   "delegating",
				ToolCalls: []llm.ToolCall{delegateCall("c1", "solar"), thinkCall("c2", "plan")},
			},
		}}}, nil
	}}
	d := NewLLMDecisionMaker(provider, "supervisor-model", zap.NewNop())
	d.now = func() time.Time { return time.Date(2025, 3, 4, 0, 0, 0, 0, time.UTC) }

	transcript := []types.Message{types.NewUserMessage("brief.")}
	decision, err := d.Decide(context.Background(), transcript, Limits{MaxIterations: 6, MaxConcurrency: 3})
	require.NoError(t, err)

	assert.Equal(t, types.RoleAssistant, decision.Message.Role)
	assert.Equal(t, []Action{
		DelegationAction{CallID: "c1", Topic: "solar"},
		ReflectionAction{CallID: "c2", Note: "plan"},
	}, decision.Actions)

	req := provider.lastRequest()
	require.NotNil(t, req)
	assert.Equal(t, "supervisor-model", req.Model)
	assert.Equal(t, "auto", req.ToolChoice)
	assert.Len(t, req.Tools, 3)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, types.RoleSystem, req.Messages[0].Role)
	assert.Contains(t, req.Messages[0].Content, "Tue Mar 4, 2025")
	assert.Contains(t, req.Messages[0].Content, "Maximum 3 parallel agents per iteration")
	assert.Contains(t, req.Messages[0].Content, "Always stop after 6 tool calls")
	assert.Equal(t, "brief.", req.Messages[1].Content)
}

func TestLLMDecisionMaker_NoToolCalls(t *testing.T) {
	provider := &fakeProvider{respond: func(*llm.ChatRequest) (*llm.ChatResponse, error) {
		return textResponse("done thinking"), nil
	}}
	d := NewLLMDecisionMaker(provider, "m", nil)
	decision, err := d.Decide(context.Background(), nil, Limits{MaxIterations: 1, MaxConcurrency: 1})
	require.NoError(t, err)
	assert.Empty(t, decision.Actions)
	assert.Equal(t, "done thinking", decision.Message.Content)
}

func TestLLMDecisionMaker_Errors(t *testing.T) {
	failing := &fakeProvider{respond: func(*llm.ChatRequest) (*llm.ChatResponse, error) {
		return nil, errors.New("unavailable")
	}}
	_, err := NewLLMDecisionMaker(failing, "m", nil).Decide(context.Background(), nil, Limits{})
	assert.EqualError(t, err, "unavailable")

	empty := &fakeProvider{respond: func(*llm.ChatRequest) (*llm.ChatResponse, error) {
		return &llm.ChatResponse{}, nil
	}}
	_, err = NewLLMDecisionMaker(empty, "m", nil).Decide(context.Background(), nil, Limits{})
	var llmErr *llm.Error
	require.ErrorAs(t, err, &llmErr)
	assert.Equal(t, llm.ErrEmptyResponse, llmErr.Code)
}

func TestLLMDecisionMaker_StripsSkippedReflections(t *testing.T) {
	provider := &fakeProvider{respond: func(*llm.ChatRequest) (*llm.ChatResponse, error) {
		return textResponse(""), nil
	}}
	transcript := []types.Message{
		types.NewUserMessage("brief."),
		types.NewAssistantMessage("").WithToolCalls([]types.ToolCall{thinkCall("r1", "skip me"), delegateCall("d1", "a")}),
		types.NewToolMessage("d1", ConductResearchToolName, "summary"),
	}
	_, err := NewLLMDecisionMaker(provider, "m", nil).Decide(context.Background(), transcript, Limits{MaxIterations: 6, MaxConcurrency: 3})
	require.NoError(t, err)

	sent := provider.lastRequest().Messages
	require.Len(t, sent, 4)
	require.Len(t, sent[2].ToolCalls, 1)
	assert.Equal(t, "d1", sent[2].ToolCalls[0].ID)
	// 调用方的 transcript 不变
	assert.Len(t, transcript[1].ToolCalls, 2)
}

func TestStripUnansweredToolCalls(t *testing.T) {
	transcript := []types.Message{
		types.NewUserMessage("q"),
		types.NewAssistantMessage("").WithToolCalls([]types.ToolCall{thinkCall("r1", "x")}),
		types.NewAssistantMessage("plain"),
	}
	out := StripUnansweredToolCalls(transcript)
	require.Len(t, out, 3)
	assert.Nil(t, out[1].ToolCalls)
	assert.Equal(t, "plain", out[2].Content)
	assert.Len(t, transcript[1].ToolCalls, 1)
	assert.Nil(t, StripUnansweredToolCalls(nil))
}

func TestDecisionFunc(t *testing.T) {
	var got Limits
	f := DecisionFunc(func(_ context.Context, _ []types.Message, l Limits) (*Decision, error) {
		got = l
		return decisionOf(), nil
	})
	_, err := f.Decide(context.Background(), nil, Limits{MaxIterations: 2, MaxConcurrency: 1})
	require.NoError(t, err)
	assert.Equal(t, Limits{MaxIterations: 2, MaxConcurrency: 1}, got)
}
