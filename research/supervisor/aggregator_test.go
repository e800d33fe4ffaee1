package supervisor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yanfeng98/fork-gemini-deepresearch/llm"
	"github.com/yanfeng98/fork-gemini-deepresearch/llm/tokenizer"
	"github.com/yanfeng98/fork-gemini-deepresearch/types"
	"go.uber.org/zap"
)

type trimCounter struct{ n int }

func (c *trimCounter) RecordFindingsTrimmed() { c.n++ }

func TestLLMAggregator_Finalize(t *testing.T) {
	provider := &fakeProvider{respond: func(*llm.ChatRequest) (*llm.ChatResponse, error) {
		return textResponse("# Report"), nil
	}}
	a := NewLLMAggregator(provider, AggregatorConfig{Model: "writer", MaxTokens: 32000}, zap.NewNop())
	a.now = func() time.Time { return time.Date(2025, 3, 4, 0, 0, 0, 0, time.UTC) }

	report, err := a.Finalize(context.Background(), "the brief", []string{"note one", "note two"})
	require.NoError(t, err)
	assert.Equal(t, "# Report", report)

	req := provider.lastRequest()
	assert.Equal(t, "writer", req.Model)
	assert.Equal(t, 32000, req.MaxTokens)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, types.RoleUser, req.Messages[0].Role)
	prompt := req.Messages[0].Content
	assert.Contains(t, prompt, "the brief")
	assert.Contains(t, prompt, "<Findings>\nnote one\nnote two\n</Findings>")
	assert.Contains(t, prompt, "Tue Mar 4, 2025")
}

func TestLLMAggregator_EmptyFindings(t *testing.T) {
	provider := &fakeProvider{respond: func(*llm.ChatRequest) (*llm.ChatResponse, error) {
		return textResponse("no findings"), nil
	}}
	report, err := NewLLMAggregator(provider, AggregatorConfig{Model: "w"}, nil).Finalize(context.Background(), "b", nil)
	require.NoError(t, err)
	assert.Equal(t, "no findings", report)
	assert.Contains(t, provider.lastRequest().Messages[0].Content, "<Findings>\n\n</Findings>")
}

func TestLLMAggregator_Failure(t *testing.T) {
	failing := func() *fakeProvider {
		return &fakeProvider{respond: func(*llm.ChatRequest) (*llm.ChatResponse, error) {
			return nil, errors.New("writer unavailable")
		}}
	}

	t.Run("fatal by default", func(t *testing.T) {
		_, err := NewLLMAggregator(failing(), AggregatorConfig{}, nil).Finalize(context.Background(), "b", []string{"n"})
		require.Error(t, err)
		assert.True(t, types.IsErrorCode(err, types.ErrAggregationFailed))
	})

	t.Run("fallback to notes", func(t *testing.T) {
		a := NewLLMAggregator(failing(), AggregatorConfig{FallbackToNotes: true}, nil)
		report, err := a.Finalize(context.Background(), "b", []string{"n1", "n2"})
		require.NoError(t, err)
		assert.Equal(t, "n1\nn2", report)
	})

	t.Run("fallback needs notes", func(t *testing.T) {
		a := NewLLMAggregator(failing(), AggregatorConfig{FallbackToNotes: true}, nil)
		_, err := a.Finalize(context.Background(), "b", nil)
		assert.True(t, types.IsErrorCode(err, types.ErrAggregationFailed))
	})

	t.Run("empty choices", func(t *testing.T) {
		empty := &fakeProvider{respond: func(*llm.ChatRequest) (*llm.ChatResponse, error) {
			return &llm.ChatResponse{}, nil
		}}
		_, err := NewLLMAggregator(empty, AggregatorConfig{}, nil).Finalize(context.Background(), "b", []string{"n"})
		assert.True(t, types.IsErrorCode(err, types.ErrAggregationFailed))
	})
}

func TestLLMAggregator_TrimsFindingsToBudget(t *testing.T) {
	provider := &fakeProvider{respond: func(*llm.ChatRequest) (*llm.ChatResponse, error) {
		return textResponse("ok"), nil
	}}
	tok := tokenizer.NewEstimatorTokenizer("test", 0)
	old := strings.Repeat("old finding ", 200)
	recent := "recent finding"
	counter := &trimCounter{}

	a := NewLLMAggregator(provider, AggregatorConfig{Model: "w", FindingsTokenBudget: 50}, nil,
		WithTokenizer(tok), WithFindingsRecorder(counter))
	_, err := a.Finalize(context.Background(), "b", []string{old, recent})
	require.NoError(t, err)

	prompt := provider.lastRequest().Messages[0].Content
	assert.Contains(t, prompt, recent)
	assert.NotContains(t, prompt, old)
	assert.Equal(t, 1, counter.n)
}

func TestLLMAggregator_WithinBudgetUntouched(t *testing.T) {
	provider := &fakeProvider{respond: func(*llm.ChatRequest) (*llm.ChatResponse, error) {
		return textResponse("ok"), nil
	}}
	counter := &trimCounter{}
	a := NewLLMAggregator(provider, AggregatorConfig{Model: "w", FindingsTokenBudget: 10000}, nil, WithFindingsRecorder(counter))
	_, err := a.Finalize(context.Background(), "b", []string{"a", "b"})
	require.NoError(t, err)
	assert.Contains(t, provider.lastRequest().Messages[0].Content, "a\nb")
	assert.Zero(t, counter.n)
}

func TestAggregatorFunc(t *testing.T) {
	f := AggregatorFunc(func(_ context.Context, brief string, notes []string) (string, error) {
		return brief + ":" + strings.Join(notes, ","), nil
	})
	out, err := f.Finalize(context.Background(), "b", []string{"x", "y"})
	require.NoError(t, err)
	assert.Equal(t, "b:x,y", out)
}
