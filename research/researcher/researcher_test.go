package researcher

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yanfeng98/fork-gemini-deepresearch/llm"
	"github.com/yanfeng98/fork-gemini-deepresearch/llm/tools"
	"github.com/yanfeng98/fork-gemini-deepresearch/types"
	"go.uber.org/zap/zaptest"
)

type scriptedProvider struct {
	mu       sync.Mutex
	requests []*llm.ChatRequest
	respond  func(req *llm.ChatRequest, n int) (*llm.ChatResponse, error)
}

func (p *scriptedProvider) Completion(_ context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	n := len(p.requests)
	p.mu.Unlock()
	return p.respond(req, n)
}

func (p *scriptedProvider) HealthCheck(context.Context) (*llm.HealthStatus, error) {
	return &llm.HealthStatus{Healthy: true}, nil
}
func (p *scriptedProvider) Name() string                        { return "scripted" }
func (p *scriptedProvider) SupportsNativeFunctionCalling() bool { return true }

type stubSearch struct {
	mu      sync.Mutex
	queries []string
	results []tools.WebSearchResult
	err     error
}

func (s *stubSearch) Name() string { return "stub" }

func (s *stubSearch) Search(_ context.Context, query string, _ tools.WebSearchOptions) ([]tools.WebSearchResult, error) {
	s.mu.Lock()
	s.queries = append(s.queries, query)
	s.mu.Unlock()
	return s.results, s.err
}

func reply(content string, calls ...llm.ToolCall) *llm.ChatResponse {
	return &llm.ChatResponse{
		Choices: []llm.ChatChoice{{Message: llm.Message{Role: llm.RoleAssistant, Content: content, ToolCalls: calls}}},
		Usage:   llm.ChatUsage{TotalTokens: 10},
	}
}

func call(id, name string, args any) llm.ToolCall {
	raw, _ := json.Marshal(args)
	return llm.ToolCall{ID: id, Name: name, Arguments: raw}
}

func isCompression(req *llm.ChatRequest) bool {
	return len(req.Tools) == 0
}

func newResearcher(t *testing.T, provider llm.Provider, search *stubSearch, cfg Config) *Researcher {
	t.Helper()
	searchCfg := tools.DefaultWebSearchToolConfig()
	searchCfg.Provider = search
	searchCfg.RateLimit = nil
	r, err := New(provider, searchCfg, cfg, nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	return r
}

func TestResearcher_Run(t *testing.T) {
	search := &stubSearch{results: []tools.WebSearchResult{
		{Title: "Solar", URL: "https://example.com/solar", Content: "solar capacity grew"},
		{Title: "Solar dup", URL: "https://example.com/solar", Content: "dup"},
	}}
	round := 0
	provider := &scriptedProvider{respond: func(req *llm.ChatRequest, _ int) (*llm.ChatResponse, error) {
		if isCompression(req) {
			return reply("compressed: solar capacity grew [1]"), nil
		}
		round++
		switch round {
		case 1:
			return reply("searching", call("s1", tools.WebSearchToolName, map[string]string{"query": "solar capacity 2024"})), nil
		case 2:
			return reply("", call("t1", tools.ThinkToolName, map[string]string{"reflection": "enough data"})), nil
		default:
			return reply("I have enough information."), nil
		}
	}}
	r := newResearcher(t, provider, search, Config{Model: "research-model", CompressModel: "compress-model"})

	res, err := r.Run(context.Background(), "solar capacity")
	require.NoError(t, err)
	assert.Equal(t, "compressed: solar capacity grew [1]", res.CompressedSummary)
	assert.Equal(t, []string{"solar capacity 2024"}, search.queries)

	// assistant 与 tool 消息都进入 raw notes，空内容跳过
	require.Len(t, res.RawNotes, 4)
	assert.Equal(t, "searching", res.RawNotes[0])
	assert.Contains(t, res.RawNotes[1], "--- SOURCE 1: Solar ---")
	assert.NotContains(t, res.RawNotes[1], "SOURCE 2")
	assert.Equal(t, "Reflection recorded: enough data", res.RawNotes[2])
	assert.Equal(t, "I have enough information.", res.RawNotes[3])

	first := provider.requests[0]
	assert.Equal(t, "research-model", first.Model)
	assert.Len(t, first.Tools, 2)
	assert.Equal(t, types.RoleSystem, first.Messages[0].Role)
	assert.Equal(t, "solar capacity", first.Messages[1].Content)

	last := provider.requests[len(provider.requests)-1]
	require.True(t, isCompression(last))
	assert.Equal(t, "compress-model", last.Model)
	assert.Contains(t, last.Messages[0].Content, "clean up the findings")
	assert.Contains(t, last.Messages[len(last.Messages)-1].Content, "RESEARCH TOPIC: solar capacity")
	for _, m := range last.Messages[1 : len(last.Messages)-1] {
		assert.NotEqual(t, types.RoleSystem, m.Role)
	}
}

func TestResearcher_ToolBudgetStillCompresses(t *testing.T) {
	search := &stubSearch{}
	provider := &scriptedProvider{respond: func(req *llm.ChatRequest, n int) (*llm.ChatResponse, error) {
		if isCompression(req) {
			return reply("partial findings"), nil
		}
		return reply("", call("s", tools.WebSearchToolName, map[string]string{"query": "q"})), nil
	}}
	r := newResearcher(t, provider, search, Config{Model: "m", MaxToolIterations: 2})

	res, err := r.Run(context.Background(), "topic")
	require.NoError(t, err)
	assert.Equal(t, "partial findings", res.CompressedSummary)
	assert.Len(t, search.queries, 2)
	assert.Contains(t, res.RawNotes, tools.NoSearchResultsText)
}

func TestResearcher_Failures(t *testing.T) {
	t.Run("tool loop", func(t *testing.T) {
		provider := &scriptedProvider{respond: func(*llm.ChatRequest, int) (*llm.ChatResponse, error) {
			return nil, errors.New("model down")
		}}
		_, err := newResearcher(t, provider, &stubSearch{}, Config{Model: "m"}).Run(context.Background(), "topic")
		require.Error(t, err)
		assert.True(t, types.IsErrorCode(err, types.ErrWorkerFailed))
	})

	t.Run("compression", func(t *testing.T) {
		provider := &scriptedProvider{respond: func(req *llm.ChatRequest, _ int) (*llm.ChatResponse, error) {
			if isCompression(req) {
				return nil, errors.New("compress down")
			}
			return reply("done"), nil
		}}
		_, err := newResearcher(t, provider, &stubSearch{}, Config{Model: "m"}).Run(context.Background(), "topic")
		require.Error(t, err)
		assert.True(t, types.IsErrorCode(err, types.ErrWorkerFailed))
		assert.Contains(t, err.Error(), "compress down")
	})

	t.Run("empty topic", func(t *testing.T) {
		provider := &scriptedProvider{respond: func(*llm.ChatRequest, int) (*llm.ChatResponse, error) {
			t.Fatal("provider must not be called")
			return nil, nil
		}}
		_, err := newResearcher(t, provider, &stubSearch{}, Config{}).Run(context.Background(), "  ")
		assert.True(t, types.IsErrorCode(err, types.ErrWorkerFailed))
	})
}

func TestResearcher_SearchErrorIsObservation(t *testing.T) {
	search := &stubSearch{err: errors.New("quota exceeded")}
	provider := &scriptedProvider{respond: func(req *llm.ChatRequest, n int) (*llm.ChatResponse, error) {
		if isCompression(req) {
			return reply("nothing found"), nil
		}
		if n == 1 {
			return reply("", call("s", tools.WebSearchToolName, map[string]string{"query": "q"})), nil
		}
		return reply("search failed, stopping"), nil
	}}
	res, err := newResearcher(t, provider, search, Config{Model: "m"}).Run(context.Background(), "topic")
	require.NoError(t, err)
	assert.Equal(t, "nothing found", res.CompressedSummary)
	var sawError bool
	for _, n := range res.RawNotes {
		if strings.HasPrefix(n, "Error: ") {
			sawError = true
		}
	}
	assert.True(t, sawError)
}

func TestNew_RequiresProvider(t *testing.T) {
	_, err := New(nil, tools.DefaultWebSearchToolConfig(), Config{}, nil, nil)
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidConfig))
}

func TestRawNotes(t *testing.T) {
	msgs := []llm.Message{
		types.NewSystemMessage("sys"),
		types.NewUserMessage("topic"),
		types.NewAssistantMessage(""),
		types.NewAssistantMessage("thought"),
		types.NewToolMessage("1", "think_tool", "obs"),
	}
	assert.Equal(t, []string{"thought", "obs"}, RawNotes(msgs))
	assert.Empty(t, RawNotes(nil))
}
