package tools

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yanfeng98/fork-gemini-deepresearch/llm"
	"github.com/yanfeng98/fork-gemini-deepresearch/types"
	"go.uber.org/zap"
)

func toolCall(id, name, args string) llm.ToolCall {
	return llm.ToolCall{ID: id, Name: name, Arguments: json.RawMessage(args)}
}

func echoTool(_ context.Context, args json.RawMessage) (json.RawMessage, error) {
	return args, nil
}

func TestDefaultRegistry_RegisterGetList(t *testing.T) {
	r := NewDefaultRegistry(zap.NewNop())

	require.NoError(t, r.Register("zeta", echoTool, ToolMetadata{}))
	require.NoError(t, r.Register("alpha", echoTool, ToolMetadata{Schema: llm.ToolSchema{Name: "alpha"}}))

	assert.Error(t, r.Register("alpha", echoTool, ToolMetadata{}), "duplicate")
	assert.Error(t, r.Register("beta", echoTool, ToolMetadata{Schema: llm.ToolSchema{Name: "other"}}), "name mismatch")

	_, meta, err := r.Get("zeta")
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, meta.Timeout)

	_, _, err = r.Get("missing")
	assert.True(t, types.IsErrorCode(err, types.ErrToolNotFound))

	schemas := r.List()
	require.Len(t, schemas, 2)
	assert.Equal(t, "alpha", schemas[0].Name)
	assert.Equal(t, "zeta", schemas[1].Name)

	require.NoError(t, r.Unregister("zeta"))
	assert.False(t, r.Has("zeta"))
	assert.Error(t, r.Unregister("zeta"))
}

func TestDefaultExecutor_ExecuteOne(t *testing.T) {
	r := NewDefaultRegistry(nil)
	require.NoError(t, r.Register("echo", echoTool, ToolMetadata{}))
	require.NoError(t, r.Register("fail", func(context.Context, json.RawMessage) (json.RawMessage, error) {
		return nil, errors.New("bad input")
	}, ToolMetadata{}))
	require.NoError(t, r.Register("panic", func(context.Context, json.RawMessage) (json.RawMessage, error) {
		panic("kaboom")
	}, ToolMetadata{}))
	require.NoError(t, r.Register("slow", func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}, ToolMetadata{Timeout: 20 * time.Millisecond}))

	e := NewDefaultExecutor(r, 0, zap.NewNop())
	ctx := context.Background()

	tests := []struct {
		name    string
		call    llm.ToolCall
		wantErr string
		wantRes string
	}{
		{name: "success", call: toolCall("1", "echo", `{"a":1}`), wantRes: `{"a":1}`},
		{name: "not found", call: toolCall("2", "nope", `{}`), wantErr: "tool not found"},
		{name: "invalid json", call: toolCall("3", "echo", `{`), wantErr: "not valid JSON"},
		{name: "tool error", call: toolCall("4", "fail", `{}`), wantErr: "bad input"},
		{name: "panic", call: toolCall("5", "panic", `{}`), wantErr: "panicked"},
		{name: "timeout", call: toolCall("6", "slow", `{}`), wantErr: "timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := e.ExecuteOne(ctx, tt.call)
			assert.Equal(t, tt.call.ID, res.ToolCallID)
			if tt.wantErr != "" {
				assert.True(t, res.IsError())
				assert.Contains(t, res.Error, tt.wantErr)
				return
			}
			assert.False(t, res.IsError())
			assert.JSONEq(t, tt.wantRes, string(res.Result))
		})
	}
}

func TestDefaultExecutor_Execute_PreservesOrderAndBoundsConcurrency(t *testing.T) {
	var inflight, peak atomic.Int32
	r := NewDefaultRegistry(nil)
	require.NoError(t, r.Register("work", func(_ context.Context, args json.RawMessage) (json.RawMessage, error) {
		n := inflight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inflight.Add(-1)
		return args, nil
	}, ToolMetadata{}))

	e := NewDefaultExecutor(r, 2, nil)
	calls := []llm.ToolCall{
		toolCall("a", "work", `{"i":0}`),
		toolCall("b", "work", `{"i":1}`),
		toolCall("c", "work", `{"i":2}`),
		toolCall("d", "work", `{"i":3}`),
	}
	results := e.Execute(context.Background(), calls)

	require.Len(t, results, len(calls))
	for i, res := range results {
		assert.Equal(t, calls[i].ID, res.ToolCallID)
		assert.JSONEq(t, string(calls[i].Arguments), string(res.Result))
	}
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestDefaultExecutor_RateLimitWaitHonoursContext(t *testing.T) {
	r := NewDefaultRegistry(nil)
	require.NoError(t, r.Register("limited", echoTool, ToolMetadata{
		RateLimit: &RateLimitConfig{MaxCalls: 1, Window: time.Hour},
	}))
	e := NewDefaultExecutor(r, 1, nil)

	first := e.ExecuteOne(context.Background(), toolCall("1", "limited", `{}`))
	require.False(t, first.IsError())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	second := e.ExecuteOne(ctx, toolCall("2", "limited", `{}`))
	assert.True(t, second.IsError())
	assert.Contains(t, second.Error, "rate limit")
}
