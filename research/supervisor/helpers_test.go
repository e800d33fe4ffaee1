package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/yanfeng98/fork-gemini-deepresearch/llm"
	"github.com/yanfeng98/fork-gemini-deepresearch/types"
)

// fakeProvider 记录请求并按脚本返回
type fakeProvider struct {
	mu       sync.Mutex
	requests []*llm.ChatRequest
	respond  func(req *llm.ChatRequest) (*llm.ChatResponse, error)
}

func (p *fakeProvider) Completion(_ context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	p.mu.Unlock()
	return p.respond(req)
}

func (p *fakeProvider) HealthCheck(context.Context) (*llm.HealthStatus, error) {
	return &llm.HealthStatus{Healthy: true}, nil
}

func (p *fakeProvider) Name() string                        { return "fake" }
func (p *fakeProvider) SupportsNativeFunctionCalling() bool { return true }

func (p *fakeProvider) lastRequest() *llm.ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.requests) == 0 {
		return nil
	}
	return p.requests[len(p.requests)-1]
}

func textResponse(content string) *llm.ChatResponse {
	return &llm.ChatResponse{Choices: []llm.ChatChoice{{Message: llm.Message{Role: llm.RoleAssistant, Content: content}}}}
}

func toolCall(id, name, args string) types.ToolCall {
	return types.ToolCall{ID: id, Name: name, Arguments: json.RawMessage(args)}
}

func delegateCall(id, topic string) types.ToolCall {
	return toolCall(id, ConductResearchToolName, fmt.Sprintf(`{"research_topic":%q}`, topic))
}

func thinkCall(id, note string) types.ToolCall {
	return toolCall(id, ThinkToolName, fmt.Sprintf(`{"reflection":%q}`, note))
}

func completeCall(id string) types.ToolCall {
	return toolCall(id, ResearchCompleteToolName, `{}`)
}

func decisionOf(calls ...types.ToolCall) *Decision {
	msg := types.NewAssistantMessage("").WithToolCalls(calls)
	return &Decision{Message: msg, Actions: Classify(calls)}
}

// scriptedDecider 第 n 次调用返回 script(n)，n 从 1 开始
type scriptedDecider struct {
	mu     sync.Mutex
	calls  int
	seen   [][]types.Message
	limits []Limits
	script func(n int) (*Decision, error)
}

func (d *scriptedDecider) Decide(_ context.Context, transcript []types.Message, limits Limits) (*Decision, error) {
	d.mu.Lock()
	d.calls++
	n := d.calls
	d.seen = append(d.seen, transcript)
	d.limits = append(d.limits, limits)
	d.mu.Unlock()
	return d.script(n)
}

// alwaysDelegate 每轮委派 fanout 个子研究，topic 为 "i<n>-t<k>"
func alwaysDelegate(fanout int) *scriptedDecider {
	return &scriptedDecider{script: func(n int) (*Decision, error) {
		calls := make([]types.ToolCall, fanout)
		for k := range calls {
			calls[k] = delegateCall(fmt.Sprintf("c%d-%d", n, k), fmt.Sprintf("i%d-t%d", n, k))
		}
		return decisionOf(calls...), nil
	}}
}

func sequence(decisions ...*Decision) *scriptedDecider {
	return &scriptedDecider{script: func(n int) (*Decision, error) {
		if n > len(decisions) {
			return decisionOf(), nil
		}
		return decisions[n-1], nil
	}}
}

// echoWorker 把 topic 作为摘要返回
func echoWorker() Worker {
	return WorkerFunc(func(_ context.Context, topic string) (*WorkerResult, error) {
		return &WorkerResult{CompressedSummary: "summary:" + topic, RawNotes: []string{"raw:" + topic, "more:" + topic}}, nil
	})
}

// recordingAggregator 记录收到的 notes
type recordingAggregator struct {
	mu     sync.Mutex
	calls  int
	brief  string
	notes  []string
	report string
	err    error
}

func (a *recordingAggregator) Finalize(_ context.Context, brief string, notes []string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	a.brief = brief
	a.notes = notes
	if a.err != nil {
		return "", a.err
	}
	if a.report != "" {
		return a.report, nil
	}
	return fmt.Sprintf("report from %d notes", len(notes)), nil
}

// fakeRecorder 统计协调者事件
type fakeRecorder struct {
	mu          sync.Mutex
	runs        []string
	decisions   map[string]int
	delegations map[string]int
	workers     map[string]int
	inflight    int
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{decisions: map[string]int{}, delegations: map[string]int{}, workers: map[string]int{}}
}

func (r *fakeRecorder) RecordRun(termination string, _ int, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, termination)
}

func (r *fakeRecorder) RecordDecision(branch string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decisions[branch]++
}

func (r *fakeRecorder) RecordDelegation(status string, _ int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delegations[status]++
}

func (r *fakeRecorder) RecordWorker(status string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workers[status]++
}

func (r *fakeRecorder) WorkerStarted() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inflight++
}

func (r *fakeRecorder) WorkerFinished() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inflight--
}
