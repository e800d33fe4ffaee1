package observability

import (
	"context"
	"errors"
	"time"

	"github.com/yanfeng98/fork-gemini-deepresearch/llm"
	"github.com/yanfeng98/fork-gemini-deepresearch/types"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// RequestRecorder 接收每次 LLM 请求的结果，prometheus Collector 实现了它。
type RequestRecorder interface {
	RecordLLMRequest(provider, model, status string, duration time.Duration, promptTokens, completionTokens int)
}

// InstrumentedProvider 为任意 llm.Provider 包上 otel span、otel 指标与成本统计。
type InstrumentedProvider struct {
	next     llm.Provider
	metrics  *Metrics
	costs    *CostTracker
	recorder RequestRecorder
	stage    string
	logger   *zap.Logger
}

// InstrumentOption 配置 InstrumentedProvider
type InstrumentOption func(*InstrumentedProvider)

// WithStage 标注调用阶段（supervisor、researcher、report 等）
func WithStage(stage string) InstrumentOption {
	return func(p *InstrumentedProvider) { p.stage = stage }
}

// WithCostTracker 累计成本
func WithCostTracker(t *CostTracker) InstrumentOption {
	return func(p *InstrumentedProvider) { p.costs = t }
}

// WithRecorder 额外上报到 prometheus 等后端
func WithRecorder(r RequestRecorder) InstrumentOption {
	return func(p *InstrumentedProvider) { p.recorder = r }
}

// NewInstrumentedProvider 包装 next。metrics 为 nil 时使用全局 otel provider 创建。
func NewInstrumentedProvider(next llm.Provider, metrics *Metrics, logger *zap.Logger, opts ...InstrumentOption) (*InstrumentedProvider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		m, err := NewMetrics()
		if err != nil {
			return nil, err
		}
		metrics = m
	}
	p := &InstrumentedProvider{
		next:    next,
		metrics: metrics,
		logger:  logger.With(zap.String("component", "llm_observability")),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *InstrumentedProvider) Name() string { return p.next.Name() }

func (p *InstrumentedProvider) SupportsNativeFunctionCalling() bool {
	return p.next.SupportsNativeFunctionCalling()
}

func (p *InstrumentedProvider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	return p.next.HealthCheck(ctx)
}

// Completion 调用下游并记录 span、指标与成本
func (p *InstrumentedProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	attrs := RequestAttrs{Provider: p.next.Name(), Stage: p.stage}
	if req != nil {
		attrs.Model = req.Model
	}
	if runID, ok := types.RunID(ctx); ok {
		attrs.RunID = runID
	}

	ctx, span := p.metrics.StartRequest(ctx, attrs)
	start := time.Now()
	resp, err := p.next.Completion(ctx, req)

	out := ResponseAttrs{Status: "success", Duration: time.Since(start)}
	if resp != nil {
		if resp.Model != "" {
			attrs.Model = resp.Model
		}
		out.TokensPrompt = resp.Usage.PromptTokens
		out.TokensCompletion = resp.Usage.CompletionTokens
	}
	if err != nil {
		out.Status = "error"
		out.ErrorCode = errorCode(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	if p.costs != nil && err == nil {
		out.Cost = p.costs.Track(attrs.Model, out.TokensPrompt, out.TokensCompletion)
	}

	p.metrics.EndRequest(ctx, span, attrs, out)
	if p.recorder != nil {
		p.recorder.RecordLLMRequest(attrs.Provider, attrs.Model, out.Status, out.Duration, out.TokensPrompt, out.TokensCompletion)
	}

	p.logger.Debug("llm completion",
		zap.String("stage", p.stage),
		zap.String("model", attrs.Model),
		zap.String("status", out.Status),
		zap.Duration("duration", out.Duration),
		zap.Int("prompt_tokens", out.TokensPrompt),
		zap.Int("completion_tokens", out.TokensCompletion))
	return resp, err
}

func errorCode(err error) string {
	var llmErr *llm.Error
	if errors.As(err, &llmErr) {
		return string(llmErr.Code)
	}
	if code := types.GetErrorCode(err); code != "" {
		return string(code)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return string(llm.ErrUpstreamTimeout)
	}
	return "unknown"
}
