package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/yanfeng98/fork-gemini-deepresearch/llm"

// Metrics LLM 指标收集器
type Metrics struct {
	tracer trace.Tracer
	meter  metric.Meter

	requestTotal metric.Int64Counter
	tokenTotal   metric.Int64Counter
	errorTotal   metric.Int64Counter

	requestDuration metric.Float64Histogram
	costPerRequest  metric.Float64Histogram

	activeRequests metric.Int64UpDownCounter
}

// MetricsOption 配置 Metrics
type MetricsOption func(*metricsOptions)

type metricsOptions struct {
	tp trace.TracerProvider
	mp metric.MeterProvider
}

// WithTracerProvider 使用指定 TracerProvider，默认取全局
func WithTracerProvider(tp trace.TracerProvider) MetricsOption {
	return func(o *metricsOptions) { o.tp = tp }
}

// WithMeterProvider 使用指定 MeterProvider，默认取全局
func WithMeterProvider(mp metric.MeterProvider) MetricsOption {
	return func(o *metricsOptions) { o.mp = mp }
}

// NewMetrics 创建指标收集器
func NewMetrics(opts ...MetricsOption) (*Metrics, error) {
	o := metricsOptions{tp: otel.GetTracerProvider(), mp: otel.GetMeterProvider()}
	for _, opt := range opts {
		opt(&o)
	}

	meter := o.mp.Meter(instrumentationName)
	m := &Metrics{
		tracer: o.tp.Tracer(instrumentationName),
		meter:  meter,
	}

	var err error
	if m.requestTotal, err = meter.Int64Counter("llm.request.total",
		metric.WithDescription("Total number of LLM requests"),
		metric.WithUnit("{request}")); err != nil {
		return nil, err
	}
	if m.tokenTotal, err = meter.Int64Counter("llm.token.total",
		metric.WithDescription("Total tokens consumed"),
		metric.WithUnit("{token}")); err != nil {
		return nil, err
	}
	if m.errorTotal, err = meter.Int64Counter("llm.error.total",
		metric.WithDescription("Total number of errors"),
		metric.WithUnit("{error}")); err != nil {
		return nil, err
	}
	if m.requestDuration, err = meter.Float64Histogram("llm.request.duration",
		metric.WithDescription("Request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.5, 1, 2.5, 5, 10, 30, 60, 120, 300)); err != nil {
		return nil, err
	}
	if m.costPerRequest, err = meter.Float64Histogram("llm.request.cost",
		metric.WithDescription("Estimated cost per request in USD"),
		metric.WithUnit("USD")); err != nil {
		return nil, err
	}
	if m.activeRequests, err = meter.Int64UpDownCounter("llm.request.active",
		metric.WithDescription("In-flight LLM requests"),
		metric.WithUnit("{request}")); err != nil {
		return nil, err
	}
	return m, nil
}

// RequestAttrs 请求属性
type RequestAttrs struct {
	Provider string
	Model    string
	// Stage 调用方阶段：supervisor / researcher / compress / summarize / report / scope
	Stage string
	RunID string
}

// ResponseAttrs 响应属性
type ResponseAttrs struct {
	Status           string
	ErrorCode        string
	TokensPrompt     int
	TokensCompletion int
	Cost             float64
	Duration         time.Duration
}

func (r RequestAttrs) common() []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("provider", r.Provider),
		attribute.String("model", r.Model),
		attribute.String("stage", r.Stage),
	}
}

// StartRequest 开始请求追踪
func (m *Metrics) StartRequest(ctx context.Context, attrs RequestAttrs) (context.Context, trace.Span) {
	ctx, span := m.tracer.Start(ctx, "llm.completion",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("llm.provider", attrs.Provider),
			attribute.String("llm.model", attrs.Model),
			attribute.String("llm.stage", attrs.Stage),
			attribute.String("research.run_id", attrs.RunID),
		))

	m.activeRequests.Add(ctx, 1, metric.WithAttributes(attrs.common()...))
	return ctx, span
}

// EndRequest 结束请求追踪
func (m *Metrics) EndRequest(ctx context.Context, span trace.Span, req RequestAttrs, resp ResponseAttrs) {
	defer span.End()

	common := req.common()
	withStatus := metric.WithAttributes(append(common, attribute.String("status", resp.Status))...)

	m.activeRequests.Add(ctx, -1, metric.WithAttributes(common...))
	m.requestTotal.Add(ctx, 1, withStatus)
	m.requestDuration.Record(ctx, resp.Duration.Seconds(), withStatus)

	if resp.TokensPrompt > 0 {
		m.tokenTotal.Add(ctx, int64(resp.TokensPrompt),
			metric.WithAttributes(append(common, attribute.String("type", "prompt"))...))
	}
	if resp.TokensCompletion > 0 {
		m.tokenTotal.Add(ctx, int64(resp.TokensCompletion),
			metric.WithAttributes(append(common, attribute.String("type", "completion"))...))
	}
	if resp.Cost > 0 {
		m.costPerRequest.Record(ctx, resp.Cost, metric.WithAttributes(common...))
	}
	if resp.ErrorCode != "" {
		m.errorTotal.Add(ctx, 1,
			metric.WithAttributes(append(common, attribute.String("error_code", resp.ErrorCode))...))
		span.SetAttributes(attribute.String("error.code", resp.ErrorCode))
	}

	span.SetAttributes(
		attribute.String("llm.status", resp.Status),
		attribute.Int("llm.tokens.prompt", resp.TokensPrompt),
		attribute.Int("llm.tokens.completion", resp.TokensCompletion),
		attribute.Float64("llm.cost", resp.Cost),
		attribute.Int64("llm.duration_ms", resp.Duration.Milliseconds()))
}

// Tracer 获取 Tracer
func (m *Metrics) Tracer() trace.Tracer {
	return m.tracer
}
