package research

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/yanfeng98/fork-gemini-deepresearch/llm"
	"github.com/yanfeng98/fork-gemini-deepresearch/research/scope"
	"github.com/yanfeng98/fork-gemini-deepresearch/research/supervisor"
	"github.com/yanfeng98/fork-gemini-deepresearch/types"
	"github.com/yanfeng98/fork-gemini-deepresearch/workflow"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/yanfeng98/fork-gemini-deepresearch/research"

// Scoper 澄清与简报
type Scoper interface {
	Clarify(ctx context.Context, conversation []llm.Message) (*scope.Clarification, error)
	WriteBrief(ctx context.Context, conversation []llm.Message) (string, error)
}

// Runner 执行一次研究，*supervisor.Coordinator 实现该接口
type Runner interface {
	Execute(ctx context.Context, brief string) (*supervisor.Result, error)
}

// ReportSink 归档报告，*database.ReportStore 实现该接口
type ReportSink interface {
	SaveReport(ctx context.Context, r types.ReportRecord) (string, error)
}

// SinkObserver 记录归档结果
type SinkObserver interface {
	RecordReportStored(ok bool)
}

// Config 流水线配置
type Config struct {
	// AllowClarification 为 false 时不做澄清判断
	AllowClarification bool
	// SkipScope 跳过澄清与简报，最后一条用户消息即研究简报
	SkipScope bool
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{AllowClarification: true}
}

// Outcome 一次流水线运行的产出。
// 需要追问时只有 Clarification；否则 Brief、Report 与 Result 都有值。
type Outcome struct {
	RunID         string               `json:"run_id"`
	Clarification *scope.Clarification `json:"clarification,omitempty"`
	Brief         string               `json:"brief,omitempty"`
	Report        string               `json:"report,omitempty"`
	ReportID      string               `json:"report_id,omitempty"`
	Result        *supervisor.Result   `json:"result,omitempty"`
}

// NeedsClarification 是否在研究前需要用户回答问题
func (o *Outcome) NeedsClarification() bool {
	return o.Clarification != nil && o.Clarification.NeedClarification
}

// Pipeline 研究流水线
type Pipeline struct {
	scoper   Scoper
	runner   Runner
	sink     ReportSink
	observer SinkObserver
	config   Config
	tracer   trace.Tracer
	logger   *zap.Logger
}

// Option 配置 Pipeline
type Option func(*Pipeline)

// WithReportSink 归档每一份生成的报告，observer 可为 nil
func WithReportSink(sink ReportSink, observer SinkObserver) Option {
	return func(p *Pipeline) {
		p.sink = sink
		p.observer = observer
	}
}

// WithTracerProvider 使用指定的 TracerProvider
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(p *Pipeline) {
		if tp != nil {
			p.tracer = tp.Tracer(instrumentationName)
		}
	}
}

// NewPipeline 创建流水线。SkipScope 时 scoper 可为 nil。
func NewPipeline(scoper Scoper, runner Runner, config Config, logger *zap.Logger, opts ...Option) (*Pipeline, error) {
	if runner == nil {
		return nil, types.NewError(types.ErrInvalidConfig, "pipeline requires a runner")
	}
	if scoper == nil && !config.SkipScope {
		return nil, types.NewError(types.ErrInvalidConfig, "pipeline requires a scoper unless scoping is skipped")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pipeline{
		scoper: scoper,
		runner: runner,
		config: config,
		tracer: otel.Tracer(instrumentationName),
		logger: logger.With(zap.String("component", "pipeline")),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// pipelineState 在链路各步之间传递
type pipelineState struct {
	conversation []llm.Message
	skipScope    bool
	outcome      *Outcome
}

// Run 处理一段用户对话
func (p *Pipeline) Run(ctx context.Context, conversation []llm.Message) (*Outcome, error) {
	return p.run(ctx, conversation, p.config.SkipScope)
}

// RunBrief 跳过澄清与简报，直接研究给定简报
func (p *Pipeline) RunBrief(ctx context.Context, brief string) (*Outcome, error) {
	return p.run(ctx, []llm.Message{types.NewUserMessage(brief)}, true)
}

func (p *Pipeline) run(ctx context.Context, conversation []llm.Message, skipScope bool) (*Outcome, error) {
	runID, ok := types.RunID(ctx)
	if !ok || runID == "" {
		runID = uuid.NewString()
		ctx = types.WithRunID(ctx, runID)
	}
	logger := p.logger.With(zap.String("run_id", runID))

	ctx, span := p.tracer.Start(ctx, "research.pipeline",
		trace.WithAttributes(
			attribute.String("research.run_id", runID),
			attribute.Bool("research.skip_scope", skipScope)))
	defer span.End()

	state := &pipelineState{
		conversation: conversation,
		skipScope:    skipScope,
		outcome:      &Outcome{RunID: runID},
	}
	chain := workflow.NewChainWorkflow("deep-research", "clarify, brief, research, deliver",
		workflow.NewFuncStep("clarify", p.clarifyStep),
		workflow.NewFuncStep("brief", p.briefStep),
		workflow.NewFuncStep("research", p.researchStep),
		workflow.NewFuncStep("deliver", p.deliverStep),
	)

	ctx = workflow.WithStreamEmitter(ctx, func(e workflow.StreamEvent) {
		if e.Type == workflow.EventStepStart {
			logger.Debug("pipeline step", zap.String("step", e.Step))
		}
	})
	if _, err := chain.Execute(ctx, state); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("research pipeline failed", zap.Error(err))
		return nil, err
	}

	out := state.outcome
	span.SetAttributes(attribute.Bool("research.clarification", out.NeedsClarification()))
	return out, nil
}

func (p *Pipeline) clarifyStep(ctx context.Context, input any) (any, error) {
	state := input.(*pipelineState)
	if state.skipScope || !p.config.AllowClarification {
		return state, nil
	}
	c, err := p.scoper.Clarify(ctx, state.conversation)
	if err != nil {
		return nil, err
	}
	state.outcome.Clarification = c
	if c.NeedClarification {
		p.logger.Info("clarification needed, stopping before research")
		return state, fmt.Errorf("%w: %w", workflow.ErrStopChain,
			types.NewError(types.ErrClarificationNeeded, c.Question))
	}
	return state, nil
}

func (p *Pipeline) briefStep(ctx context.Context, input any) (any, error) {
	state := input.(*pipelineState)
	if state.skipScope {
		brief := lastUserMessage(state.conversation)
		if brief == "" {
			return nil, types.NewError(types.ErrInvalidRequest, "no research brief in conversation")
		}
		state.outcome.Brief = brief
		return state, nil
	}
	brief, err := p.scoper.WriteBrief(ctx, state.conversation)
	if err != nil {
		return nil, err
	}
	state.outcome.Brief = brief
	return state, nil
}

func (p *Pipeline) researchStep(ctx context.Context, input any) (any, error) {
	state := input.(*pipelineState)
	res, err := p.runner.Execute(ctx, state.outcome.Brief)
	if err != nil {
		return nil, err
	}
	state.outcome.Result = res
	state.outcome.Report = res.Report
	return state, nil
}

// deliverStep 归档失败不影响报告交付
func (p *Pipeline) deliverStep(ctx context.Context, input any) (any, error) {
	state := input.(*pipelineState)
	if p.sink == nil {
		return state, nil
	}
	res := state.outcome.Result
	id, err := p.sink.SaveReport(ctx, types.ReportRecord{
		RunID:       state.outcome.RunID,
		Brief:       state.outcome.Brief,
		Report:      res.Report,
		Termination: string(res.Termination),
		Iterations:  res.Iterations,
		Degraded:    res.Degraded,
		NotesCount:  len(res.Notes),
	})
	if p.observer != nil {
		p.observer.RecordReportStored(err == nil)
	}
	if err != nil {
		p.logger.Warn("report archive failed", zap.String("run_id", state.outcome.RunID), zap.Error(err))
		return state, nil
	}
	state.outcome.ReportID = id
	return state, nil
}

func lastUserMessage(conversation []llm.Message) string {
	for i := len(conversation) - 1; i >= 0; i-- {
		if conversation[i].Role == types.RoleUser {
			if s := strings.TrimSpace(conversation[i].Content); s != "" {
				return s
			}
		}
	}
	return ""
}
