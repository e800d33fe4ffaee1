package supervisor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/yanfeng98/fork-gemini-deepresearch/llm/tools"
	"github.com/yanfeng98/fork-gemini-deepresearch/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/yanfeng98/fork-gemini-deepresearch/research/supervisor"

// EmptySummaryText 是 worker 返回空摘要时写入 tool 结果的内容
const EmptySummaryText = "Error synthesizing research report"

// Termination 记录运行结束的原因
type Termination string

const (
	TerminationBudgetExhausted  Termination = "budget_exhausted"
	TerminationNoAction         Termination = "no_action"
	TerminationResearchComplete Termination = "research_complete"
	TerminationDelegationFailed Termination = "delegation_failed"
)

// MixedActionPolicy 决定同一次决策里同时出现反思与委派时怎么处理
type MixedActionPolicy string

const (
	// MixedDelegationWins 只派发委派，反思被跳过
	MixedDelegationWins MixedActionPolicy = "delegation_wins"
	// MixedHonorBoth 先解析反思，再在同一轮派发委派
	MixedHonorBoth MixedActionPolicy = "honor_both"
)

// ParseMixedActionPolicy 解析配置值，空串为默认值
func ParseMixedActionPolicy(s string) (MixedActionPolicy, error) {
	switch MixedActionPolicy(strings.TrimSpace(s)) {
	case "", MixedDelegationWins:
		return MixedDelegationWins, nil
	case MixedHonorBoth:
		return MixedHonorBoth, nil
	default:
		return "", types.NewError(types.ErrInvalidConfig, fmt.Sprintf("unknown mixed action policy %q", s))
	}
}

// Config 协调者配置
type Config struct {
	MaxIterations        int               `json:"max_iterations"`
	MaxConcurrentWorkers int               `json:"max_concurrent_workers"`
	WorkerTimeout        time.Duration     `json:"worker_timeout"` // 0 关闭
	MixedActionPolicy    MixedActionPolicy `json:"mixed_action_policy"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		MaxIterations:        6,
		MaxConcurrentWorkers: 3,
		WorkerTimeout:        10 * time.Minute,
		MixedActionPolicy:    MixedDelegationWins,
	}
}

// Validate 校验配置
func (c Config) Validate() error {
	var errs []string
	if c.MaxIterations <= 0 {
		errs = append(errs, "max_iterations must be positive")
	}
	if c.MaxConcurrentWorkers <= 0 {
		errs = append(errs, "max_concurrent_workers must be positive")
	}
	if c.WorkerTimeout < 0 {
		errs = append(errs, "worker_timeout must not be negative")
	}
	if _, err := ParseMixedActionPolicy(string(c.MixedActionPolicy)); err != nil {
		errs = append(errs, err.Error())
	}
	if len(errs) > 0 {
		return types.NewError(types.ErrInvalidConfig, "invalid coordinator config: "+strings.Join(errs, "; "))
	}
	return nil
}

// RunState 是一次运行的状态，只由协调者 goroutine 在迭代之间修改
type RunState struct {
	Transcript []types.Message
	Iterations int
	Notes      []string
	RawNotes   []string
	Brief      string
}

// Result 是一次运行的结果
type Result struct {
	RunID       string      `json:"run_id"`
	Report      string      `json:"report"`
	Termination Termination `json:"termination"`
	// Degraded 表示某批委派失败，报告只基于之前的 notes
	Degraded   bool            `json:"degraded"`
	Iterations int             `json:"iterations"`
	Notes      []string        `json:"notes"`
	RawNotes   []string        `json:"raw_notes"`
	Transcript []types.Message `json:"transcript"`
	Duration   time.Duration   `json:"duration"`
}

// Coordinator 驱动 DECIDE → REFLECT / DELEGATE / COMPLETE 循环
type Coordinator struct {
	decider    DecisionMaker
	worker     Worker
	aggregator Aggregator
	config     Config
	recorder   Recorder
	tracer     trace.Tracer
	newRunID   func() string
	logger     *zap.Logger
}

// Option 配置 Coordinator
type Option func(*Coordinator)

// WithRecorder 上报运行指标
func WithRecorder(r Recorder) Option {
	return func(c *Coordinator) {
		if r != nil {
			c.recorder = r
		}
	}
}

// WithTracerProvider 使用指定的 TracerProvider，默认取全局
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Coordinator) {
		if tp != nil {
			c.tracer = tp.Tracer(instrumentationName)
		}
	}
}

// WithRunIDGenerator 替换运行 ID 生成器
func WithRunIDGenerator(fn func() string) Option {
	return func(c *Coordinator) {
		if fn != nil {
			c.newRunID = fn
		}
	}
}

// NewCoordinator 创建协调者
func NewCoordinator(decider DecisionMaker, worker Worker, aggregator Aggregator, config Config, logger *zap.Logger, opts ...Option) (*Coordinator, error) {
	if decider == nil || worker == nil || aggregator == nil {
		return nil, types.NewError(types.ErrInvalidConfig, "decision maker, worker and aggregator are required")
	}
	if config.MixedActionPolicy == "" {
		config.MixedActionPolicy = MixedDelegationWins
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Coordinator{
		decider:    decider,
		worker:     worker,
		aggregator: aggregator,
		config:     config,
		recorder:   nopRecorder{},
		tracer:     otel.Tracer(instrumentationName),
		newRunID:   uuid.NewString,
		logger:     logger.With(zap.String("component", "coordinator")),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Config 返回协调者配置
func (c *Coordinator) Config() Config {
	return c.config
}

// Execute 从 brief 开始运行，直到生成报告或遇到致命错误
func (c *Coordinator) Execute(ctx context.Context, brief string) (*Result, error) {
	return c.run(ctx, brief, c.config)
}

// ExecuteReport 以指定预算运行并只返回报告。非正数沿用配置值。
func (c *Coordinator) ExecuteReport(ctx context.Context, brief string, maxIterations, maxConcurrency int) (string, error) {
	cfg := c.config
	if maxIterations > 0 {
		cfg.MaxIterations = maxIterations
	}
	if maxConcurrency > 0 {
		cfg.MaxConcurrentWorkers = maxConcurrency
	}
	res, err := c.run(ctx, brief, cfg)
	if err != nil {
		return "", err
	}
	return res.Report, nil
}

func (c *Coordinator) run(ctx context.Context, brief string, cfg Config) (*Result, error) {
	runID := c.newRunID()
	if id, ok := types.RunID(ctx); ok && id != "" {
		runID = id
	}
	ctx = types.WithRunID(ctx, runID)
	logger := c.logger.With(zap.String("run_id", runID))

	ctx, span := c.tracer.Start(ctx, "research.run",
		trace.WithAttributes(
			attribute.String("research.run_id", runID),
			attribute.Int("research.max_iterations", cfg.MaxIterations),
			attribute.Int("research.max_concurrency", cfg.MaxConcurrentWorkers)))
	defer span.End()

	start := time.Now()
	logger.Info("research run started",
		zap.Int("max_iterations", cfg.MaxIterations),
		zap.Int("max_concurrency", cfg.MaxConcurrentWorkers),
		zap.String("mixed_action_policy", string(cfg.MixedActionPolicy)))

	state := &RunState{
		Brief:      brief,
		Transcript: []types.Message{types.NewUserMessage(briefMessage(brief))},
	}
	termination, degraded, err := c.loop(ctx, state, cfg, logger)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("research run failed", zap.Int("iterations", state.Iterations), zap.Error(err))
		return nil, err
	}

	// notes 只在终止时从 transcript 的 tool 结果中取
	state.Notes = types.ToolMessageContents(state.Transcript)
	span.SetAttributes(
		attribute.String("research.termination", string(termination)),
		attribute.Int("research.iterations", state.Iterations),
		attribute.Int("research.notes", len(state.Notes)),
		attribute.Bool("research.degraded", degraded))

	report, err := c.finalize(ctx, state)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	duration := time.Since(start)
	c.recorder.RecordRun(string(termination), state.Iterations, duration)
	logger.Info("research run completed",
		zap.String("termination", string(termination)),
		zap.Int("iterations", state.Iterations),
		zap.Int("notes", len(state.Notes)),
		zap.Int("raw_notes", len(state.RawNotes)),
		zap.Bool("degraded", degraded),
		zap.Duration("duration", duration))

	return &Result{
		RunID:       runID,
		Report:      report,
		Termination: termination,
		Degraded:    degraded,
		Iterations:  state.Iterations,
		Notes:       state.Notes,
		RawNotes:    state.RawNotes,
		Transcript:  state.Transcript,
		Duration:    duration,
	}, nil
}

// loop 返回终止原因；只有决策失败与取消会返回错误
func (c *Coordinator) loop(ctx context.Context, state *RunState, cfg Config, logger *zap.Logger) (Termination, bool, error) {
	limits := Limits{MaxIterations: cfg.MaxIterations, MaxConcurrency: cfg.MaxConcurrentWorkers}

	for {
		if err := ctx.Err(); err != nil {
			return "", false, err
		}
		termination, degraded, done, err := c.iterate(ctx, state, cfg, limits, logger)
		if err != nil || done {
			return termination, degraded, err
		}
	}
}

func (c *Coordinator) iterate(ctx context.Context, state *RunState, cfg Config, limits Limits, logger *zap.Logger) (Termination, bool, bool, error) {
	iteration := state.Iterations + 1
	ctx = types.WithIteration(ctx, iteration)
	ctx, span := c.tracer.Start(ctx, "research.iteration",
		trace.WithAttributes(attribute.Int("research.iteration", iteration)))
	defer span.End()

	decision, err := c.decider.Decide(ctx, types.CloneMessages(state.Transcript), limits)
	if err == nil && decision == nil {
		err = fmt.Errorf("decision maker returned no decision")
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", false, true, ctxErr
		}
		return "", false, true, types.WrapError(err, types.ErrDecisionFailed, "decision step failed")
	}

	msg := decision.Message
	if msg.Role == "" {
		msg.Role = types.RoleAssistant
	}
	state.Transcript = append(state.Transcript, msg)
	state.Iterations++

	set := Partition(decision.Actions)
	for _, ignored := range set.Ignored {
		logger.Warn("ignoring tool call",
			zap.Int("iteration", state.Iterations),
			zap.String("call_id", ignored.CallID),
			zap.String("tool", ignored.Name),
			zap.String("reason", ignored.Reason))
	}

	if termination, ok := checkTermination(state.Iterations, cfg.MaxIterations, set); ok {
		c.recorder.RecordDecision("complete")
		span.SetAttributes(attribute.String("research.branch", "complete"))
		logger.Info("research loop terminating",
			zap.Int("iteration", state.Iterations),
			zap.String("termination", string(termination)))
		return termination, false, true, nil
	}

	reflect := len(set.Reflections) > 0 &&
		(len(set.Delegations) == 0 || cfg.MixedActionPolicy == MixedHonorBoth)
	if reflect {
		c.recorder.RecordDecision("reflect")
		span.SetAttributes(attribute.String("research.branch", "reflect"))
		c.reflect(state, set.Reflections, logger)
	} else if len(set.Reflections) > 0 {
		logger.Debug("reflections skipped, delegation wins",
			zap.Int("iteration", state.Iterations),
			zap.Int("reflections", len(set.Reflections)))
	}

	if len(set.Delegations) == 0 {
		return "", false, false, nil
	}

	c.recorder.RecordDecision("delegate")
	span.SetAttributes(attribute.String("research.branch", "delegate"))
	logger.Info("delegating research",
		zap.Int("iteration", state.Iterations),
		zap.Int("workers", len(set.Delegations)),
		zap.Int("concurrency", cfg.MaxConcurrentWorkers))

	start := time.Now()
	results, err := c.delegate(ctx, set.Delegations, cfg.MaxConcurrentWorkers, cfg.WorkerTimeout)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", false, true, ctxErr
		}
		c.recorder.RecordDelegation("failed", len(set.Delegations))
		logger.Warn("delegation batch failed, completing with earlier notes",
			zap.Int("iteration", state.Iterations),
			zap.Int("workers", len(set.Delegations)),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return TerminationDelegationFailed, true, true, nil
	}

	c.recorder.RecordDelegation("success", len(set.Delegations))
	for i, req := range set.Delegations {
		summary := results[i].CompressedSummary
		if summary == "" {
			summary = EmptySummaryText
		}
		state.Transcript = append(state.Transcript, types.NewToolMessage(req.CallID, ConductResearchToolName, summary))
		state.RawNotes = append(state.RawNotes, strings.Join(results[i].RawNotes, "\n"))
	}
	logger.Info("delegation completed",
		zap.Int("iteration", state.Iterations),
		zap.Int("workers", len(set.Delegations)),
		zap.Duration("duration", time.Since(start)))
	return "", false, false, nil
}

// checkTermination 依次检查：预算耗尽、无可处理调用、完成信号
func checkTermination(iterations, maxIterations int, set ActionSet) (Termination, bool) {
	switch {
	case iterations >= maxIterations:
		return TerminationBudgetExhausted, true
	case !set.Actionable():
		return TerminationNoAction, true
	case set.Complete():
		return TerminationResearchComplete, true
	default:
		return "", false
	}
}

func (c *Coordinator) reflect(state *RunState, reflections []ReflectionAction, logger *zap.Logger) {
	research := make([]string, 0, len(reflections))
	for _, r := range reflections {
		state.Transcript = append(state.Transcript,
			types.NewToolMessage(r.CallID, ThinkToolName, tools.RecordReflection(r.Note)))
		research = append(research, r.Note)
	}
	logger.Debug("reflections recorded",
		zap.Int("iteration", state.Iterations),
		zap.String("research", strings.Join(research, "\n\n")))
}

func (c *Coordinator) finalize(ctx context.Context, state *RunState) (string, error) {
	ctx, span := c.tracer.Start(ctx, "research.aggregate",
		trace.WithAttributes(attribute.Int("research.notes", len(state.Notes))))
	defer span.End()

	report, err := c.aggregator.Finalize(ctx, state.Brief, append([]string(nil), state.Notes...))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if types.IsErrorCode(err, types.ErrAggregationFailed) {
			return "", err
		}
		return "", types.WrapError(err, types.ErrAggregationFailed, "final report generation failed")
	}
	return report, nil
}

// briefMessage 是 transcript 的第一条用户消息
func briefMessage(brief string) string {
	brief = strings.TrimSpace(brief)
	if brief == "" || strings.HasSuffix(brief, ".") {
		return brief
	}
	return brief + "."
}
