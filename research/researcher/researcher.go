package researcher

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/yanfeng98/fork-gemini-deepresearch/llm"
	"github.com/yanfeng98/fork-gemini-deepresearch/llm/retry"
	"github.com/yanfeng98/fork-gemini-deepresearch/llm/tools"
	"github.com/yanfeng98/fork-gemini-deepresearch/research/prompts"
	"github.com/yanfeng98/fork-gemini-deepresearch/research/supervisor"
	"github.com/yanfeng98/fork-gemini-deepresearch/types"
	"go.uber.org/zap"
)

// Config 研究员配置
type Config struct {
	Model string `json:"model"`
	// CompressModel 为空时使用 Model
	CompressModel      string `json:"compress_model"`
	CompressMaxTokens  int    `json:"compress_max_tokens"`
	MaxToolIterations  int    `json:"max_tool_iterations"`
	MaxToolConcurrency int    `json:"max_tool_concurrency"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		MaxToolIterations:  5,
		MaxToolConcurrency: 3,
	}
}

// Researcher 是 supervisor.Worker 的实现：
// 先在 web search 与 think_tool 上跑工具循环，再把 transcript 压缩成摘要。
type Researcher struct {
	provider llm.Provider
	registry *tools.DefaultRegistry
	react    *tools.ReActExecutor
	retryer  retry.Retryer
	config   Config
	now      func() time.Time
	logger   *zap.Logger
}

var _ supervisor.Worker = (*Researcher)(nil)

// New 创建研究员，search 配置决定检索后端、缓存与网页摘要
func New(provider llm.Provider, search tools.WebSearchToolConfig, config Config, retryer retry.Retryer, logger *zap.Logger) (*Researcher, error) {
	if provider == nil {
		return nil, types.NewError(types.ErrInvalidConfig, "researcher requires a provider")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "researcher"))

	defaults := DefaultConfig()
	if config.MaxToolIterations <= 0 {
		config.MaxToolIterations = defaults.MaxToolIterations
	}
	if config.MaxToolConcurrency <= 0 {
		config.MaxToolConcurrency = defaults.MaxToolConcurrency
	}
	if config.CompressModel == "" {
		config.CompressModel = config.Model
	}
	if search.Retryer == nil {
		search.Retryer = retryer
	}

	registry := tools.NewDefaultRegistry(logger)
	searchFn, searchMeta := tools.NewWebSearchTool(search, logger)
	if err := registry.Register(tools.WebSearchToolName, searchFn, searchMeta); err != nil {
		return nil, err
	}
	thinkFn, thinkMeta := tools.NewThinkTool()
	if err := registry.Register(tools.ThinkToolName, thinkFn, thinkMeta); err != nil {
		return nil, err
	}

	executor := tools.NewDefaultExecutor(registry, config.MaxToolConcurrency, logger)
	react := tools.NewReActExecutor(provider, executor, tools.ReActConfig{
		MaxIterations: config.MaxToolIterations,
		Retryer:       retryer,
	}, logger)

	return &Researcher{
		provider: provider,
		registry: registry,
		react:    react,
		retryer:  retryer,
		config:   config,
		now:      time.Now,
		logger:   logger,
	}, nil
}

// Run 研究一个主题。RawNotes 是研究员 transcript 中每条 assistant 与 tool 消息的文本。
func (r *Researcher) Run(ctx context.Context, topic string) (*supervisor.WorkerResult, error) {
	if strings.TrimSpace(topic) == "" {
		return nil, types.NewError(types.ErrWorkerFailed, "empty research topic")
	}
	start := time.Now()
	date := prompts.FormatDate(r.now())

	result, err := r.react.Execute(ctx, &llm.ChatRequest{
		Model: r.config.Model,
		Messages: []llm.Message{
			types.NewSystemMessage(prompts.Researcher(date)),
			types.NewUserMessage(topic),
		},
		Tools:      r.registry.List(),
		ToolChoice: "auto",
	})
	switch {
	case errors.Is(err, tools.ErrMaxIterations):
		r.logger.Info("tool budget exhausted, compressing gathered research",
			zap.Int("max_tool_iterations", r.config.MaxToolIterations))
	case err != nil:
		return nil, types.WrapError(err, types.ErrWorkerFailed, "research tool loop failed")
	}

	// 去掉系统提示词，保留 topic 与后续消息
	research := result.Messages[1:]
	summary, err := r.compress(ctx, topic, date, research)
	if err != nil {
		return nil, types.WrapError(err, types.ErrWorkerFailed, "research compression failed")
	}

	notes := RawNotes(research)
	r.logger.Info("research finished",
		zap.Int("steps", len(result.Steps)),
		zap.Int("raw_notes", len(notes)),
		zap.Int("tokens", result.TotalTokens),
		zap.Duration("duration", time.Since(start)))
	return &supervisor.WorkerResult{CompressedSummary: summary, RawNotes: notes}, nil
}

func (r *Researcher) compress(ctx context.Context, topic, date string, research []llm.Message) (string, error) {
	messages := make([]llm.Message, 0, len(research)+2)
	messages = append(messages, types.NewSystemMessage(prompts.Compress(date)))
	messages = append(messages, supervisor.StripUnansweredToolCalls(research)...)
	messages = append(messages, types.NewUserMessage(prompts.CompressRequest(topic)))

	req := &llm.ChatRequest{
		Model:     r.config.CompressModel,
		MaxTokens: r.config.CompressMaxTokens,
		Messages:  messages,
	}
	call := func() (*llm.ChatResponse, error) { return r.provider.Completion(ctx, req) }

	var (
		resp *llm.ChatResponse
		err  error
	)
	if r.retryer != nil {
		resp, err = retry.DoWithResult(ctx, r.retryer, call)
	} else {
		resp, err = call()
	}
	if err != nil {
		return "", err
	}
	choice, err := llm.FirstChoice(resp)
	if err != nil {
		return "", err
	}
	return choice.Message.Content, nil
}

// RawNotes 返回 assistant 与 tool 消息的文本，跳过空内容
func RawNotes(msgs []llm.Message) []string {
	notes := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if m.Role != types.RoleAssistant && m.Role != types.RoleTool {
			continue
		}
		if m.Content == "" {
			continue
		}
		notes = append(notes, m.Content)
	}
	return notes
}
