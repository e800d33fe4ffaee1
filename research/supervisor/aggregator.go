package supervisor

import (
	"context"
	"strings"
	"time"

	"github.com/yanfeng98/fork-gemini-deepresearch/llm"
	"github.com/yanfeng98/fork-gemini-deepresearch/llm/tokenizer"
	"github.com/yanfeng98/fork-gemini-deepresearch/research/prompts"
	"github.com/yanfeng98/fork-gemini-deepresearch/types"
	"go.uber.org/zap"
)

// Aggregator 把终止时的 notes 合成为最终报告
type Aggregator interface {
	Finalize(ctx context.Context, brief string, notes []string) (string, error)
}

// AggregatorFunc 把函数适配为 Aggregator
type AggregatorFunc func(ctx context.Context, brief string, notes []string) (string, error)

func (f AggregatorFunc) Finalize(ctx context.Context, brief string, notes []string) (string, error) {
	return f(ctx, brief, notes)
}

// FindingsRecorder 记录 findings 被裁剪
type FindingsRecorder interface {
	RecordFindingsTrimmed()
}

// AggregatorConfig 配置最终报告调用
type AggregatorConfig struct {
	Model     string
	MaxTokens int
	// FindingsTokenBudget 限制拼接后 findings 的 token 数，0 不限制
	FindingsTokenBudget int
	// FallbackToNotes 报告调用失败时返回拼接后的 notes
	FallbackToNotes bool
}

// LLMAggregator 用一次推理引擎调用生成报告，不重试
type LLMAggregator struct {
	provider  llm.Provider
	config    AggregatorConfig
	tokenizer tokenizer.Tokenizer
	recorder  FindingsRecorder
	now       func() time.Time
	logger    *zap.Logger
}

// AggregatorOption 配置 LLMAggregator
type AggregatorOption func(*LLMAggregator)

// WithTokenizer 指定 findings 计数用的分词器，默认按模型选择
func WithTokenizer(t tokenizer.Tokenizer) AggregatorOption {
	return func(a *LLMAggregator) { a.tokenizer = t }
}

// WithFindingsRecorder 上报裁剪事件
func WithFindingsRecorder(r FindingsRecorder) AggregatorOption {
	return func(a *LLMAggregator) { a.recorder = r }
}

// NewLLMAggregator 创建 LLMAggregator
func NewLLMAggregator(provider llm.Provider, config AggregatorConfig, logger *zap.Logger, opts ...AggregatorOption) *LLMAggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &LLMAggregator{
		provider: provider,
		config:   config,
		now:      time.Now,
		logger:   logger.With(zap.String("component", "aggregator")),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.tokenizer == nil && config.FindingsTokenBudget > 0 {
		a.tokenizer = tokenizer.ForModel(config.Model)
	}
	return a
}

// Finalize 生成最终报告。notes 按 transcript 顺序以换行拼接。
func (a *LLMAggregator) Finalize(ctx context.Context, brief string, notes []string) (string, error) {
	findings := strings.Join(a.fit(notes), "\n")

	resp, err := a.provider.Completion(ctx, &llm.ChatRequest{
		Model:     a.config.Model,
		MaxTokens: a.config.MaxTokens,
		Messages:  []llm.Message{types.NewUserMessage(prompts.FinalReport(brief, findings, prompts.FormatDate(a.now())))},
	})
	if err == nil {
		var choice llm.ChatChoice
		if choice, err = llm.FirstChoice(resp); err == nil {
			return choice.Message.Content, nil
		}
	}

	if a.config.FallbackToNotes && len(notes) > 0 && ctx.Err() == nil {
		a.logger.Warn("final report generation failed, falling back to raw notes",
			zap.Int("notes", len(notes)),
			zap.Error(err))
		return strings.Join(notes, "\n"), nil
	}
	a.logger.Error("final report generation failed", zap.Error(err))
	return "", types.WrapError(err, types.ErrAggregationFailed, "final report generation failed")
}

func (a *LLMAggregator) fit(notes []string) []string {
	if a.config.FindingsTokenBudget <= 0 || a.tokenizer == nil {
		return notes
	}
	res, err := tokenizer.FitNotes(a.tokenizer, notes, "\n", a.config.FindingsTokenBudget)
	if err != nil {
		a.logger.Warn("failed to count findings tokens, sending untrimmed", zap.Error(err))
		return notes
	}
	if res.Trimmed {
		a.logger.Info("findings trimmed to token budget",
			zap.Int("budget", a.config.FindingsTokenBudget),
			zap.Int("original_tokens", res.OriginalCount),
			zap.Int("tokens", res.Tokens),
			zap.Int("dropped_notes", res.DroppedNotes))
		if a.recorder != nil {
			a.recorder.RecordFindingsTrimmed()
		}
	}
	return res.Notes
}
