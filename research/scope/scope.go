package scope

import (
	"context"
	"strings"
	"time"

	"github.com/yanfeng98/fork-gemini-deepresearch/llm"
	"github.com/yanfeng98/fork-gemini-deepresearch/llm/retry"
	"github.com/yanfeng98/fork-gemini-deepresearch/research/prompts"
	"github.com/yanfeng98/fork-gemini-deepresearch/types"
	"go.uber.org/zap"
)

// Clarification 澄清判断结果
type Clarification struct {
	NeedClarification bool   `json:"need_clarification"`
	Question          string `json:"question"`
	Verification      string `json:"verification"`
}

// Message 返回应当回复给用户的文本
func (c *Clarification) Message() string {
	if c.NeedClarification {
		return c.Question
	}
	return c.Verification
}

type briefOutput struct {
	ResearchBrief string `json:"research_brief"`
}

// Scoper 执行澄清与简报两步
type Scoper struct {
	provider  llm.Provider
	model     string
	maxTokens int
	retryer   retry.Retryer
	now       func() time.Time
	logger    *zap.Logger
}

// Option 配置 Scoper
type Option func(*Scoper)

// WithRetryer 对结构化输出调用启用重试（含解析失败）
func WithRetryer(r retry.Retryer) Option {
	return func(s *Scoper) { s.retryer = r }
}

// WithMaxTokens 限制输出 Token
func WithMaxTokens(n int) Option {
	return func(s *Scoper) { s.maxTokens = n }
}

// WithClock 替换时钟，测试用
func WithClock(now func() time.Time) Option {
	return func(s *Scoper) { s.now = now }
}

// New 创建 Scoper
func New(provider llm.Provider, model string, logger *zap.Logger, opts ...Option) (*Scoper, error) {
	if provider == nil {
		return nil, types.NewError(types.ErrInvalidConfig, "scope requires a provider")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scoper{
		provider: provider,
		model:    model,
		now:      time.Now,
		logger:   logger.With(zap.String("component", "scope")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Clarify 判断对话是否需要追问
func (s *Scoper) Clarify(ctx context.Context, conversation []llm.Message) (*Clarification, error) {
	if len(conversation) == 0 {
		return nil, types.NewError(types.ErrInvalidRequest, "empty conversation")
	}
	prompt := prompts.Clarify(conversation, prompts.FormatDate(s.now()))

	var out Clarification
	if err := s.structured(ctx, prompt, &out); err != nil {
		return nil, err
	}
	if out.NeedClarification && strings.TrimSpace(out.Question) == "" {
		return nil, types.NewError(types.ErrStructuredOutput, "clarification requested without a question")
	}
	s.logger.Info("clarification checked", zap.Bool("need_clarification", out.NeedClarification))
	return &out, nil
}

// WriteBrief 把对话改写为研究简报
func (s *Scoper) WriteBrief(ctx context.Context, conversation []llm.Message) (string, error) {
	if len(conversation) == 0 {
		return "", types.NewError(types.ErrInvalidRequest, "empty conversation")
	}
	prompt := prompts.ResearchBrief(conversation, prompts.FormatDate(s.now()))

	var out briefOutput
	if err := s.structured(ctx, prompt, &out); err != nil {
		return "", err
	}
	brief := strings.TrimSpace(out.ResearchBrief)
	if brief == "" {
		return "", types.NewError(types.ErrStructuredOutput, "empty research brief")
	}
	s.logger.Info("research brief written", zap.Int("length", len(brief)))
	return brief, nil
}

func (s *Scoper) structured(ctx context.Context, prompt string, out any) error {
	req := &llm.ChatRequest{
		Model:          s.model,
		MaxTokens:      s.maxTokens,
		Messages:       []llm.Message{types.NewUserMessage(prompt)},
		ResponseFormat: llm.JSONObjectFormat,
	}
	call := func() error {
		resp, err := s.provider.Completion(ctx, req)
		if err != nil {
			return err
		}
		if err := llm.DecodeJSONContent(resp, out); err != nil {
			// 解析失败通常是模型偶发输出，值得重试
			return retry.WrapRetryable(types.WrapError(err, types.ErrStructuredOutput, "invalid structured output"))
		}
		return nil
	}
	if s.retryer != nil {
		return s.retryer.Do(ctx, call)
	}
	return call()
}
