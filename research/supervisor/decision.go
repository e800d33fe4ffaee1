package supervisor

import (
	"context"
	"time"

	"github.com/yanfeng98/fork-gemini-deepresearch/llm"
	"github.com/yanfeng98/fork-gemini-deepresearch/research/prompts"
	"github.com/yanfeng98/fork-gemini-deepresearch/types"
	"go.uber.org/zap"
)

// Limits 是写进决策系统提示词的预算
type Limits struct {
	MaxIterations  int
	MaxConcurrency int
}

// Decision 是一次决策的输出：追加到 transcript 的消息及其分类后的调用
type Decision struct {
	Message types.Message
	Actions []Action
}

// DecisionMaker 根据 transcript 决定下一步。协调者不会重试它。
type DecisionMaker interface {
	Decide(ctx context.Context, transcript []types.Message, limits Limits) (*Decision, error)
}

// DecisionFunc 把函数适配为 DecisionMaker
type DecisionFunc func(ctx context.Context, transcript []types.Message, limits Limits) (*Decision, error)

func (f DecisionFunc) Decide(ctx context.Context, transcript []types.Message, limits Limits) (*Decision, error) {
	return f(ctx, transcript, limits)
}

// LLMDecisionMaker 用推理引擎做决策，绑定 ConductResearch / ResearchComplete / think_tool
type LLMDecisionMaker struct {
	provider llm.Provider
	model    string
	now      func() time.Time
	logger   *zap.Logger
}

// NewLLMDecisionMaker 创建基于 LLM 的决策步骤
func NewLLMDecisionMaker(provider llm.Provider, model string, logger *zap.Logger) *LLMDecisionMaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LLMDecisionMaker{
		provider: provider,
		model:    model,
		now:      time.Now,
		logger:   logger.With(zap.String("component", "decision")),
	}
}

// Decide 发起一次带工具的补全
func (d *LLMDecisionMaker) Decide(ctx context.Context, transcript []types.Message, limits Limits) (*Decision, error) {
	system := prompts.LeadResearcher(prompts.FormatDate(d.now()), limits.MaxConcurrency, limits.MaxIterations)
	messages := make([]llm.Message, 0, len(transcript)+1)
	messages = append(messages, types.NewSystemMessage(system))
	messages = append(messages, StripUnansweredToolCalls(transcript)...)

	resp, err := d.provider.Completion(ctx, &llm.ChatRequest{
		Model:      d.model,
		Messages:   messages,
		Tools:      DecisionTools(),
		ToolChoice: "auto",
	})
	if err != nil {
		return nil, err
	}
	choice, err := llm.FirstChoice(resp)
	if err != nil {
		return nil, err
	}

	msg := choice.Message
	msg.Role = types.RoleAssistant
	if msg.Timestamp.IsZero() {
		msg.Timestamp = d.now()
	}
	actions := Classify(msg.ToolCalls)
	d.logger.Debug("decision produced",
		zap.Int("tool_calls", len(msg.ToolCalls)),
		zap.String("finish_reason", choice.FinishReason))
	return &Decision{Message: msg, Actions: actions}, nil
}

// StripUnansweredToolCalls 返回去掉了无对应 tool 结果的调用后的副本。
// 被跳过的反思调用不会出现在发往 provider 的请求里，原 transcript 不变。
func StripUnansweredToolCalls(transcript []types.Message) []types.Message {
	answered := make(map[string]struct{})
	for _, m := range transcript {
		if m.Role == types.RoleTool && m.ToolCallID != "" {
			answered[m.ToolCallID] = struct{}{}
		}
	}

	out := types.CloneMessages(transcript)
	for i, m := range out {
		if m.Role != types.RoleAssistant || len(m.ToolCalls) == 0 {
			continue
		}
		kept := m.ToolCalls[:0]
		for _, tc := range m.ToolCalls {
			if _, ok := answered[tc.ID]; ok {
				kept = append(kept, tc)
			}
		}
		if len(kept) == 0 {
			kept = nil
		}
		out[i].ToolCalls = kept
	}
	return out
}
