package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/yanfeng98/fork-gemini-deepresearch/llm"
	"github.com/yanfeng98/fork-gemini-deepresearch/llm/retry"
	"go.uber.org/zap"
)

// ErrMaxIterations is returned together with a usable result when the loop
// ran out of iterations while the model still wanted to call tools.
var ErrMaxIterations = errors.New("react: max iterations reached")

// ReActConfig defines ReAct loop configuration.
type ReActConfig struct {
	MaxIterations int           // Maximum LLM rounds (prevents infinite loops)
	StopOnError   bool          // Stop on tool execution error
	Retryer       retry.Retryer // Optional retry for transient LLM failures
}

// ReActExecutor implements the ReAct (Reasoning and Acting) loop.
// Automatically handles "LLM -> Tool -> LLM" multi-turn conversations.
type ReActExecutor struct {
	provider     llm.Provider
	toolExecutor ToolExecutor
	logger       *zap.Logger
	config       ReActConfig
}

// NewReActExecutor creates a ReAct executor.
func NewReActExecutor(provider llm.Provider, toolExecutor ToolExecutor, config ReActConfig, logger *zap.Logger) *ReActExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MaxIterations <= 0 {
		config.MaxIterations = 10
	}
	return &ReActExecutor{
		provider:     provider,
		toolExecutor: toolExecutor,
		logger:       logger,
		config:       config,
	}
}

// ReActStep represents one step in the ReAct loop (Thought → Action → Observation).
type ReActStep struct {
	StepNumber   int            `json:"step_number"`
	Thought      string         `json:"thought,omitempty"`
	Actions      []llm.ToolCall `json:"actions,omitempty"`
	Observations []ToolResult   `json:"observations,omitempty"`
	TokensUsed   int            `json:"tokens_used,omitempty"`
}

// ReActResult is the outcome of one loop.
type ReActResult struct {
	// Messages is the request conversation followed by every assistant and tool message.
	Messages      []llm.Message     `json:"messages"`
	Steps         []ReActStep       `json:"steps"`
	FinalResponse *llm.ChatResponse `json:"final_response,omitempty"`
	TotalTokens   int               `json:"total_tokens"`
}

// FinalAnswer returns the content of the last model turn without tool calls.
func (r *ReActResult) FinalAnswer() string {
	if r == nil || r.FinalResponse == nil || len(r.FinalResponse.Choices) == 0 {
		return ""
	}
	return r.FinalResponse.Choices[0].Message.Content
}

func (r *ReActExecutor) complete(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	if r.config.Retryer == nil {
		return r.provider.Completion(ctx, req)
	}
	return retry.DoWithResult(ctx, r.config.Retryer, func() (*llm.ChatResponse, error) {
		return r.provider.Completion(ctx, req)
	})
}

// Execute runs the ReAct loop.
// On exhaustion it returns the partial result and an error wrapping ErrMaxIterations.
func (r *ReActExecutor) Execute(ctx context.Context, req *llm.ChatRequest) (*ReActResult, error) {
	result := &ReActResult{
		Messages: append([]llm.Message{}, req.Messages...),
		Steps:    make([]ReActStep, 0),
	}

	for i := 0; i < r.config.MaxIterations; i++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		r.logger.Debug("ReAct iteration", zap.Int("iteration", i+1))

		callReq := *req
		callReq.Messages = result.Messages
		resp, err := r.complete(ctx, &callReq)
		if err != nil {
			return result, fmt.Errorf("LLM call failed at iteration %d: %w", i+1, err)
		}

		choice, err := llm.FirstChoice(resp)
		if err != nil {
			return result, err
		}
		toolCalls := choice.Message.ToolCalls
		result.TotalTokens += resp.Usage.TotalTokens

		step := ReActStep{
			StepNumber: i + 1,
			Thought:    choice.Message.Content,
			TokensUsed: resp.Usage.TotalTokens,
		}
		result.Messages = append(result.Messages, choice.Message)

		if len(toolCalls) == 0 {
			r.logger.Debug("ReAct completed", zap.Int("iterations", i+1), zap.String("finish_reason", choice.FinishReason))
			result.Steps = append(result.Steps, step)
			result.FinalResponse = resp
			return result, nil
		}

		step.Actions = toolCalls
		toolResults := r.toolExecutor.Execute(ctx, toolCalls)
		step.Observations = toolResults

		hasError := false
		for _, tr := range toolResults {
			if tr.IsError() {
				hasError = true
				r.logger.Warn("tool execution failed", zap.String("tool", tr.Name), zap.String("error", tr.Error))
			}
			result.Messages = append(result.Messages, tr.ToMessage())
		}
		result.Steps = append(result.Steps, step)

		if hasError && r.config.StopOnError {
			return result, fmt.Errorf("tool execution failed, stopping ReAct loop")
		}
	}

	r.logger.Debug("ReAct max iterations reached", zap.Int("max", r.config.MaxIterations))
	return result, fmt.Errorf("%w (%d)", ErrMaxIterations, r.config.MaxIterations)
}
