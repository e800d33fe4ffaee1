package workflow

import (
	"context"
	"errors"
	"fmt"
)

// ErrStopChain 由步骤返回，表示链路提前结束且当前输出即最终结果。
// 用 fmt.Errorf("%w", ...) 包装时不影响识别。
var ErrStopChain = errors.New("workflow: stop chain")

// Runnable is the common execution interface shared by Step and Workflow.
type Runnable interface {
	Execute(ctx context.Context, input any) (any, error)
}

// Workflow 工作流接口
// Workflow 是预定义的步骤序列，提供可预测和一致的执行
type Workflow interface {
	Runnable
	// Name 返回工作流名称
	Name() string
	// Description 返回工作流描述
	Description() string
}

// Step 工作流步骤接口
type Step interface {
	Runnable
	// Name 返回步骤名称
	Name() string
}

// StepFunc 步骤函数类型
type StepFunc func(ctx context.Context, input any) (any, error)

// FuncStep 函数步骤实现
type FuncStep struct {
	name string
	fn   StepFunc
}

// NewFuncStep 创建函数步骤
func NewFuncStep(name string, fn StepFunc) *FuncStep {
	return &FuncStep{
		name: name,
		fn:   fn,
	}
}

func (s *FuncStep) Execute(ctx context.Context, input any) (any, error) {
	return s.fn(ctx, input)
}

func (s *FuncStep) Name() string {
	return s.name
}

// ChainWorkflow 链式工作流
// 将任务分解为固定的步骤序列，每个步骤处理前一步的输出
type ChainWorkflow struct {
	name        string
	description string
	steps       []Step
}

// NewChainWorkflow 创建链式工作流
func NewChainWorkflow(name, description string, steps ...Step) *ChainWorkflow {
	return &ChainWorkflow{
		name:        name,
		description: description,
		steps:       steps,
	}
}

// Execute 执行链路
// 按顺序执行每个步骤，将前一步的输出作为下一步的输入。
// 步骤返回 ErrStopChain 时以该步骤的输出结束，不视为失败。
func (w *ChainWorkflow) Execute(ctx context.Context, input any) (any, error) {
	emit, streaming := streamEmitterFromContext(ctx)
	current := input

	for i, step := range w.steps {
		// 检查上下文是否已取消
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		if streaming {
			emit(StreamEvent{Type: EventStepStart, Index: i, Step: step.Name()})
		}

		result, err := step.Execute(ctx, current)
		if errors.Is(err, ErrStopChain) {
			if streaming {
				emit(StreamEvent{Type: EventChainStopped, Index: i, Step: step.Name(), Data: result})
			}
			return result, nil
		}
		if err != nil {
			if streaming {
				emit(StreamEvent{Type: EventStepError, Index: i, Step: step.Name(), Error: err})
			}
			return nil, fmt.Errorf("step %d (%s) failed: %w", i+1, step.Name(), err)
		}
		if streaming {
			emit(StreamEvent{Type: EventStepComplete, Index: i, Step: step.Name(), Data: result})
		}

		current = result
	}

	return current, nil
}

func (w *ChainWorkflow) Name() string {
	return w.name
}

func (w *ChainWorkflow) Description() string {
	return w.description
}

// AddStep 添加步骤
func (w *ChainWorkflow) AddStep(step Step) {
	w.steps = append(w.steps, step)
}

// Steps 返回所有步骤
func (w *ChainWorkflow) Steps() []Step {
	return w.steps
}

// =============================================================================
// Workflow Streaming
// =============================================================================

// StreamEventType defines the type of workflow stream event.
type StreamEventType string

const (
	// EventStepStart is emitted before a step begins execution.
	EventStepStart StreamEventType = "step_start"
	// EventStepComplete is emitted after a step finishes successfully.
	EventStepComplete StreamEventType = "step_complete"
	// EventStepError is emitted when a step fails.
	EventStepError StreamEventType = "step_error"
	// EventChainStopped is emitted when a step ends the chain early.
	EventChainStopped StreamEventType = "chain_stopped"
)

// StreamEvent carries information about a workflow execution event.
type StreamEvent struct {
	Type  StreamEventType `json:"type"`
	Index int             `json:"index"`
	Step  string          `json:"step"`
	Data  any             `json:"data,omitempty"`
	Error error           `json:"-"`
}

// StreamEmitter is a callback that receives workflow stream events.
type StreamEmitter func(StreamEvent)

type streamEmitterKey struct{}

// WithStreamEmitter stores a StreamEmitter in the context.
func WithStreamEmitter(ctx context.Context, emitter StreamEmitter) context.Context {
	if emitter == nil {
		return ctx
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, streamEmitterKey{}, emitter)
}

func streamEmitterFromContext(ctx context.Context) (StreamEmitter, bool) {
	if ctx == nil {
		return nil, false
	}
	emit, ok := ctx.Value(streamEmitterKey{}).(StreamEmitter)
	return emit, ok && emit != nil
}
