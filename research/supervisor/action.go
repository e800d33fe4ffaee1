package supervisor

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/yanfeng98/fork-gemini-deepresearch/llm"
	"github.com/yanfeng98/fork-gemini-deepresearch/llm/tools"
	"github.com/yanfeng98/fork-gemini-deepresearch/types"
)

// 协调者可调用的工具名
const (
	ConductResearchToolName  = "ConductResearch"
	ResearchCompleteToolName = "ResearchComplete"
	ThinkToolName            = tools.ThinkToolName
)

// ConductResearchSchema 委派一个子研究
var ConductResearchSchema = llm.ToolSchema{
	Name:        ConductResearchToolName,
	Description: "Tool for delegating a research task to a specialized sub-agent.",
	Parameters: json.RawMessage(`{
		"type": "object",
		"properties": {
			"research_topic": {
				"type": "string",
				"description": "The topic to research. Should be a single topic, and should be described in high detail (at least a paragraph)."
			}
		},
		"required": ["research_topic"]
	}`),
}

// ResearchCompleteSchema 声明研究已完成
var ResearchCompleteSchema = llm.ToolSchema{
	Name:        ResearchCompleteToolName,
	Description: "Tool for indicating that the research process is complete.",
	Parameters:  json.RawMessage(`{"type": "object", "properties": {}}`),
}

// DecisionTools 返回决策步骤绑定的三个工具
func DecisionTools() []llm.ToolSchema {
	return []llm.ToolSchema{ConductResearchSchema, ResearchCompleteSchema, tools.ThinkSchema}
}

// Action 是决策输出中单个工具调用的分类结果。
// 只有本包内的四种类型实现它。
type Action interface {
	ID() string
	action()
}

// DelegationAction 请求一个 worker 研究 Topic
type DelegationAction struct {
	CallID string
	Topic  string
}

// ReflectionAction 记录一条反思，本地解析
type ReflectionAction struct {
	CallID string
	Note   string
}

// CompletionAction 表示协调者认为研究已完成
type CompletionAction struct {
	CallID string
}

// NoAction 是未知工具或参数缺失的调用，不会被派发
type NoAction struct {
	CallID string
	Name   string
	Reason string
}

func (a DelegationAction) ID() string { return a.CallID }
func (a ReflectionAction) ID() string { return a.CallID }
func (a CompletionAction) ID() string { return a.CallID }
func (a NoAction) ID() string         { return a.CallID }

func (DelegationAction) action() {}
func (ReflectionAction) action() {}
func (CompletionAction) action() {}
func (NoAction) action()         {}

// Classify 把工具调用逐个转换为 Action，保持原顺序
func Classify(calls []types.ToolCall) []Action {
	actions := make([]Action, 0, len(calls))
	for _, call := range calls {
		actions = append(actions, classifyCall(call))
	}
	return actions
}

func classifyCall(call types.ToolCall) Action {
	switch call.Name {
	case ConductResearchToolName:
		var args struct {
			ResearchTopic string `json:"research_topic"`
		}
		if err := decodeArgs(call.Arguments, &args); err != nil {
			return NoAction{CallID: call.ID, Name: call.Name, Reason: err.Error()}
		}
		if strings.TrimSpace(args.ResearchTopic) == "" {
			return NoAction{CallID: call.ID, Name: call.Name, Reason: "missing research_topic"}
		}
		return DelegationAction{CallID: call.ID, Topic: args.ResearchTopic}
	case ThinkToolName:
		var args struct {
			Reflection string `json:"reflection"`
		}
		if err := decodeArgs(call.Arguments, &args); err != nil {
			return NoAction{CallID: call.ID, Name: call.Name, Reason: err.Error()}
		}
		if strings.TrimSpace(args.Reflection) == "" {
			return NoAction{CallID: call.ID, Name: call.Name, Reason: "missing reflection"}
		}
		return ReflectionAction{CallID: call.ID, Note: args.Reflection}
	case ResearchCompleteToolName:
		return CompletionAction{CallID: call.ID}
	default:
		return NoAction{CallID: call.ID, Name: call.Name, Reason: "unknown tool"}
	}
}

func decodeArgs(raw json.RawMessage, out any) error {
	if len(raw) == 0 {
		return fmt.Errorf("missing arguments")
	}
	// 部分 provider 把 arguments 编码成 JSON 字符串
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return fmt.Errorf("invalid arguments: %w", err)
		}
		raw = json.RawMessage(s)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

// ActionSet 是按种类重新分组后的决策输出
type ActionSet struct {
	Delegations []DelegationAction
	Reflections []ReflectionAction
	Completions []CompletionAction
	Ignored     []NoAction
}

// Partition 按种类分组，组内保持原顺序
func Partition(actions []Action) ActionSet {
	var set ActionSet
	for _, a := range actions {
		switch a := a.(type) {
		case DelegationAction:
			set.Delegations = append(set.Delegations, a)
		case ReflectionAction:
			set.Reflections = append(set.Reflections, a)
		case CompletionAction:
			set.Completions = append(set.Completions, a)
		case NoAction:
			set.Ignored = append(set.Ignored, a)
		default:
			panic(fmt.Sprintf("supervisor: unexpected action %T", a))
		}
	}
	return set
}

// Actionable 至少包含一个可处理的调用
func (s ActionSet) Actionable() bool {
	return len(s.Delegations)+len(s.Reflections)+len(s.Completions) > 0
}

// Complete 包含完成信号
func (s ActionSet) Complete() bool {
	return len(s.Completions) > 0
}
