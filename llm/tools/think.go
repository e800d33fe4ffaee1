package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/yanfeng98/fork-gemini-deepresearch/llm"
)

// ThinkToolName is the strategic reflection tool shared by supervisor and researcher.
const ThinkToolName = "think_tool"

// ThinkSchema describes think_tool to the model.
var ThinkSchema = llm.ToolSchema{
	Name: ThinkToolName,
	Description: "Tool for strategic reflection on research progress and decision-making. " +
		"Use it after each search to analyze results and plan next steps: what key information was found, " +
		"what is still missing, whether there is enough to answer the question, and whether to search more or answer.",
	Parameters: json.RawMessage(`{
		"type": "object",
		"properties": {
			"reflection": {
				"type": "string",
				"description": "Your detailed reflection on research progress, findings, gaps, and next steps"
			}
		},
		"required": ["reflection"]
	}`),
}

// RecordReflection is the observation returned for a reflection.
func RecordReflection(note string) string {
	return "Reflection recorded: " + note
}

// NewThinkTool creates the think_tool ToolFunc. The result is a JSON string.
func NewThinkTool() (ToolFunc, ToolMetadata) {
	fn := func(_ context.Context, args json.RawMessage) (json.RawMessage, error) {
		var params struct {
			Reflection string `json:"reflection"`
		}
		if err := json.Unmarshal(args, &params); err != nil {
			return nil, fmt.Errorf("invalid %s arguments: %w", ThinkToolName, err)
		}
		if strings.TrimSpace(params.Reflection) == "" {
			return nil, fmt.Errorf("reflection is required")
		}
		return json.Marshal(RecordReflection(params.Reflection))
	}
	return fn, ToolMetadata{Schema: ThinkSchema, Description: "Records a reflection"}
}
