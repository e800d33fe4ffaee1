package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FirstChoice safely returns the first choice from a ChatResponse.
// Returns an error if the response is nil or has no choices.
func FirstChoice(resp *ChatResponse) (ChatChoice, error) {
	if resp == nil {
		return ChatChoice{}, &Error{Code: ErrEmptyResponse, Message: "nil ChatResponse"}
	}
	if len(resp.Choices) == 0 {
		return ChatChoice{}, &Error{
			Code:     ErrEmptyResponse,
			Message:  "empty choices in ChatResponse (model returned no choices)",
			Provider: resp.Provider,
		}
	}
	return resp.Choices[0], nil
}

// DecodeJSONContent unmarshals the first choice's content into out.
// Markdown code fences around the JSON are tolerated.
func DecodeJSONContent(resp *ChatResponse, out any) error {
	choice, err := FirstChoice(resp)
	if err != nil {
		return err
	}
	raw := stripCodeFence(choice.Message.Content)
	if raw == "" {
		return fmt.Errorf("empty structured output")
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("decode structured output: %w", err)
	}
	return nil
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
