package workflow

import "github.com/c360studio/reportgen/llm"

// ToolResult is the outcome of one ToolCall. Exactly one of Content or Error is set.
type ToolResult struct {
	CallID  string `json:"call_id"`
	Name    string `json:"name"`
	Content string `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`
}

// IsError reports whether the call failed.
func (r ToolResult) IsError() bool {
	return r.Error != ""
}

// Text is what the model sees for this result.
func (r ToolResult) Text() string {
	if r.Error != "" {
		return "Error: " + r.Error
	}
	return r.Content
}

// Message converts the result to a tool-role message answering CallID.
func (r ToolResult) Message() Message {
	return Message{
		Role:       llm.RoleTool,
		Content:    r.Text(),
		ToolCallID: r.CallID,
		Name:       r.Name,
	}
}
