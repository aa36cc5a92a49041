// Package llm provides model backend clients for the agent loop.
package llm

import (
	"fmt"
	"log/slog"
	"time"
)

// LevelTrace is below Debug, used for wire-level payload logging.
const LevelTrace = slog.Level(-8)

// Message represents a chat message exchanged with the model.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // For tool responses
}

// ToolCall represents a tool call requested by the model.
type ToolCall struct {
	ID       string `json:"id,omitempty"` // Provider-assigned ID for tool_result correlation
	Function struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	} `json:"function"`
}

// NewToolCall builds a ToolCall without the anonymous-struct ceremony.
func NewToolCall(id, name string, args map[string]any) ToolCall {
	tc := ToolCall{ID: id}
	tc.Function.Name = name
	tc.Function.Arguments = args
	return tc
}

// ChatResponse is the unified response from a model backend. Wire
// format conversion happens at the provider boundary.
type ChatResponse struct {
	Model     string
	CreatedAt time.Time
	Message   Message
	Done      bool

	InputTokens  int
	OutputTokens int
}

// APIError is a failure reported by the model backend itself, as
// opposed to a transport failure reaching it. The agent loop treats it
// as fatal for the current turn.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("inference API error %d: %s", e.Status, e.Body)
}
