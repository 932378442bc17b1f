// Package llm defines the model boundary: a single Complete operation
// that handles both textual and tool-request-bearing responses
// uniformly. Concrete providers, retry, and circuit breaking are
// decorators around the same Client interface so tests substitute fakes.
package llm

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrUnavailable marks upstream model outages. It is the one error
// class that trips the circuit breaker; everything else is handled by
// the caller's fallback logic.
var ErrUnavailable = errors.New("model temporarily unavailable")

// Role identifies the message sender.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of conversation history.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`

	// ToolCalls is set on assistant messages that requested tools.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolResults is set on user messages carrying tool outputs
	// (can hold multiple results for parallel tool calls).
	ToolResults []ToolResult `json:"tool_results,omitempty"`
}

// ToolCall is the model's request to invoke a tool.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// Args unmarshals the call input into an argument map. Malformed input
// yields an empty map — the registry's validation reports the details.
func (c ToolCall) Args() map[string]any {
	var args map[string]any
	if len(c.Input) > 0 {
		if err := json.Unmarshal(c.Input, &args); err != nil {
			return map[string]any{}
		}
	}
	if args == nil {
		args = map[string]any{}
	}
	return args
}

// ToolResult carries a tool output back to the model.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// ToolDefinition describes a tool available to the model.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// Request is one Complete invocation.
type Request struct {
	System    string
	Messages  []Message
	Tools     []ToolDefinition // nil = no tools offered
	MaxTokens int
}

// StopReason indicates why the model stopped generating.
type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopToolUse   StopReason = "tool_use"
	StopMaxTokens StopReason = "max_tokens"
)

// Usage reports token consumption for one call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Total returns combined token count.
func (u Usage) Total() int { return u.InputTokens + u.OutputTokens }

// Completion is the model's response to one Request.
type Completion struct {
	Text       string
	ToolCalls  []ToolCall
	StopReason StopReason
	Usage      Usage
}

// Client is the model boundary. Implementations must be safe for
// concurrent use — specialists within one triage share a client.
type Client interface {
	Complete(ctx context.Context, req *Request) (*Completion, error)
}

// Pricing converts token usage to cost for budget charging.
// Values are per million tokens.
type Pricing struct {
	InputPerMTok  float64 `yaml:"input_per_mtok"`
	OutputPerMTok float64 `yaml:"output_per_mtok"`
}

// Cost returns the currency cost of the given usage.
func (p Pricing) Cost(u Usage) float64 {
	return float64(u.InputTokens)/1e6*p.InputPerMTok +
		float64(u.OutputTokens)/1e6*p.OutputPerMTok
}
