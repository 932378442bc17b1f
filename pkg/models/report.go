package models

import "time"

// AgentStatus is the terminal state of one investigation loop run.
type AgentStatus string

const (
	AgentStatusCompleted AgentStatus = "completed"
	AgentStatusExhausted AgentStatus = "exhausted"
	AgentStatusFailed    AgentStatus = "failed"
)

// ToolInvocation is a single tool call record. Invocation lists are
// append-only: entries are never mutated after being recorded, so the
// list forms the investigation's audit trail in execution order.
type ToolInvocation struct {
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments,omitempty"`
	Result    string         `json:"result"`
	Timestamp time.Time      `json:"timestamp"`
	Success   bool           `json:"success"`
}

// TokenUsage aggregates token consumption across model calls.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Add accumulates usage from a single call.
func (u *TokenUsage) Add(in, out int) {
	u.InputTokens += in
	u.OutputTokens += out
	u.TotalTokens += in + out
}

// AgentReport is the immutable output of one investigation loop run.
// Partial findings are preserved even on early termination.
type AgentReport struct {
	AgentName   string           `json:"agent_name"`
	Task        string           `json:"task"`
	Status      AgentStatus      `json:"status"`
	Invocations []ToolInvocation `json:"invocations,omitempty"`
	Findings    string           `json:"findings"`
	Error       string           `json:"error,omitempty"`
	Usage       TokenUsage       `json:"usage"`
	Cost        float64          `json:"cost"`
	Iterations  int              `json:"iterations"`
}
