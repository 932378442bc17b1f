// Package agent implements the iterative investigation loop: a model
// reasons about a task, requests diagnostic tools, reads the
// observations, and concludes with findings. Native tool-call
// completions are the primary contract; a marker-based text parser is
// the fallback for plain-text turns. Every run terminates with a
// report — the loop never loses partial findings to an error.
package agent

import (
	"time"

	"github.com/incidentkit/incidentkit/pkg/budget"
	"github.com/incidentkit/incidentkit/pkg/llm"
	"github.com/incidentkit/incidentkit/pkg/tools"
)

// Config bounds one loop run.
type Config struct {
	// MaxIterations caps reasoning turns before a forced conclusion.
	MaxIterations int `yaml:"max_iterations"`
	// IterationTimeout bounds a single model call plus its tool calls.
	IterationTimeout time.Duration `yaml:"iteration_timeout"`
	// MaxTokensPerCall is the completion cap passed to the model.
	MaxTokensPerCall int `yaml:"max_tokens_per_call"`
	// MaxConsecutiveFailures aborts the run after this many model-call
	// failures in a row.
	MaxConsecutiveFailures int `yaml:"max_consecutive_failures"`
}

// DefaultConfig returns the loop bounds used when configuration leaves
// them unset.
func DefaultConfig() Config {
	return Config{
		MaxIterations:          10,
		IterationTimeout:       2 * time.Minute,
		MaxTokensPerCall:       4096,
		MaxConsecutiveFailures: 3,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxIterations <= 0 {
		c.MaxIterations = def.MaxIterations
	}
	if c.IterationTimeout <= 0 {
		c.IterationTimeout = def.IterationTimeout
	}
	if c.MaxTokensPerCall <= 0 {
		c.MaxTokensPerCall = def.MaxTokensPerCall
	}
	if c.MaxConsecutiveFailures <= 0 {
		c.MaxConsecutiveFailures = def.MaxConsecutiveFailures
	}
	return c
}

// ExecutionContext carries everything one loop run needs. It is built
// per run and not shared.
type ExecutionContext struct {
	// AgentName labels the resulting report ("investigator", or a
	// specialist name under the coordinator).
	AgentName string
	// Task is the investigation objective, already rendered with the
	// alert and any recalled context.
	Task string
	// SystemPrompt is the role instruction for the model.
	SystemPrompt string
	// Tools is the registry view this agent may use.
	Tools *tools.Registry
	// Client is the model boundary (typically wrapped with retry and
	// circuit breaking).
	Client llm.Client
	// Governor meters every model and tool call against the triage
	// budget. Required.
	Governor *budget.Governor
	// Pricing converts token usage to cost for budget charging.
	Pricing llm.Pricing
	Config  Config
}
