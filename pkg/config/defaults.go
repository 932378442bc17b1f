package config

import (
	"time"

	"github.com/incidentkit/incidentkit/pkg/agent"
	"github.com/incidentkit/incidentkit/pkg/llm"
)

// Default returns the built-in configuration. Every value here can be
// overridden from incidentkit.yaml.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			Model:                   "claude-sonnet-4-5",
			APIKeyEnv:               "ANTHROPIC_API_KEY",
			Pricing:                 llm.Pricing{InputPerMTok: 3, OutputPerMTok: 15},
			RetryMaxAttempts:        3,
			BreakerFailureThreshold: 5,
			BreakerCooldown:         Duration(30 * time.Second),
			BreakerHalfOpenTrials:   2,
		},
		Embedding: EmbeddingConfig{
			Model:      "gemini-embedding-001",
			APIKeyEnv:  "GEMINI_API_KEY",
			Dimensions: 768,
		},
		Budget: BudgetConfig{
			MaxTokens:   200_000,
			MaxCost:     5.0,
			MaxDuration: Duration(10 * time.Minute),
		},
		Agent: AgentConfig{
			MaxIterations:          10,
			IterationTimeout:       Duration(2 * time.Minute),
			MaxTokensPerCall:       4096,
			MaxConsecutiveFailures: 3,
		},
		Coordinator: CoordinatorConfig{
			MaxConcurrent: 3,
			MaxFollowUps:  2,
		},
		Triage: TriageConfig{
			RecallK:           3,
			RecallMaxDistance: 0.5,
			MaxTokensPerCall:  4096,
		},
		Specialists: BuiltinSpecialists(),
		Retention: RetentionConfig{
			// Episodes are append-only; pruning is an operator opt-in.
			EpisodeRetentionDays: 0,
			CleanupInterval:      Duration(time.Hour),
		},
		Slack: SlackConfig{
			TokenEnv: "SLACK_BOT_TOKEN",
		},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
	}
}

// BuiltinSpecialists returns the default specialist registry. Tool
// names refer to the built-in diagnostics registry; deployments that
// register different tools override the registry in YAML.
func BuiltinSpecialists() []agent.SpecialistSpec {
	return []agent.SpecialistSpec{
		{
			Name:          "network",
			Instruction:   "You are a network specialist. Diagnose connectivity, DNS, load balancing, and routing problems using the available tools. Conclude with root cause, evidence, and remediation.",
			Tools:         []string{"service_health", "fetch_logs", "query_metric"},
			MaxIterations: 5,
		},
		{
			Name:          "compute",
			Instruction:   "You are a compute specialist. Diagnose pod scheduling, resource saturation, crash loops, and node problems using the available tools. Conclude with root cause, evidence, and remediation.",
			Tools:         []string{"service_health", "list_pods", "describe_resource", "fetch_logs"},
			MaxIterations: 5,
		},
		{
			Name:          "storage",
			Instruction:   "You are a storage specialist. Diagnose volume capacity, IO latency, and data-tier problems using the available tools. Conclude with root cause, evidence, and remediation.",
			Tools:         []string{"service_health", "describe_resource", "query_metric"},
			MaxIterations: 5,
		},
		{
			Name:          "database",
			Instruction:   "You are a database specialist. Diagnose connection pools, slow queries, replication lag, and lock contention using the available tools. Conclude with root cause, evidence, and remediation.",
			Tools:         []string{"service_health", "fetch_logs", "query_metric", "recent_deployments"},
			MaxIterations: 5,
		},
	}
}
