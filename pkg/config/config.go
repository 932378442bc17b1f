// Package config loads and validates the engine configuration from a
// single incidentkit.yaml file. Environment variables are expanded with
// {{.VAR}} template syntax before parsing; user values are merged over
// built-in defaults so a minimal file is enough to run.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"

	"github.com/incidentkit/incidentkit/pkg/agent"
	"github.com/incidentkit/incidentkit/pkg/agent/coordinator"
	"github.com/incidentkit/incidentkit/pkg/budget"
	"github.com/incidentkit/incidentkit/pkg/llm"
)

// Duration parses human-readable durations ("90s", "10m") from YAML.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("%w: duration %q: %v", ErrInvalidValue, raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the standard library duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// LLMConfig configures the model provider.
type LLMConfig struct {
	Model     string      `yaml:"model"`
	APIKeyEnv string      `yaml:"api_key_env"`
	Pricing   llm.Pricing `yaml:"pricing"`

	RetryMaxAttempts uint `yaml:"retry_max_attempts"`

	BreakerFailureThreshold int      `yaml:"breaker_failure_threshold"`
	BreakerCooldown         Duration `yaml:"breaker_cooldown"`
	BreakerHalfOpenTrials   int      `yaml:"breaker_half_open_trials"`
}

// EmbeddingConfig configures the embedding provider.
type EmbeddingConfig struct {
	Model      string `yaml:"model"`
	APIKeyEnv  string `yaml:"api_key_env"`
	Dimensions int    `yaml:"dimensions"`
}

// BudgetConfig is the per-triage spend ceiling.
type BudgetConfig struct {
	MaxTokens   int      `yaml:"max_tokens"`
	MaxCost     float64  `yaml:"max_cost"`
	MaxDuration Duration `yaml:"max_duration"`
}

// AgentConfig bounds a single investigation loop.
type AgentConfig struct {
	MaxIterations          int      `yaml:"max_iterations"`
	IterationTimeout       Duration `yaml:"iteration_timeout"`
	MaxTokensPerCall       int      `yaml:"max_tokens_per_call"`
	MaxConsecutiveFailures int      `yaml:"max_consecutive_failures"`
}

// CoordinatorConfig bounds the multi-specialist path.
type CoordinatorConfig struct {
	Parallel      *bool `yaml:"parallel"`
	MaxConcurrent int   `yaml:"max_concurrent"`
	MaxFollowUps  int   `yaml:"max_follow_ups"`
}

// TriageConfig tunes recall and the orchestrator's own calls.
type TriageConfig struct {
	RecallK           int     `yaml:"recall_k"`
	RecallMaxDistance float64 `yaml:"recall_max_distance"`
	MaxTokensPerCall  int     `yaml:"max_tokens_per_call"`
}

// KnowledgeConfig locates the runbook corpus.
type KnowledgeConfig struct {
	CorpusPath string `yaml:"corpus_path"`
}

// ToolsConfig bounds the diagnostic tool registry.
type ToolsConfig struct {
	// MaxResultTokens truncates oversized tool output before it reaches
	// the model. Zero uses the registry default.
	MaxResultTokens int `yaml:"max_result_tokens"`
}

// RetentionConfig bounds how long episodic memory is kept.
type RetentionConfig struct {
	// EpisodeRetentionDays is the pruning window. Zero disables pruning.
	EpisodeRetentionDays int      `yaml:"episode_retention_days"`
	CleanupInterval      Duration `yaml:"cleanup_interval"`
}

// SlackConfig configures completed-triage notifications.
type SlackConfig struct {
	Enabled  bool   `yaml:"enabled"`
	TokenEnv string `yaml:"token_env"`
	Channel  string `yaml:"channel"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Config is the fully resolved engine configuration.
type Config struct {
	LLM         LLMConfig              `yaml:"llm"`
	Embedding   EmbeddingConfig        `yaml:"embedding"`
	Budget      BudgetConfig           `yaml:"budget"`
	Agent       AgentConfig            `yaml:"agent"`
	Coordinator CoordinatorConfig      `yaml:"coordinator"`
	Triage      TriageConfig           `yaml:"triage"`
	Specialists []agent.SpecialistSpec `yaml:"specialists"`
	Knowledge   KnowledgeConfig        `yaml:"knowledge"`
	Tools       ToolsConfig            `yaml:"tools"`
	Retention   RetentionConfig        `yaml:"retention"`
	Slack       SlackConfig            `yaml:"slack"`
	Server      ServerConfig           `yaml:"server"`
}

// Initialize loads, merges, and validates configuration from path.
// A missing file yields the built-in defaults so the engine can start
// with environment variables alone.
func Initialize(path string) (*Config, error) {
	log := slog.With("config_path", path)

	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		log.Info("No configuration file, using built-in defaults")
	case err != nil:
		return nil, fmt.Errorf("read configuration: %w", err)
	default:
		var user Config
		if err := yaml.Unmarshal(ExpandEnv(data), &user); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
		}
		// User values override defaults; unset fields keep defaults.
		if err := mergo.Merge(cfg, &user, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("merge configuration: %w", err)
		}
		if len(user.Specialists) > 0 {
			cfg.Specialists = user.Specialists
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log.Info("Configuration initialized",
		"model", cfg.LLM.Model,
		"specialists", len(cfg.Specialists),
		"max_tokens", cfg.Budget.MaxTokens)
	return cfg, nil
}

// Validate checks the resolved configuration for unusable values.
func (c *Config) Validate() error {
	if c.LLM.Model == "" {
		return newValidationError("llm", "model", ErrMissingRequiredField)
	}
	if c.LLM.APIKeyEnv == "" {
		return newValidationError("llm", "api_key_env", ErrMissingRequiredField)
	}
	if c.Embedding.Dimensions <= 0 {
		return newValidationError("embedding", "dimensions", ErrInvalidValue)
	}
	if c.Budget.MaxTokens < 0 || c.Budget.MaxCost < 0 {
		return newValidationError("budget", "", ErrInvalidValue)
	}
	if c.Agent.MaxIterations <= 0 {
		return newValidationError("agent", "max_iterations", ErrInvalidValue)
	}
	seen := map[string]bool{}
	for _, spec := range c.Specialists {
		if spec.Name == "" {
			return newValidationError("specialists", "name", ErrMissingRequiredField)
		}
		if seen[spec.Name] {
			return newValidationError("specialists", spec.Name, fmt.Errorf("%w: duplicate specialist", ErrInvalidValue))
		}
		seen[spec.Name] = true
	}
	if c.Slack.Enabled && c.Slack.Channel == "" {
		return newValidationError("slack", "channel", ErrMissingRequiredField)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return newValidationError("server", "port", ErrInvalidValue)
	}
	return nil
}

// BudgetLimits converts to the governor's limits.
func (c *Config) BudgetLimits() budget.Limits {
	return budget.Limits{
		MaxTokens:   c.Budget.MaxTokens,
		MaxCost:     c.Budget.MaxCost,
		MaxDuration: c.Budget.MaxDuration.Std(),
	}
}

// AgentLoopConfig converts to the investigation loop's bounds.
func (c *Config) AgentLoopConfig() agent.Config {
	return agent.Config{
		MaxIterations:          c.Agent.MaxIterations,
		IterationTimeout:       c.Agent.IterationTimeout.Std(),
		MaxTokensPerCall:       c.Agent.MaxTokensPerCall,
		MaxConsecutiveFailures: c.Agent.MaxConsecutiveFailures,
	}
}

// CoordinatorRunConfig converts to the coordinator's bounds.
func (c *Config) CoordinatorRunConfig() coordinator.Config {
	parallel := true
	if c.Coordinator.Parallel != nil {
		parallel = *c.Coordinator.Parallel
	}
	return coordinator.Config{
		Parallel:         parallel,
		MaxConcurrent:    c.Coordinator.MaxConcurrent,
		MaxFollowUps:     c.Coordinator.MaxFollowUps,
		MaxTokensPerCall: c.Agent.MaxTokensPerCall,
	}
}
