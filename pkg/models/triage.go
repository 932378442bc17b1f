package models

import "time"

// Communications are the three rendered stakeholder variants of a
// triage outcome.
type Communications struct {
	OperationalBrief  string `json:"operational_brief"`
	EngineeringDetail string `json:"engineering_detail"`
	ManagementSummary string `json:"management_summary"`
}

// TriageMetrics is the resource accounting for one triage invocation.
type TriageMetrics struct {
	Duration         time.Duration `json:"duration_ns"`
	TotalTokens      int           `json:"total_tokens"`
	TotalCost        float64       `json:"total_cost"`
	Iterations       int           `json:"iterations"`
	RecalledEpisodes int           `json:"recalled_episodes"`
}

// TriageResult is the engine's final output for one alert. It is owned
// by the orchestrator invocation that created it and not mutated after
// return.
type TriageResult struct {
	Alert          Alert           `json:"alert"`
	Classification Classification  `json:"classification"`
	RootCause      string          `json:"root_cause"`
	Evidence       []string        `json:"evidence,omitempty"`
	RecommendedFix string          `json:"recommended_fix"`
	RunbookRef     string          `json:"runbook_ref,omitempty"`
	Communications Communications  `json:"communications"`
	Recalled       []MemoryEpisode `json:"recalled_episodes,omitempty"`
	Reports        []AgentReport   `json:"reports,omitempty"`
	Metrics        TriageMetrics   `json:"metrics"`

	// Notes records what could not be completed (budget exhaustion,
	// degraded synthesis, fallbacks taken). Never empty silently — every
	// degradation is spelled out for the caller.
	Notes []string `json:"notes,omitempty"`
}
