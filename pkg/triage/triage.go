// Package triage is the engine's front door: it takes one alert
// through classification, episodic recall, investigation, synthesis,
// communications rendering, and memory write-back, under a single
// per-invocation budget. Stage failures degrade the result instead of
// aborting it — the caller always receives a TriageResult whose Notes
// list everything that could not be completed.
package triage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/incidentkit/incidentkit/pkg/agent"
	"github.com/incidentkit/incidentkit/pkg/agent/coordinator"
	"github.com/incidentkit/incidentkit/pkg/budget"
	"github.com/incidentkit/incidentkit/pkg/classifier"
	"github.com/incidentkit/incidentkit/pkg/llm"
	"github.com/incidentkit/incidentkit/pkg/models"
	"github.com/incidentkit/incidentkit/pkg/retrieval"
	"github.com/incidentkit/incidentkit/pkg/tools"
)

// ErrInvalidAlert rejects alerts that cannot be triaged at all.
var ErrInvalidAlert = errors.New("invalid alert")

// Notifier receives completed triages. Implementations must be
// fail-open: a notification failure never affects the triage result.
type Notifier interface {
	TriageCompleted(ctx context.Context, result *models.TriageResult)
}

// Config bounds one triage invocation.
type Config struct {
	// Budget is the per-invocation ceiling shared by every model and
	// tool call in the pipeline.
	Budget budget.Limits `yaml:"budget"`
	// RecallK is how many past episodes to recall.
	RecallK int `yaml:"recall_k"`
	// RecallMaxDistance drops recalled episodes farther than this
	// cosine distance. Zero accepts everything.
	RecallMaxDistance float64 `yaml:"recall_max_distance"`
	// MaxTokensPerCall caps the orchestrator's own model calls.
	MaxTokensPerCall int `yaml:"max_tokens_per_call"`
	// Agent configures the single investigation loop.
	Agent agent.Config `yaml:"agent"`
	// Pricing converts token usage to cost.
	Pricing llm.Pricing `yaml:"pricing"`
}

func (c Config) withDefaults() Config {
	if c.RecallK <= 0 {
		c.RecallK = 3
	}
	if c.MaxTokensPerCall <= 0 {
		c.MaxTokensPerCall = 4096
	}
	return c
}

// Orchestrator runs the triage pipeline. Safe for concurrent use: all
// per-invocation state lives in the call frame.
type Orchestrator struct {
	classifier *classifier.Classifier
	client     llm.Client
	registry   *tools.Registry
	loop       *agent.Loop
	coord      *coordinator.Coordinator
	memory     *retrieval.MemoryStore
	knowledge  *retrieval.KnowledgeBase
	notifier   Notifier
	cfg        Config
	logger     *slog.Logger
}

// NewOrchestrator wires the pipeline. knowledge and notifier may be
// nil; the corresponding stages degrade with a note or silently skip.
func NewOrchestrator(
	cls *classifier.Classifier,
	client llm.Client,
	registry *tools.Registry,
	coord *coordinator.Coordinator,
	memory *retrieval.MemoryStore,
	knowledge *retrieval.KnowledgeBase,
	notifier Notifier,
	cfg Config,
) *Orchestrator {
	return &Orchestrator{
		classifier: cls,
		client:     client,
		registry:   registry,
		loop:       agent.NewLoop(),
		coord:      coord,
		memory:     memory,
		knowledge:  knowledge,
		notifier:   notifier,
		cfg:        cfg.withDefaults(),
		logger:     slog.Default().With("component", "triage"),
	}
}

// Triage runs the full pipeline for one alert. The returned error is
// reserved for unusable input and caller cancellation; every internal
// failure degrades into the result's Notes.
func (o *Orchestrator) Triage(ctx context.Context, alert models.Alert) (*models.TriageResult, error) {
	if strings.TrimSpace(alert.Name) == "" {
		return nil, fmt.Errorf("%w: alert name is required", ErrInvalidAlert)
	}
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now().UTC()
	}

	governor := budget.NewGovernor(o.cfg.Budget)
	result := &models.TriageResult{Alert: alert}
	logger := o.logger.With("alert", alert.Fingerprint())
	logger.Info("Triage started", "raw_severity", alert.RawSeverity)

	// Classification: a fallback classification still routes the alert.
	classification, clsUsage := o.classifier.Classify(ctx, alert)
	o.chargeGovernor(governor, clsUsage)
	if classification.Confidence == 0 {
		result.Notes = append(result.Notes, "classification fell back to default (model output unusable)")
	}
	result.Classification = classification

	// Episodic recall: similar past incidents prime the investigation.
	recalled := o.recall(ctx, alert, result)

	// Investigation, routed by severity tier.
	findings := o.investigate(ctx, alert, classification, recalled, governor, result)

	// Root cause and remediation out of the findings.
	extracted := extractSections(findings)
	result.RootCause = extracted.rootCause
	if result.RootCause == "" {
		result.RootCause = strings.TrimSpace(findings)
	}
	result.RecommendedFix = extracted.fix
	result.Evidence = extracted.evidence

	// Stakeholder communications.
	if budgetOpen(governor) {
		result.Communications = o.renderCommunications(ctx, alert, result.Classification, findings, governor, result)
	} else {
		result.Notes = append(result.Notes, "budget exhausted before communications rendering, raw findings used")
		result.Communications = models.Communications{
			OperationalBrief:  findings,
			EngineeringDetail: findings,
			ManagementSummary: findings,
		}
	}

	// Runbook reference for the responder.
	result.RunbookRef = o.runbookRef(ctx, alert, result.RootCause)

	// Memory write-back so the next similar incident recalls this one.
	o.persistEpisode(ctx, alert, result)

	snapshot := governor.Snapshot()
	result.Metrics = models.TriageMetrics{
		Duration:         governor.Elapsed(),
		TotalTokens:      snapshot.Tokens,
		TotalCost:        snapshot.Cost,
		Iterations:       totalIterations(result.Reports),
		RecalledEpisodes: len(result.Recalled),
	}

	if o.notifier != nil {
		o.notifier.TriageCompleted(ctx, result)
	}

	logger.Info("Triage finished",
		"severity", result.Classification.Severity,
		"tokens", snapshot.Tokens,
		"cost", snapshot.Cost,
		"notes", len(result.Notes))
	return result, nil
}

// recall fetches similar past episodes. Recall failures and empty
// memories both degrade to an uninformed investigation.
func (o *Orchestrator) recall(ctx context.Context, alert models.Alert, result *models.TriageResult) []retrieval.RecalledEpisode {
	if o.memory == nil {
		return nil
	}
	query := alert.Name + " " + alert.Message
	recalled, err := o.memory.Recall(ctx, query, o.cfg.RecallK)
	if err != nil {
		o.logger.Warn("Episodic recall failed", "error", err)
		result.Notes = append(result.Notes, "episodic recall unavailable, investigating without prior incidents")
		return nil
	}

	kept := recalled[:0]
	for _, r := range recalled {
		if o.cfg.RecallMaxDistance > 0 && r.Distance > o.cfg.RecallMaxDistance {
			continue
		}
		kept = append(kept, r)
		result.Recalled = append(result.Recalled, r.Episode)
	}
	return kept
}

// investigate routes by severity: the two upper tiers get the
// coordinated multi-specialist path, the rest a single loop.
func (o *Orchestrator) investigate(ctx context.Context, alert models.Alert, classification models.Classification, recalled []retrieval.RecalledEpisode, governor *budget.Governor, result *models.TriageResult) string {
	if !budgetOpen(governor) {
		result.Notes = append(result.Notes, "budget exhausted before investigation")
		return ""
	}

	task := renderTask(alert, classification, recalled)

	if classification.Severity.Rank() >= models.SeverityHigh.Rank() && o.coord != nil {
		coordResult := o.coord.Investigate(ctx, task, governor)
		for _, r := range coordResult.Reports {
			result.Reports = append(result.Reports, *r)
		}
		if coordResult.PlanFallback {
			result.Notes = append(result.Notes, "delegation plan unusable, all specialists received the original task")
		}
		if coordResult.ReducedConfidence {
			result.Notes = append(result.Notes, "no specialist completed, analysis carries reduced confidence")
		}
		if coordResult.Severity != "" {
			result.Classification.Severity = models.MostSevere(result.Classification.Severity, coordResult.Severity)
		}
		return coordResult.Findings
	}

	report := o.loop.Run(ctx, &agent.ExecutionContext{
		AgentName:    "investigator",
		Task:         task,
		SystemPrompt: investigatorInstruction,
		Tools:        o.registry,
		Client:       o.client,
		Governor:     governor,
		Pricing:      o.cfg.Pricing,
		Config:       o.cfg.Agent,
	})
	result.Reports = append(result.Reports, *report)
	switch report.Status {
	case models.AgentStatusExhausted:
		result.Notes = append(result.Notes, "investigation ran out of budget or iterations: "+report.Error)
	case models.AgentStatusFailed:
		result.Notes = append(result.Notes, "investigation failed: "+report.Error)
	}
	return report.Findings
}

const investigatorInstruction = `You are an SRE incident investigator. Use the available diagnostic tools to gather evidence before concluding. Work iteratively: form a hypothesis, test it with a tool, and revise. Conclude with a final answer structured as Root Cause, Supporting Evidence, and Recommended Remediation.`

// renderTask builds the investigation objective with recalled context.
func renderTask(alert models.Alert, classification models.Classification, recalled []retrieval.RecalledEpisode) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Investigate this alert and determine the root cause.\n\nAlert: %s\nService: %s\nSeverity: %s (%s impact)\nMessage: %s\n",
		alert.Name, alert.Service, classification.Severity, classification.UserScope, alert.Message)
	if alert.Value != nil {
		fmt.Fprintf(&sb, "Value: %g\n", *alert.Value)
	}
	for k, v := range alert.Labels {
		fmt.Fprintf(&sb, "Label %s: %s\n", k, v)
	}
	if len(recalled) > 0 {
		sb.WriteString("\nSimilar past incidents:\n")
		for _, r := range recalled {
			fmt.Fprintf(&sb, "- [%s] %s (root cause: %s)\n", r.Episode.Service, r.Episode.Summary, r.Episode.RootCause)
		}
	}
	return sb.String()
}

// runbookRef finds the closest runbook passage for the responder.
func (o *Orchestrator) runbookRef(ctx context.Context, alert models.Alert, rootCause string) string {
	if o.knowledge == nil {
		return ""
	}
	query := rootCause
	if strings.TrimSpace(query) == "" {
		query = alert.Message
	}
	hits, err := o.knowledge.Search(ctx, query, 1)
	if err != nil || len(hits) == 0 {
		return ""
	}
	if o.cfg.RecallMaxDistance > 0 && hits[0].Distance > o.cfg.RecallMaxDistance {
		return ""
	}
	// Responders see the title; fall back to the ID for untitled passages.
	if title := strings.TrimSpace(hits[0].Passage.Title); title != "" {
		return title
	}
	return hits[0].Passage.ID
}

// persistEpisode writes the triage outcome into episodic memory.
func (o *Orchestrator) persistEpisode(ctx context.Context, alert models.Alert, result *models.TriageResult) {
	if o.memory == nil {
		return
	}
	summary := alert.Name + ": " + firstLine(result.RootCause)
	err := o.memory.Append(ctx, models.MemoryEpisode{
		ID:        uuid.NewString(),
		Service:   alert.Service,
		Summary:   summary,
		Severity:  result.Classification.Severity,
		RootCause: result.RootCause,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		o.logger.Warn("Episode write-back failed", "error", err)
		result.Notes = append(result.Notes, "memory write-back failed, this incident will not be recalled")
	}
}

// chargeGovernor meters one orchestrator-owned model call. The
// governor admits the crossing charge, so these closing calls never
// lose accounting even when they push past the ceiling.
func (o *Orchestrator) chargeGovernor(governor *budget.Governor, usage llm.Usage) {
	if err := governor.Charge(usage.Total(), o.cfg.Pricing.Cost(usage)); err != nil {
		o.logger.Debug("Budget ceiling crossed", "tokens", usage.Total())
	}
}

func budgetOpen(governor *budget.Governor) bool {
	r := governor.Remaining()
	return r.Tokens != 0 && r.Cost != 0 && r.Time != 0
}

func firstLine(text string) string {
	line := strings.TrimSpace(strings.SplitN(text, "\n", 2)[0])
	if len(line) > 200 {
		line = line[:200]
	}
	return line
}

func totalIterations(reports []models.AgentReport) int {
	total := 0
	for _, r := range reports {
		total += r.Iterations
	}
	return total
}
