// Package coordinator fans an investigation out across domain
// specialists and synthesizes their reports into one analysis. The
// coordinator plans delegation with a model call, executes specialists
// sequentially or in parallel, optionally runs bounded follow-ups for
// coverage gaps, and always produces a synthesis — even when every
// specialist came back empty-handed.
package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/incidentkit/incidentkit/pkg/agent"
	"github.com/incidentkit/incidentkit/pkg/budget"
	"github.com/incidentkit/incidentkit/pkg/llm"
	"github.com/incidentkit/incidentkit/pkg/models"
)

// Config bounds one coordinated investigation.
type Config struct {
	// Parallel runs specialists concurrently; sequential otherwise.
	Parallel bool `yaml:"parallel"`
	// MaxConcurrent caps simultaneous specialists when parallel.
	MaxConcurrent int `yaml:"max_concurrent"`
	// MaxFollowUps caps gap-analysis sub-tasks across all specialists.
	// Zero disables gap analysis.
	MaxFollowUps int `yaml:"max_follow_ups"`
	// MaxTokensPerCall is the completion cap for the coordinator's own
	// plan, gap, and synthesis calls.
	MaxTokensPerCall int `yaml:"max_tokens_per_call"`
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 3
	}
	if c.MaxTokensPerCall <= 0 {
		c.MaxTokensPerCall = 4096
	}
	return c
}

// Result is the outcome of one coordinated investigation.
type Result struct {
	// Findings is the synthesized cross-specialist analysis.
	Findings string
	// Reports holds every specialist report, follow-up findings
	// appended to their owning specialist.
	Reports []*models.AgentReport
	// Severity is the most severe assessment any specialist stated, or
	// empty when none did.
	Severity models.Severity
	// PlanFallback is set when the delegation plan could not be parsed
	// and every specialist received the original task.
	PlanFallback bool
	// ReducedConfidence is set when no specialist completed and the
	// synthesis is built from partial evidence only.
	ReducedConfidence bool
	// Usage and Cost cover the coordinator's own model calls; the
	// specialists' spend is inside their reports.
	Usage models.TokenUsage
	Cost  float64
}

// Coordinator delegates to a specialist pool through one model client.
type Coordinator struct {
	pool    *agent.Pool
	client  llm.Client
	pricing llm.Pricing
	cfg     Config
	logger  *slog.Logger
}

// New creates a coordinator over the given pool.
func New(pool *agent.Pool, client llm.Client, pricing llm.Pricing, cfg Config) *Coordinator {
	return &Coordinator{
		pool:    pool,
		client:  client,
		pricing: pricing,
		cfg:     cfg.withDefaults(),
		logger:  slog.Default().With("component", "coordinator"),
	}
}

// assignment is one planned specialist sub-task.
type assignment struct {
	Specialist string `json:"specialist"`
	Task       string `json:"task"`
}

type planJSON struct {
	Assignments []assignment `json:"assignments"`
}

type followUpsJSON struct {
	FollowUps []assignment `json:"follow_ups"`
}

// Investigate runs the full plan → execute → gap analysis → synthesis
// sequence. It never returns an error: every degradation lands in the
// Result so partial findings survive.
func (c *Coordinator) Investigate(ctx context.Context, task string, governor *budget.Governor) *Result {
	result := &Result{}

	assignments := c.plan(ctx, task, governor, result)
	result.Reports = c.execute(ctx, assignments, governor)

	if c.cfg.MaxFollowUps > 0 && budgetOpen(governor) {
		c.gapAnalysis(ctx, task, governor, result)
	}

	c.synthesize(ctx, task, governor, result)
	result.Severity = reconcileSeverity(result)
	return result
}

// plan asks the model to split the task across specialists. Any
// failure falls back to fanning the original task out to everyone.
func (c *Coordinator) plan(ctx context.Context, task string, governor *budget.Governor, result *Result) []assignment {
	prompt := fmt.Sprintf(`You are coordinating an incident investigation. Split the task below into focused sub-tasks for the available specialists. Use only specialists that are relevant. Respond with ONLY a JSON object:
{"assignments": [{"specialist": "<name>", "task": "<focused sub-task>"}]}

Available specialists:
%s

Task:
%s`, strings.Join(c.pool.Describe(), "\n"), task)

	resp, err := c.complete(ctx, governor, result, prompt)
	if err != nil {
		c.logger.Warn("Delegation planning failed, fanning out to all specialists", "error", err)
		return c.fallbackPlan(task, result)
	}

	var plan planJSON
	if err := json.Unmarshal([]byte(extractJSON(resp.Text)), &plan); err != nil || len(plan.Assignments) == 0 {
		c.logger.Warn("Delegation plan unparsable, fanning out to all specialists")
		return c.fallbackPlan(task, result)
	}

	known := make(map[string]bool)
	for _, name := range c.pool.Names() {
		known[name] = true
	}
	valid := plan.Assignments[:0]
	for _, a := range plan.Assignments {
		if known[a.Specialist] && strings.TrimSpace(a.Task) != "" {
			valid = append(valid, a)
		}
	}
	if len(valid) == 0 {
		return c.fallbackPlan(task, result)
	}
	return valid
}

func (c *Coordinator) fallbackPlan(task string, result *Result) []assignment {
	result.PlanFallback = true
	names := c.pool.Names()
	assignments := make([]assignment, 0, len(names))
	for _, name := range names {
		assignments = append(assignments, assignment{Specialist: name, Task: task})
	}
	return assignments
}

// execute runs the planned assignments. Specialist failures are
// isolated: a panicking or erroring specialist becomes a failed report
// and the rest continue.
func (c *Coordinator) execute(ctx context.Context, assignments []assignment, governor *budget.Governor) []*models.AgentReport {
	reports := make([]*models.AgentReport, len(assignments))

	if !c.cfg.Parallel {
		for i, a := range assignments {
			reports[i] = c.runOne(ctx, a, governor)
		}
		return reports
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.MaxConcurrent)
	for i, a := range assignments {
		g.Go(func() error {
			reports[i] = c.runOne(gctx, a, governor)
			return nil
		})
	}
	g.Wait() // workers never return errors; failures live in the reports
	return reports
}

func (c *Coordinator) runOne(ctx context.Context, a assignment, governor *budget.Governor) (report *models.AgentReport) {
	defer func() {
		if rec := recover(); rec != nil {
			c.logger.Error("Specialist panicked", "specialist", a.Specialist, "panic", rec)
			report = &models.AgentReport{
				AgentName: a.Specialist,
				Task:      a.Task,
				Status:    models.AgentStatusFailed,
				Error:     fmt.Sprintf("specialist panicked: %v", rec),
			}
		}
	}()
	return c.pool.Run(ctx, a.Specialist, a.Task, governor)
}

// gapAnalysis asks the model whether the collected findings leave
// obvious holes and runs a bounded number of follow-up sub-tasks.
// Follow-up findings are appended to the owning specialist's report.
func (c *Coordinator) gapAnalysis(ctx context.Context, task string, governor *budget.Governor, result *Result) {
	prompt := fmt.Sprintf(`Review the investigation findings below for coverage gaps: evidence that an obvious diagnostic angle was never checked. Propose at most %d follow-up sub-tasks, or an empty list if coverage is adequate. Respond with ONLY a JSON object:
{"follow_ups": [{"specialist": "<name>", "task": "<follow-up sub-task>"}]}

Original task:
%s

Findings so far:
%s`, c.cfg.MaxFollowUps, task, renderReports(result.Reports))

	resp, err := c.complete(ctx, governor, result, prompt)
	if err != nil {
		c.logger.Warn("Gap analysis call failed, skipping follow-ups", "error", err)
		return
	}

	var gaps followUpsJSON
	if err := json.Unmarshal([]byte(extractJSON(resp.Text)), &gaps); err != nil {
		c.logger.Warn("Gap analysis output unparsable, skipping follow-ups")
		return
	}

	byName := make(map[string]*models.AgentReport)
	for _, r := range result.Reports {
		byName[r.AgentName] = r
	}

	ran := 0
	for _, follow := range gaps.FollowUps {
		if ran >= c.cfg.MaxFollowUps || !budgetOpen(governor) {
			break
		}
		owner, ok := byName[follow.Specialist]
		if !ok || strings.TrimSpace(follow.Task) == "" {
			continue
		}
		ran++
		followReport := c.runOne(ctx, assignment{Specialist: follow.Specialist, Task: follow.Task}, governor)
		owner.Invocations = append(owner.Invocations, followReport.Invocations...)
		owner.Usage.Add(followReport.Usage.InputTokens, followReport.Usage.OutputTokens)
		owner.Cost += followReport.Cost
		if followReport.Findings != "" {
			owner.Findings = strings.TrimSpace(owner.Findings +
				fmt.Sprintf("\n\nFollow-up (%s): %s", follow.Task, followReport.Findings))
		}
	}
}

// synthesize reconciles all reports into one analysis. The synthesis
// must complete even when every specialist failed or ran out of
// budget; when the model itself is unreachable the raw findings are
// the synthesis.
func (c *Coordinator) synthesize(ctx context.Context, task string, governor *budget.Governor, result *Result) {
	completed := 0
	for _, r := range result.Reports {
		if r.Status == models.AgentStatusCompleted {
			completed++
		}
	}
	result.ReducedConfidence = completed == 0

	prompt := fmt.Sprintf(`Synthesize the specialist reports below into a single incident analysis. Cross-reference the reports: where they corroborate each other, say so; where they contradict, weigh the evidence and state which finding you trust and why. Structure the analysis as root cause, supporting evidence, and recommended remediation. If a report states a severity assessment, carry the most severe one forward.

Task:
%s

Specialist reports:
%s`, task, renderReports(result.Reports))

	resp, err := c.complete(ctx, governor, result, prompt)
	if err != nil {
		c.logger.Warn("Synthesis call failed, using raw findings", "error", err)
		result.Findings = "Synthesis unavailable; raw specialist findings follow.\n\n" + renderReports(result.Reports)
		return
	}
	result.Findings = strings.TrimSpace(resp.Text)

	if result.ReducedConfidence {
		result.Findings += "\n\nNote: no specialist investigation ran to completion; this analysis is based on partial evidence and carries reduced confidence."
	}
}

// complete makes one coordinator-owned model call and charges it.
func (c *Coordinator) complete(ctx context.Context, governor *budget.Governor, result *Result, prompt string) (*llm.Completion, error) {
	resp, err := c.client.Complete(ctx, &llm.Request{
		Messages:  []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		MaxTokens: c.cfg.MaxTokensPerCall,
	})
	if err != nil {
		return nil, err
	}
	result.Usage.Add(resp.Usage.InputTokens, resp.Usage.OutputTokens)
	callCost := c.pricing.Cost(resp.Usage)
	result.Cost += callCost
	if chargeErr := governor.Charge(resp.Usage.Total(), callCost); chargeErr != nil {
		c.logger.Info("Budget crossed by coordinator call")
	}
	return resp, nil
}

func budgetOpen(governor *budget.Governor) bool {
	r := governor.Remaining()
	return r.Tokens != 0 && r.Cost != 0 && r.Time != 0
}

func renderReports(reports []*models.AgentReport) string {
	var sb strings.Builder
	for _, r := range reports {
		fmt.Fprintf(&sb, "--- %s (%s) ---\n", r.AgentName, r.Status)
		if r.Findings != "" {
			sb.WriteString(r.Findings)
			sb.WriteString("\n")
		}
		if r.Error != "" {
			fmt.Fprintf(&sb, "Error: %s\n", r.Error)
		}
	}
	return sb.String()
}

var severityStatement = regexp.MustCompile(`(?i)severity[:\s]+\**(critical|high|medium|low)`)

// reconcileSeverity scans the synthesis and every report for stated
// severity assessments and keeps the most severe. Disagreeing
// specialists resolve conservatively: the worst assessment wins.
func reconcileSeverity(result *Result) models.Severity {
	var reconciled models.Severity
	consider := func(text string) {
		for _, match := range severityStatement.FindAllStringSubmatch(text, -1) {
			found := models.Severity(strings.ToLower(match[1]))
			if reconciled == "" {
				reconciled = found
				continue
			}
			reconciled = models.MostSevere(reconciled, found)
		}
	}
	consider(result.Findings)
	for _, r := range result.Reports {
		consider(r.Findings)
	}
	return reconciled
}

// extractJSON strips code fences and surrounding prose, returning the
// first top-level JSON object in text.
func extractJSON(text string) string {
	start := strings.Index(text, "{")
	if start == -1 {
		return text
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return text[start:]
}
