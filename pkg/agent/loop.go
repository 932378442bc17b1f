package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/incidentkit/incidentkit/pkg/llm"
	"github.com/incidentkit/incidentkit/pkg/models"
	"github.com/incidentkit/incidentkit/pkg/tools"
)

const forcedConclusionPrompt = `You have reached the maximum number of investigation steps. Do not request any more tools. Based on everything observed so far, provide your complete analysis now, starting with "Final Answer:". State your best-supported root cause, the evidence for it, and your recommended remediation. If the evidence is inconclusive, say so explicitly.`

// Loop runs the investigation state machine for a single agent.
type Loop struct {
	logger *slog.Logger
}

// NewLoop creates an investigation loop.
func NewLoop() *Loop {
	return &Loop{logger: slog.Default().With("component", "agent.loop")}
}

// runState tracks loop progress across iterations.
type runState struct {
	messages            []llm.Message
	invocations         []models.ToolInvocation
	usage               models.TokenUsage
	cost                float64
	iterations          int
	consecutiveFailures int
	lastError           string
}

// Run executes the loop until the model concludes, the iteration cap
// forces a conclusion, or the budget runs out. It always returns a
// report; the report's Status and Error fields carry the failure modes.
func (l *Loop) Run(ctx context.Context, execCtx *ExecutionContext) *models.AgentReport {
	cfg := execCtx.Config.withDefaults()
	logger := l.logger.With("agent", execCtx.AgentName)

	specs := execCtx.Tools.List()
	defs := toolDefinitions(specs)

	state := &runState{
		messages: []llm.Message{{Role: llm.RoleUser, Content: execCtx.Task}},
	}

	for iteration := 0; iteration < cfg.MaxIterations; iteration++ {
		state.iterations = iteration + 1

		if state.consecutiveFailures >= cfg.MaxConsecutiveFailures {
			return l.report(execCtx, state, models.AgentStatusFailed, "",
				fmt.Sprintf("%d consecutive model call failures, last: %s", state.consecutiveFailures, state.lastError))
		}

		iterCtx, iterCancel := context.WithTimeout(ctx, cfg.IterationTimeout)
		resp, err := execCtx.Client.Complete(iterCtx, &llm.Request{
			System:    execCtx.SystemPrompt,
			Messages:  state.messages,
			Tools:     defs,
			MaxTokens: cfg.MaxTokensPerCall,
		})
		if err != nil {
			iterCancel()
			if ctx.Err() != nil {
				return l.report(execCtx, state, models.AgentStatusFailed, "",
					fmt.Sprintf("investigation canceled: %s", ctx.Err()))
			}
			state.consecutiveFailures++
			state.lastError = err.Error()
			logger.Warn("Model call failed", "iteration", state.iterations, "error", err)
			state.messages = append(state.messages, llm.Message{
				Role: llm.RoleUser, Content: FormatCallErrorObservation(err),
			})
			continue
		}
		state.consecutiveFailures = 0

		if chargeErr := l.charge(execCtx, state, resp.Usage); chargeErr != nil {
			iterCancel()
			logger.Info("Budget exhausted mid-investigation", "iteration", state.iterations)
			return l.report(execCtx, state, models.AgentStatusExhausted,
				partialFindings(state, resp.Text), chargeErr.Error())
		}

		if len(resp.ToolCalls) > 0 {
			l.handleToolCalls(iterCtx, execCtx, state, resp, specs)
			iterCancel()
			continue
		}
		iterCancel()

		parsed := ParseResponse(resp.Text)
		switch {
		case parsed.IsFinalAnswer:
			return l.report(execCtx, state, models.AgentStatusCompleted, parsed.FinalAnswer, "")

		case parsed.HasAction:
			l.handleTextAction(ctx, execCtx, state, resp.Text, parsed, specs, cfg)

		case !parsed.HasMarkers() && strings.TrimSpace(resp.Text) != "":
			// A marker-free end turn under the native contract is the
			// model's conclusion.
			return l.report(execCtx, state, models.AgentStatusCompleted, strings.TrimSpace(resp.Text), "")

		default:
			state.messages = append(state.messages,
				llm.Message{Role: llm.RoleAssistant, Content: resp.Text},
				llm.Message{Role: llm.RoleUser, Content: FormatErrorFeedback(parsed)})
		}
	}

	return l.forceConclusion(ctx, execCtx, state, cfg)
}

// charge meters one model call against the budget.
func (l *Loop) charge(execCtx *ExecutionContext, state *runState, usage llm.Usage) error {
	state.usage.Add(usage.InputTokens, usage.OutputTokens)
	callCost := execCtx.Pricing.Cost(usage)
	state.cost += callCost
	return execCtx.Governor.Charge(usage.Total(), callCost)
}

// handleToolCalls executes the native tool requests of one completion
// and appends the results as the next conversation turn.
func (l *Loop) handleToolCalls(ctx context.Context, execCtx *ExecutionContext, state *runState, resp *llm.Completion, specs []tools.Spec) {
	state.messages = append(state.messages, llm.Message{
		Role:      llm.RoleAssistant,
		Content:   resp.Text,
		ToolCalls: resp.ToolCalls,
	})

	results := make([]llm.ToolResult, 0, len(resp.ToolCalls))
	for _, call := range resp.ToolCalls {
		result := l.invokeTool(ctx, execCtx, state, call.Name, call.Args(), specs)
		results = append(results, llm.ToolResult{
			ToolCallID: call.ID,
			Content:    result.Content,
			IsError:    result.IsError,
		})
	}
	state.messages = append(state.messages, llm.Message{
		Role:        llm.RoleUser,
		ToolResults: results,
	})
}

// handleTextAction executes a tool requested through the text marker
// format and appends the observation turn.
func (l *Loop) handleTextAction(ctx context.Context, execCtx *ExecutionContext, state *runState, assistantText string, parsed *ParsedResponse, specs []tools.Spec, cfg Config) {
	state.messages = append(state.messages, llm.Message{Role: llm.RoleAssistant, Content: assistantText})

	toolCtx, cancel := context.WithTimeout(ctx, cfg.IterationTimeout)
	defer cancel()
	result := l.invokeTool(toolCtx, execCtx, state, parsed.Action, tools.ParseActionInput(parsed.ActionInput), specs)

	var observation string
	if result.IsError && strings.Contains(result.Content, "unknown tool") {
		observation = result.Content
	} else {
		observation = FormatObservation(result)
	}
	state.messages = append(state.messages, llm.Message{Role: llm.RoleUser, Content: observation})
}

// invokeTool runs one registry invocation, records the audit entry, and
// meters the observation size against the budget. Failures of every
// kind come back as an error-flagged result the model can read.
func (l *Loop) invokeTool(ctx context.Context, execCtx *ExecutionContext, state *runState, name string, args map[string]any, specs []tools.Spec) *tools.Result {
	result, err := execCtx.Tools.Invoke(ctx, name, args)
	if err != nil {
		content := fmt.Sprintf("invalid invocation of %s: %s", name, err)
		if errors.Is(err, tools.ErrToolNotFound) {
			content = FormatUnknownToolError(name, specs)
		}
		result = &tools.Result{Tool: name, Content: content, IsError: true}
	}

	state.invocations = append(state.invocations, models.ToolInvocation{
		Tool:      name,
		Arguments: args,
		Result:    result.Content,
		Timestamp: time.Now().UTC(),
		Success:   !result.IsError,
	})

	// Observations consume context window on every subsequent call, so
	// they count against the token budget too.
	if chargeErr := execCtx.Governor.Charge(tools.EstimateTokens(result.Content), 0); chargeErr != nil {
		l.logger.Debug("Budget crossed by tool observation", "tool", name)
	}
	return result
}

// forceConclusion makes one final model call with tools withheld. The
// run is exhausted either way — the iteration cap was hit — but a
// successful conclusion reports the model's own synthesis instead of
// raw partial findings.
func (l *Loop) forceConclusion(ctx context.Context, execCtx *ExecutionContext, state *runState, cfg Config) *models.AgentReport {
	if state.consecutiveFailures >= cfg.MaxConsecutiveFailures {
		return l.report(execCtx, state, models.AgentStatusFailed, "",
			fmt.Sprintf("%d consecutive model call failures, last: %s", state.consecutiveFailures, state.lastError))
	}

	if remaining := execCtx.Governor.Remaining(); remaining.Tokens == 0 || remaining.Cost == 0 || remaining.Time == 0 {
		return l.report(execCtx, state, models.AgentStatusExhausted,
			partialFindings(state, ""), "budget exhausted before conclusion")
	}

	messages := append(state.messages, llm.Message{Role: llm.RoleUser, Content: forcedConclusionPrompt})

	conclCtx, cancel := context.WithTimeout(ctx, cfg.IterationTimeout)
	defer cancel()
	resp, err := execCtx.Client.Complete(conclCtx, &llm.Request{
		System:    execCtx.SystemPrompt,
		Messages:  messages,
		MaxTokens: cfg.MaxTokensPerCall,
	})
	if err != nil {
		return l.report(execCtx, state, models.AgentStatusExhausted,
			partialFindings(state, ""), fmt.Sprintf("forced conclusion failed: %s", err))
	}
	if chargeErr := l.charge(execCtx, state, resp.Usage); chargeErr != nil {
		// The conclusion itself crossed the ceiling; its text is still
		// the best findings available.
		l.logger.Info("Budget crossed by forced conclusion", "agent", execCtx.AgentName)
	}

	answer := ExtractConclusion(resp.Text)
	if answer == "" {
		return l.report(execCtx, state, models.AgentStatusExhausted,
			partialFindings(state, ""), "forced conclusion produced no answer")
	}
	return l.report(execCtx, state, models.AgentStatusExhausted, answer,
		fmt.Sprintf("iteration cap of %d reached", cfg.MaxIterations))
}

// ExtractConclusion pulls the final answer out of a forced-conclusion
// response, falling back through thought text to the raw completion.
func ExtractConclusion(text string) string {
	parsed := ParseResponse(text)
	if parsed.IsFinalAnswer {
		return parsed.FinalAnswer
	}
	if parsed.Thought != "" {
		return parsed.Thought
	}
	return strings.TrimSpace(text)
}

// partialFindings summarizes what an interrupted run managed to learn.
func partialFindings(state *runState, lastText string) string {
	var sb strings.Builder
	sb.WriteString("Investigation interrupted before a conclusion was reached.\n")
	if len(state.invocations) > 0 {
		sb.WriteString("Evidence gathered:\n")
		for _, inv := range state.invocations {
			summary := inv.Result
			if len(summary) > 500 {
				summary = summary[:500] + "…"
			}
			fmt.Fprintf(&sb, "- %s: %s\n", inv.Tool, summary)
		}
	}
	if trimmed := strings.TrimSpace(lastText); trimmed != "" {
		sb.WriteString("Last reasoning:\n")
		sb.WriteString(trimmed)
	}
	return sb.String()
}

func (l *Loop) report(execCtx *ExecutionContext, state *runState, status models.AgentStatus, findings, errMsg string) *models.AgentReport {
	return &models.AgentReport{
		AgentName:   execCtx.AgentName,
		Task:        execCtx.Task,
		Status:      status,
		Invocations: state.invocations,
		Findings:    findings,
		Error:       errMsg,
		Usage:       state.usage,
		Cost:        state.cost,
		Iterations:  state.iterations,
	}
}

func toolDefinitions(specs []tools.Spec) []llm.ToolDefinition {
	if len(specs) == 0 {
		return nil
	}
	defs := make([]llm.ToolDefinition, 0, len(specs))
	for _, spec := range specs {
		defs = append(defs, llm.ToolDefinition{
			Name:        spec.Name,
			Description: spec.Description,
			InputSchema: spec.InputSchema(),
		})
	}
	return defs
}
