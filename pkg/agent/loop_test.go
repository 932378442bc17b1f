package agent

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/incidentkit/incidentkit/pkg/budget"
	"github.com/incidentkit/incidentkit/pkg/llm"
	"github.com/incidentkit/incidentkit/pkg/models"
	"github.com/incidentkit/incidentkit/pkg/tools"
)

// scriptedClient returns canned completions in order and records every
// request it saw.
type scriptedClient struct {
	script   []func(req *llm.Request) (*llm.Completion, error)
	requests []*llm.Request
}

func (c *scriptedClient) Complete(ctx context.Context, req *llm.Request) (*llm.Completion, error) {
	c.requests = append(c.requests, req)
	if len(c.requests) > len(c.script) {
		return nil, errors.New("script exhausted")
	}
	return c.script[len(c.requests)-1](req)
}

func textResp(text string) func(*llm.Request) (*llm.Completion, error) {
	return func(*llm.Request) (*llm.Completion, error) {
		return &llm.Completion{
			Text:       text,
			StopReason: llm.StopEndTurn,
			Usage:      llm.Usage{InputTokens: 50, OutputTokens: 20},
		}, nil
	}
}

func toolResp(name string, input map[string]any) func(*llm.Request) (*llm.Completion, error) {
	raw, _ := json.Marshal(input)
	return func(*llm.Request) (*llm.Completion, error) {
		return &llm.Completion{
			ToolCalls:  []llm.ToolCall{{ID: "call_1", Name: name, Input: raw}},
			StopReason: llm.StopToolUse,
			Usage:      llm.Usage{InputTokens: 50, OutputTokens: 20},
		}, nil
	}
}

func errResp(err error) func(*llm.Request) (*llm.Completion, error) {
	return func(*llm.Request) (*llm.Completion, error) { return nil, err }
}

func testRegistry(t *testing.T) *tools.Registry {
	t.Helper()
	reg := tools.NewRegistry(0)
	require.NoError(t, reg.Register(tools.Spec{
		Name:        "fetch_logs",
		Description: "Fetch recent log lines for a service",
		Args: map[string]tools.ArgSpec{
			"service": {Type: tools.ArgTypeString, Description: "service name", Required: true},
		},
	}, func(ctx context.Context, args map[string]any) (string, error) {
		return "ERROR: connection refused to db:5432 (42 occurrences)", nil
	}))
	require.NoError(t, reg.Register(tools.Spec{
		Name:        "flaky_probe",
		Description: "A diagnostic probe that is currently broken",
	}, func(ctx context.Context, args map[string]any) (string, error) {
		return "", errors.New("probe backend unreachable")
	}))
	return reg
}

func testExecCtx(client llm.Client, reg *tools.Registry, limits budget.Limits, cfg Config) *ExecutionContext {
	return &ExecutionContext{
		AgentName:    "investigator",
		Task:         "Investigate elevated 5xx on payment-gateway",
		SystemPrompt: "You are an SRE investigator.",
		Tools:        reg,
		Client:       client,
		Governor:     budget.NewGovernor(limits),
		Pricing:      llm.Pricing{InputPerMTok: 3, OutputPerMTok: 15},
		Config:       cfg,
	}
}

func TestLoopNativeToolCallThenConclusion(t *testing.T) {
	client := &scriptedClient{script: []func(*llm.Request) (*llm.Completion, error){
		toolResp("fetch_logs", map[string]any{"service": "payment-gateway"}),
		textResp("Final Answer: Connection pool to db:5432 is refusing connections; restart the pooler."),
	}}
	execCtx := testExecCtx(client, testRegistry(t), budget.Limits{}, Config{})

	report := NewLoop().Run(context.Background(), execCtx)

	assert.Equal(t, models.AgentStatusCompleted, report.Status)
	assert.Contains(t, report.Findings, "db:5432")
	require.Len(t, report.Invocations, 1)
	assert.Equal(t, "fetch_logs", report.Invocations[0].Tool)
	assert.True(t, report.Invocations[0].Success)
	assert.Equal(t, 140, report.Usage.TotalTokens)
	assert.Equal(t, 2, report.Iterations)

	// Tool results travel back on the next request.
	require.Len(t, client.requests, 2)
	last := client.requests[1].Messages[len(client.requests[1].Messages)-1]
	require.Len(t, last.ToolResults, 1)
	assert.Contains(t, last.ToolResults[0].Content, "connection refused")
}

func TestLoopTextMarkerFallback(t *testing.T) {
	client := &scriptedClient{script: []func(*llm.Request) (*llm.Completion, error){
		textResp("Thought: I need the logs.\nAction: fetch_logs\nAction Input: {\"service\": \"payment-gateway\"}"),
		textResp("Thought: Clear enough.\nFinal Answer: Database connectivity failure."),
	}}
	execCtx := testExecCtx(client, testRegistry(t), budget.Limits{}, Config{})

	report := NewLoop().Run(context.Background(), execCtx)

	assert.Equal(t, models.AgentStatusCompleted, report.Status)
	assert.Equal(t, "Database connectivity failure.", report.Findings)
	require.Len(t, report.Invocations, 1)

	// The observation goes back as a plain user turn.
	obs := client.requests[1].Messages[len(client.requests[1].Messages)-1]
	assert.Equal(t, llm.RoleUser, obs.Role)
	assert.Contains(t, obs.Content, "Observation:")
}

func TestLoopPlainTextEndTurnIsConclusion(t *testing.T) {
	client := &scriptedClient{script: []func(*llm.Request) (*llm.Completion, error){
		textResp("The alert is a transient blip; error rate already recovered. No action needed."),
	}}
	execCtx := testExecCtx(client, testRegistry(t), budget.Limits{}, Config{})

	report := NewLoop().Run(context.Background(), execCtx)

	assert.Equal(t, models.AgentStatusCompleted, report.Status)
	assert.Contains(t, report.Findings, "transient blip")
}

func TestLoopFailingToolBecomesObservation(t *testing.T) {
	client := &scriptedClient{script: []func(*llm.Request) (*llm.Completion, error){
		toolResp("flaky_probe", nil),
		textResp("Final Answer: Probe unavailable; diagnosis based on remaining evidence."),
	}}
	execCtx := testExecCtx(client, testRegistry(t), budget.Limits{}, Config{})

	report := NewLoop().Run(context.Background(), execCtx)

	assert.Equal(t, models.AgentStatusCompleted, report.Status)
	require.Len(t, report.Invocations, 1)
	assert.False(t, report.Invocations[0].Success)

	last := client.requests[1].Messages[len(client.requests[1].Messages)-1]
	require.Len(t, last.ToolResults, 1)
	assert.True(t, last.ToolResults[0].IsError)
	assert.Contains(t, last.ToolResults[0].Content, "probe backend unreachable")
}

func TestLoopUnknownToolGetsToolList(t *testing.T) {
	client := &scriptedClient{script: []func(*llm.Request) (*llm.Completion, error){
		toolResp("grep_everything", nil),
		textResp("Final Answer: done"),
	}}
	execCtx := testExecCtx(client, testRegistry(t), budget.Limits{}, Config{})

	report := NewLoop().Run(context.Background(), execCtx)

	assert.Equal(t, models.AgentStatusCompleted, report.Status)
	last := client.requests[1].Messages[len(client.requests[1].Messages)-1]
	require.Len(t, last.ToolResults, 1)
	assert.Contains(t, last.ToolResults[0].Content, "unknown tool 'grep_everything'")
	assert.Contains(t, last.ToolResults[0].Content, "fetch_logs")
}

func TestLoopMaxIterationsForcesConclusion(t *testing.T) {
	client := &scriptedClient{script: []func(*llm.Request) (*llm.Completion, error){
		toolResp("fetch_logs", map[string]any{"service": "a"}),
		toolResp("fetch_logs", map[string]any{"service": "b"}),
		textResp("Final Answer: Best available assessment: database connectivity degraded."),
	}}
	execCtx := testExecCtx(client, testRegistry(t), budget.Limits{}, Config{MaxIterations: 2})

	report := NewLoop().Run(context.Background(), execCtx)

	// Hitting the iteration cap is exhaustion even when the forced
	// conclusion succeeds; the synthesized answer is still the findings.
	assert.Equal(t, models.AgentStatusExhausted, report.Status)
	assert.Contains(t, report.Error, "iteration cap")
	assert.Contains(t, report.Findings, "Best available assessment")
	assert.Len(t, report.Invocations, 2)
	assert.Equal(t, 2, report.Iterations)

	// The conclusion request withholds tools so the model cannot stall.
	conclusion := client.requests[2]
	assert.Nil(t, conclusion.Tools)
	lastMsg := conclusion.Messages[len(conclusion.Messages)-1]
	assert.Contains(t, lastMsg.Content, "maximum number of investigation steps")
}

func TestLoopBudgetExhaustionPreservesPartialFindings(t *testing.T) {
	client := &scriptedClient{script: []func(*llm.Request) (*llm.Completion, error){
		toolResp("fetch_logs", map[string]any{"service": "payment-gateway"}),
		toolResp("fetch_logs", map[string]any{"service": "checkout"}),
		toolResp("fetch_logs", map[string]any{"service": "api"}),
	}}
	// Ceiling low enough that the second iteration's charge crosses it.
	execCtx := testExecCtx(client, testRegistry(t), budget.Limits{MaxTokens: 80}, Config{})

	report := NewLoop().Run(context.Background(), execCtx)

	assert.Equal(t, models.AgentStatusExhausted, report.Status)
	assert.NotEmpty(t, report.Error)
	assert.Contains(t, report.Findings, "fetch_logs")
	assert.NotEmpty(t, report.Invocations)
}

func TestLoopConsecutiveModelFailures(t *testing.T) {
	outage := errors.New("model down")
	client := &scriptedClient{script: []func(*llm.Request) (*llm.Completion, error){
		errResp(outage), errResp(outage), errResp(outage),
	}}
	execCtx := testExecCtx(client, testRegistry(t), budget.Limits{}, Config{MaxConsecutiveFailures: 3})

	report := NewLoop().Run(context.Background(), execCtx)

	assert.Equal(t, models.AgentStatusFailed, report.Status)
	assert.Contains(t, report.Error, "model down")
}

func TestLoopMalformedResponseGetsFormatFeedback(t *testing.T) {
	client := &scriptedClient{script: []func(*llm.Request) (*llm.Completion, error){
		textResp("Thought: hmm, let me think about this."),
		textResp("Final Answer: Resolved after format correction."),
	}}
	execCtx := testExecCtx(client, testRegistry(t), budget.Limits{}, Config{})

	report := NewLoop().Run(context.Background(), execCtx)

	assert.Equal(t, models.AgentStatusCompleted, report.Status)
	feedback := client.requests[1].Messages[len(client.requests[1].Messages)-1]
	assert.Contains(t, feedback.Content, "FORMAT ERROR")
}

func TestLoopCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	client := &scriptedClient{script: []func(*llm.Request) (*llm.Completion, error){
		errResp(context.Canceled),
	}}
	execCtx := testExecCtx(client, testRegistry(t), budget.Limits{}, Config{})

	report := NewLoop().Run(ctx, execCtx)

	assert.Equal(t, models.AgentStatusFailed, report.Status)
	assert.Contains(t, report.Error, "canceled")
}

func TestPoolRunsSpecialistWithToolSubset(t *testing.T) {
	client := &scriptedClient{script: []func(*llm.Request) (*llm.Completion, error){
		textResp("Final Answer: Network path healthy."),
	}}
	reg := testRegistry(t)
	pool, err := NewPool([]SpecialistSpec{{
		Name:          "network",
		Instruction:   "You diagnose network issues.",
		Tools:         []string{"fetch_logs"},
		MaxIterations: 3,
	}}, reg, client, llm.Pricing{}, Config{})
	require.NoError(t, err)

	report := pool.Run(context.Background(), "network", "check connectivity", budget.NewGovernor(budget.Limits{}))

	assert.Equal(t, models.AgentStatusCompleted, report.Status)
	assert.Equal(t, "network", report.AgentName)
	require.Len(t, client.requests, 1)
	require.Len(t, client.requests[0].Tools, 1)
	assert.Equal(t, "fetch_logs", client.requests[0].Tools[0].Name)
	assert.Equal(t, "You diagnose network issues.", client.requests[0].System)
}

func TestPoolUnknownSpecialistIsFailedReport(t *testing.T) {
	pool, err := NewPool(nil, testRegistry(t), &scriptedClient{}, llm.Pricing{}, Config{})
	require.NoError(t, err)

	report := pool.Run(context.Background(), "quantum", "task", budget.NewGovernor(budget.Limits{}))

	assert.Equal(t, models.AgentStatusFailed, report.Status)
	assert.Contains(t, report.Error, "quantum")
}

func TestPoolRejectsUnknownTool(t *testing.T) {
	_, err := NewPool([]SpecialistSpec{{
		Name:  "storage",
		Tools: []string{"defragment_everything"},
	}}, testRegistry(t), &scriptedClient{}, llm.Pricing{}, Config{})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "defragment_everything")
}

func TestPoolNamesStableOrder(t *testing.T) {
	pool, err := NewPool([]SpecialistSpec{
		{Name: "storage"}, {Name: "compute"}, {Name: "network"},
	}, testRegistry(t), &scriptedClient{}, llm.Pricing{}, Config{})
	require.NoError(t, err)

	assert.Equal(t, []string{"compute", "network", "storage"}, pool.Names())
}

func TestDefaultConfigApplied(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, 10, cfg.MaxIterations)
	assert.Equal(t, 2*time.Minute, cfg.IterationTimeout)
	assert.Greater(t, cfg.MaxTokensPerCall, 0)
}
