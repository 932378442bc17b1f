package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicConfig configures the Anthropic-backed client.
type AnthropicConfig struct {
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
}

// DefaultAnthropicConfig returns sensible defaults for investigation
// work. Temperature 0 — deterministic for incident response.
func DefaultAnthropicConfig() AnthropicConfig {
	return AnthropicConfig{
		Model:       "claude-sonnet-4-5-20250929",
		MaxTokens:   4096,
		Temperature: 0,
	}
}

// AnthropicClient implements Client using the Anthropic Messages API.
type AnthropicClient struct {
	client anthropic.Client
	cfg    AnthropicConfig
}

// NewAnthropicClient creates a client. An empty APIKey falls back to
// the SDK's ANTHROPIC_API_KEY environment handling.
func NewAnthropicClient(cfg AnthropicConfig) *AnthropicClient {
	def := DefaultAnthropicConfig()
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = def.MaxTokens
	}

	var client anthropic.Client
	if cfg.APIKey != "" {
		client = anthropic.NewClient(option.WithAPIKey(cfg.APIKey))
	} else {
		client = anthropic.NewClient()
	}
	return &AnthropicClient{client: client, cfg: cfg}
}

// Complete implements Client.
func (c *AnthropicClient) Complete(ctx context.Context, req *Request) (*Completion, error) {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.cfg.MaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.cfg.Model),
		MaxTokens: int64(maxTokens),
		Messages:  convertMessages(req.Messages),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if len(req.Tools) > 0 {
		params.Tools = convertTools(req.Tools)
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, classifyError(err)
	}
	return convertResponse(resp), nil
}

// classifyError maps SDK failures onto the engine's error taxonomy.
// Only outage shapes — 429, 5xx, and transport failures with no HTTP
// response at all — become ErrUnavailable; caller cancellation and
// request rejections keep their own identity so the retry and breaker
// layers can tell them apart. The cause always stays in the chain.
func classifyError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("model call: %w", err)
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500 {
			return fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		return fmt.Errorf("model request rejected: %w", err)
	}

	// No HTTP response: connection refused, DNS failure, reset mid-body.
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}

func convertMessages(messages []Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		blocks := make([]anthropic.ContentBlockParamUnion, 0, len(msg.ToolResults)+len(msg.ToolCalls)+1)

		for _, tr := range msg.ToolResults {
			blocks = append(blocks, anthropic.NewToolResultBlock(tr.ToolCallID, tr.Content, tr.IsError))
		}
		if msg.Content != "" && len(msg.ToolResults) == 0 {
			blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
		}
		for _, tc := range msg.ToolCalls {
			blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, tc.Input, tc.Name))
		}

		if msg.Role == RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		} else {
			out = append(out, anthropic.NewUserMessage(blocks...))
		}
	}
	return out
}

func convertTools(tools []ToolDefinition) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, tool := range tools {
		properties := tool.InputSchema["properties"]
		required, _ := tool.InputSchema["required"].([]string)
		out = append(out, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        tool.Name,
				Description: anthropic.String(tool.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: properties,
					Required:   required,
				},
			},
		})
	}
	return out
}

func convertResponse(resp *anthropic.Message) *Completion {
	completion := &Completion{
		Usage: Usage{
			InputTokens:  int(resp.Usage.InputTokens),
			OutputTokens: int(resp.Usage.OutputTokens),
		},
	}

	var textParts []string
	for i := range resp.Content {
		block := &resp.Content[i]
		switch block.Type {
		case "text":
			textParts = append(textParts, block.Text)
		case "tool_use":
			completion.ToolCalls = append(completion.ToolCalls, ToolCall{
				ID:    block.ID,
				Name:  block.Name,
				Input: block.Input,
			})
		}
	}
	completion.Text = strings.Join(textParts, "")

	switch resp.StopReason {
	case anthropic.StopReasonToolUse:
		completion.StopReason = StopToolUse
	case anthropic.StopReasonMaxTokens:
		completion.StopReason = StopMaxTokens
	default:
		completion.StopReason = StopEndTurn
	}
	return completion
}
