package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:     attempts,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
	}
}

func TestRetry_SucceedsAfterTransientFailure(t *testing.T) {
	inner := &scriptedClient{results: []error{outage(), outage(), nil}}
	client := WithRetry(inner, fastRetry(3))

	resp, err := client.Complete(context.Background(), &Request{})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)
	assert.Equal(t, 3, inner.calls)
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	inner := &scriptedClient{results: []error{outage()}}
	client := WithRetry(inner, fastRetry(3))

	_, err := client.Complete(context.Background(), &Request{})
	require.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, 3, inner.calls)
}

func TestRetry_NonRetryableStopsImmediately(t *testing.T) {
	inner := &scriptedClient{results: []error{errors.New("invalid request")}}
	client := WithRetry(inner, fastRetry(5))

	_, err := client.Complete(context.Background(), &Request{})
	require.Error(t, err)
	assert.Equal(t, 1, inner.calls)
}

func TestRetry_ContextCancellationNotRetried(t *testing.T) {
	inner := &scriptedClient{results: []error{context.Canceled}}
	client := WithRetry(inner, fastRetry(5))

	_, err := client.Complete(context.Background(), &Request{})
	require.Error(t, err)
	assert.Equal(t, 1, inner.calls)
}

func TestPricing_Cost(t *testing.T) {
	p := Pricing{InputPerMTok: 3.0, OutputPerMTok: 15.0}
	cost := p.Cost(Usage{InputTokens: 1_000_000, OutputTokens: 200_000})
	assert.InDelta(t, 6.0, cost, 1e-9)
}

func TestToolCall_Args(t *testing.T) {
	call := ToolCall{Input: []byte(`{"service": "api", "lines": 20}`)}
	assert.Equal(t, map[string]any{"service": "api", "lines": float64(20)}, call.Args())

	// Malformed input degrades to empty args; registry validation
	// reports the missing fields.
	call = ToolCall{Input: []byte(`{"service":`)}
	assert.Equal(t, map[string]any{}, call.Args())

	call = ToolCall{}
	assert.Equal(t, map[string]any{}, call.Args())
}
