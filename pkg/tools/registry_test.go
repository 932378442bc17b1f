package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoSpec() Spec {
	return Spec{
		Name:        "echo",
		Description: "Echoes its input back.",
		Args: map[string]ArgSpec{
			"message": {Type: ArgTypeString, Description: "Text to echo", Required: true},
			"repeat":  {Type: ArgTypeInteger, Description: "Repetitions", Required: false},
		},
	}
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	reg := NewRegistry(0)
	err := reg.Register(echoSpec(), func(_ context.Context, args map[string]any) (string, error) {
		return args["message"].(string), nil
	})
	require.NoError(t, err)
	return reg
}

func TestRegistry_InvokeSuccess(t *testing.T) {
	reg := newTestRegistry(t)

	res, err := reg.Invoke(context.Background(), "echo", map[string]any{"message": "hello"})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, "hello", res.Content)
	assert.Equal(t, "echo", res.Tool)
}

func TestRegistry_ToolNotFound(t *testing.T) {
	reg := newTestRegistry(t)

	_, err := reg.Invoke(context.Background(), "nope", nil)
	assert.ErrorIs(t, err, ErrToolNotFound)
}

func TestRegistry_MissingRequiredArg(t *testing.T) {
	reg := newTestRegistry(t)

	_, err := reg.Invoke(context.Background(), "echo", map[string]any{})
	require.ErrorIs(t, err, ErrInvalidArgs)
	assert.Contains(t, err.Error(), "message")
}

func TestRegistry_WrongArgType(t *testing.T) {
	reg := newTestRegistry(t)

	_, err := reg.Invoke(context.Background(), "echo", map[string]any{"message": 42})
	assert.ErrorIs(t, err, ErrInvalidArgs)
}

func TestRegistry_UnknownArg(t *testing.T) {
	reg := newTestRegistry(t)

	_, err := reg.Invoke(context.Background(), "echo", map[string]any{
		"message": "hi", "bogus": true,
	})
	require.ErrorIs(t, err, ErrInvalidArgs)
	assert.Contains(t, err.Error(), "bogus")
}

func TestRegistry_IntegerAcceptsJSONFloat(t *testing.T) {
	reg := newTestRegistry(t)

	// JSON decoding produces float64 for all numbers.
	_, err := reg.Invoke(context.Background(), "echo", map[string]any{
		"message": "hi", "repeat": float64(3),
	})
	assert.NoError(t, err)

	_, err = reg.Invoke(context.Background(), "echo", map[string]any{
		"message": "hi", "repeat": 3.5,
	})
	assert.ErrorIs(t, err, ErrInvalidArgs)
}

func TestRegistry_EnumValidation(t *testing.T) {
	reg := NewRegistry(0)
	require.NoError(t, reg.Register(Spec{
		Name:        "pick",
		Description: "Picks a mode.",
		Args: map[string]ArgSpec{
			"mode": {Type: ArgTypeString, Description: "Mode", Required: true, Enum: []string{"fast", "slow"}},
		},
	}, func(_ context.Context, args map[string]any) (string, error) {
		return args["mode"].(string), nil
	}))

	_, err := reg.Invoke(context.Background(), "pick", map[string]any{"mode": "medium"})
	assert.ErrorIs(t, err, ErrInvalidArgs)

	res, err := reg.Invoke(context.Background(), "pick", map[string]any{"mode": "fast"})
	require.NoError(t, err)
	assert.Equal(t, "fast", res.Content)
}

func TestRegistry_ExecutionFailureIsStructured(t *testing.T) {
	reg := NewRegistry(0)
	require.NoError(t, reg.Register(Spec{
		Name:        "broken",
		Description: "Always fails.",
	}, func(_ context.Context, _ map[string]any) (string, error) {
		return "", errors.New("backend unreachable")
	}))

	res, err := reg.Invoke(context.Background(), "broken", nil)
	require.NoError(t, err, "execution failures must come back as structured results")
	assert.True(t, res.IsError)
	assert.Contains(t, res.Content, "backend unreachable")
}

func TestRegistry_PanickingHandlerRecovered(t *testing.T) {
	reg := NewRegistry(0)
	require.NoError(t, reg.Register(Spec{
		Name:        "panicky",
		Description: "Panics.",
	}, func(_ context.Context, _ map[string]any) (string, error) {
		panic("boom")
	}))

	res, err := reg.Invoke(context.Background(), "panicky", nil)
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, res.Content, "boom")
}

func TestRegistry_RejectsDuplicateAndMalformedSpecs(t *testing.T) {
	reg := newTestRegistry(t)

	err := reg.Register(echoSpec(), func(_ context.Context, _ map[string]any) (string, error) { return "", nil })
	assert.ErrorIs(t, err, ErrInvalidSpec)

	err = reg.Register(Spec{Name: "", Description: "x"}, func(_ context.Context, _ map[string]any) (string, error) { return "", nil })
	assert.ErrorIs(t, err, ErrInvalidSpec)

	err = reg.Register(Spec{
		Name:        "bad-type",
		Description: "x",
		Args:        map[string]ArgSpec{"a": {Type: "blob", Description: "x"}},
	}, func(_ context.Context, _ map[string]any) (string, error) { return "", nil })
	assert.ErrorIs(t, err, ErrInvalidSpec)
}

func TestRegistry_Subset(t *testing.T) {
	reg := NewRegistry(0)
	backend := NewStaticBackend()
	require.NoError(t, RegisterDiagnostics(reg, backend))

	sub := reg.Subset("fetch_logs", "list_pods", "never_registered")

	names := make([]string, 0)
	for _, s := range sub.List() {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"fetch_logs", "list_pods"}, names)

	// Tools outside the subset are unreachable through it.
	_, err := sub.Invoke(context.Background(), "service_health", map[string]any{"service": "x"})
	assert.ErrorIs(t, err, ErrToolNotFound)
}

func TestRegistry_ResultTruncation(t *testing.T) {
	reg := NewRegistry(10) // 10 tokens ≈ 40 chars
	require.NoError(t, reg.Register(Spec{
		Name:        "noisy",
		Description: "Returns a lot of output.",
	}, func(_ context.Context, _ map[string]any) (string, error) {
		return strings.Repeat("line of log output\n", 50), nil
	}))

	res, err := reg.Invoke(context.Background(), "noisy", nil)
	require.NoError(t, err)
	assert.Contains(t, res.Content, "[TRUNCATED")
	assert.Less(t, len(res.Content), 300)
}

func TestSpec_InputSchema(t *testing.T) {
	schema := echoSpec().InputSchema()

	assert.Equal(t, "object", schema["type"])
	props := schema["properties"].(map[string]any)
	assert.Contains(t, props, "message")
	assert.Contains(t, props, "repeat")
	assert.Equal(t, []string{"message"}, schema["required"])
}

func TestBuiltins_RegisterAndInvoke(t *testing.T) {
	reg := NewRegistry(0)
	backend := NewStaticBackend()
	backend.Services["payment-gateway"] = ServiceFixture{
		Health: "service payment-gateway: degraded, 2 pods CrashLoopBackOff",
		Pods:   []string{"payment-gateway-7d9f-abc Running 0 3d", "payment-gateway-7d9f-def CrashLoopBackOff 14 2h"},
		Logs:   []string{"ERROR connection pool exhausted", "ERROR timeout acquiring connection"},
	}
	require.NoError(t, RegisterDiagnostics(reg, backend))

	res, err := reg.Invoke(context.Background(), "service_health", map[string]any{"service": "payment-gateway"})
	require.NoError(t, err)
	assert.Contains(t, res.Content, "CrashLoopBackOff")

	res, err = reg.Invoke(context.Background(), "fetch_logs", map[string]any{
		"service": "payment-gateway", "lines": float64(1),
	})
	require.NoError(t, err)
	assert.Equal(t, "ERROR timeout acquiring connection", res.Content)

	// Enum enforcement on builtin specs
	_, err = reg.Invoke(context.Background(), "query_metric", map[string]any{
		"service": "payment-gateway", "metric": "made_up_metric",
	})
	assert.ErrorIs(t, err, ErrInvalidArgs)
}

func TestRegisterRunbookSearch(t *testing.T) {
	reg := NewRegistry(0)
	searcher := runbookSearcherFunc(func(_ context.Context, query string, k int) ([]RunbookHit, error) {
		return []RunbookHit{{Title: "Pod CrashLoop Recovery", Body: "Check liveness probes.", Distance: 0.12}}, nil
	})
	require.NoError(t, RegisterRunbookSearch(reg, searcher))

	res, err := reg.Invoke(context.Background(), "search_runbooks", map[string]any{"query": "crashloop"})
	require.NoError(t, err)
	assert.Contains(t, res.Content, "Pod CrashLoop Recovery")
}

type runbookSearcherFunc func(ctx context.Context, query string, k int) ([]RunbookHit, error)

func (f runbookSearcherFunc) SearchText(ctx context.Context, query string, k int) ([]RunbookHit, error) {
	return f(ctx, query, k)
}

func TestTruncateResult_LineBoundary(t *testing.T) {
	content := ""
	for i := 0; i < 100; i++ {
		content += fmt.Sprintf("log line %03d\n", i)
	}
	out := TruncateResult(content, 20) // 80 chars

	require.Contains(t, out, "[TRUNCATED")
	// Cut happens at a newline, never mid-line.
	body := out[:strings.Index(out, "\n\n[TRUNCATED")]
	for _, line := range strings.Split(body, "\n") {
		assert.Regexp(t, `^log line \d{3}$`, line)
	}
}
