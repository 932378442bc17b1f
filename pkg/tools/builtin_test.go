package tools

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSearcher struct {
	hits []RunbookHit
	err  error
}

func (s *stubSearcher) SearchText(_ context.Context, _ string, _ int) ([]RunbookHit, error) {
	return s.hits, s.err
}

func diagnosticsRegistry(t *testing.T) (*Registry, *StaticBackend) {
	t.Helper()
	reg := NewRegistry(0)
	backend := NewStaticBackend()
	require.NoError(t, RegisterDiagnostics(reg, backend))
	return reg, backend
}

func TestRegisterDiagnosticsRegistersAllTools(t *testing.T) {
	reg, _ := diagnosticsRegistry(t)

	for _, name := range []string{
		"service_health", "list_pods", "fetch_logs",
		"describe_resource", "recent_deployments", "query_metric",
	} {
		_, ok := reg.Get(name)
		assert.True(t, ok, "missing builtin tool %s", name)
	}
}

func TestFetchLogsTool(t *testing.T) {
	reg, backend := diagnosticsRegistry(t)
	backend.Services["payment-gateway"] = ServiceFixture{
		Logs: []string{
			"pod-a: ERROR connection refused to db:5432",
			"pod-b: request completed in 120ms",
		},
	}

	res, err := reg.Invoke(context.Background(), "fetch_logs", map[string]any{
		"service": "payment-gateway",
		"pod":     "pod-a",
	})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Contains(t, res.Content, "connection refused")
	assert.NotContains(t, res.Content, "pod-b")
}

func TestFetchLogsToleratesJSONNumbers(t *testing.T) {
	reg, backend := diagnosticsRegistry(t)
	backend.Services["svc"] = ServiceFixture{Logs: []string{"line1", "line2", "line3"}}

	// JSON decoding yields float64 for integers.
	res, err := reg.Invoke(context.Background(), "fetch_logs", map[string]any{
		"service": "svc",
		"lines":   float64(2),
	})
	require.NoError(t, err)
	assert.Equal(t, "line2\nline3", res.Content)
}

func TestQueryMetricRejectsUnknownMetric(t *testing.T) {
	reg, _ := diagnosticsRegistry(t)

	_, err := reg.Invoke(context.Background(), "query_metric", map[string]any{
		"service": "svc",
		"metric":  "disk_iops",
	})
	assert.ErrorIs(t, err, ErrInvalidArgs)
}

func TestRunbookSearchFormatsHits(t *testing.T) {
	reg := NewRegistry(0)
	require.NoError(t, RegisterRunbookSearch(reg, &stubSearcher{
		hits: []RunbookHit{
			{Title: "db-pool-exhaustion", Body: "Raise max_connections and restart.", Distance: 0.12},
			{Title: "disk-pressure", Body: "Rotate logs.", Distance: 0.48},
		},
	}))

	res, err := reg.Invoke(context.Background(), "search_runbooks", map[string]any{
		"query": "connection pool exhausted",
	})
	require.NoError(t, err)
	assert.Contains(t, res.Content, "[1] db-pool-exhaustion (distance 0.120)")
	assert.Contains(t, res.Content, "Raise max_connections")
	assert.Contains(t, res.Content, "[2] disk-pressure")
}

func TestRunbookSearchNoHits(t *testing.T) {
	reg := NewRegistry(0)
	require.NoError(t, RegisterRunbookSearch(reg, &stubSearcher{}))

	res, err := reg.Invoke(context.Background(), "search_runbooks", map[string]any{
		"query": "nothing matches this",
	})
	require.NoError(t, err)
	assert.Equal(t, "No matching runbook passages found.", res.Content)
}

func TestRunbookSearchErrorIsObservation(t *testing.T) {
	reg := NewRegistry(0)
	require.NoError(t, RegisterRunbookSearch(reg, &stubSearcher{err: errors.New("embedder unavailable")}))

	res, err := reg.Invoke(context.Background(), "search_runbooks", map[string]any{
		"query": "anything",
	})
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, res.Content, "embedder unavailable")
}
