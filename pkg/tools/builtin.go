package tools

import (
	"context"
	"fmt"
	"strings"
)

// Backend is the boundary to the infrastructure being investigated.
// Every method is a black box that may fail, time out, or return
// unexpected shapes — the registry recovers all of it into structured
// results.
type Backend interface {
	ServiceHealth(ctx context.Context, service string) (string, error)
	ListPods(ctx context.Context, service string) (string, error)
	FetchLogs(ctx context.Context, service, pod string, lines int) (string, error)
	DescribeResource(ctx context.Context, kind, name string) (string, error)
	RecentDeployments(ctx context.Context, service string) (string, error)
	QueryMetric(ctx context.Context, service, metric string, minutes int) (string, error)
}

// RunbookSearcher is the subset of the knowledge retriever the
// search_runbooks tool needs.
type RunbookSearcher interface {
	SearchText(ctx context.Context, query string, k int) ([]RunbookHit, error)
}

// RunbookHit is one ranked runbook passage.
type RunbookHit struct {
	Title    string
	Body     string
	Distance float64
}

// RegisterDiagnostics registers the builtin diagnostic tools against
// the given backend. Called once at startup; a registration error means
// a malformed builtin spec and is fatal.
func RegisterDiagnostics(reg *Registry, backend Backend) error {
	specs := []struct {
		spec    Spec
		handler Handler
	}{
		{
			spec: Spec{
				Name:        "service_health",
				Description: "Check the current health status of a service, including readiness and recent restart counts.",
				Args: map[string]ArgSpec{
					"service": {Type: ArgTypeString, Description: "Service name to check", Required: true},
				},
			},
			handler: func(ctx context.Context, args map[string]any) (string, error) {
				return backend.ServiceHealth(ctx, stringArg(args, "service"))
			},
		},
		{
			spec: Spec{
				Name:        "list_pods",
				Description: "List the pods backing a service with their phase, restart count, and age.",
				Args: map[string]ArgSpec{
					"service": {Type: ArgTypeString, Description: "Service name", Required: true},
				},
			},
			handler: func(ctx context.Context, args map[string]any) (string, error) {
				return backend.ListPods(ctx, stringArg(args, "service"))
			},
		},
		{
			spec: Spec{
				Name:        "fetch_logs",
				Description: "Fetch recent log lines for a service, optionally scoped to a single pod.",
				Args: map[string]ArgSpec{
					"service": {Type: ArgTypeString, Description: "Service name", Required: true},
					"pod":     {Type: ArgTypeString, Description: "Pod name (all pods when omitted)", Required: false},
					"lines":   {Type: ArgTypeInteger, Description: "Number of recent lines (default 100)", Required: false},
				},
			},
			handler: func(ctx context.Context, args map[string]any) (string, error) {
				lines := intArg(args, "lines", 100)
				return backend.FetchLogs(ctx, stringArg(args, "service"), stringArg(args, "pod"), lines)
			},
		},
		{
			spec: Spec{
				Name:        "describe_resource",
				Description: "Describe a cluster resource (deployment, pod, service, configmap) including recent events.",
				Args: map[string]ArgSpec{
					"kind": {Type: ArgTypeString, Description: "Resource kind", Required: true,
						Enum: []string{"deployment", "pod", "service", "configmap", "node"}},
					"name": {Type: ArgTypeString, Description: "Resource name", Required: true},
				},
			},
			handler: func(ctx context.Context, args map[string]any) (string, error) {
				return backend.DescribeResource(ctx, stringArg(args, "kind"), stringArg(args, "name"))
			},
		},
		{
			spec: Spec{
				Name:        "recent_deployments",
				Description: "List recent deployment rollouts for a service with revision and timestamp.",
				Args: map[string]ArgSpec{
					"service": {Type: ArgTypeString, Description: "Service name", Required: true},
				},
			},
			handler: func(ctx context.Context, args map[string]any) (string, error) {
				return backend.RecentDeployments(ctx, stringArg(args, "service"))
			},
		},
		{
			spec: Spec{
				Name:        "query_metric",
				Description: "Query a service metric time series (error_rate, latency_p99, cpu, memory, requests) over a recent window.",
				Args: map[string]ArgSpec{
					"service": {Type: ArgTypeString, Description: "Service name", Required: true},
					"metric": {Type: ArgTypeString, Description: "Metric to query", Required: true,
						Enum: []string{"error_rate", "latency_p99", "cpu", "memory", "requests"}},
					"minutes": {Type: ArgTypeInteger, Description: "Lookback window in minutes (default 30)", Required: false},
				},
			},
			handler: func(ctx context.Context, args map[string]any) (string, error) {
				minutes := intArg(args, "minutes", 30)
				return backend.QueryMetric(ctx, stringArg(args, "service"), stringArg(args, "metric"), minutes)
			},
		},
	}

	for _, s := range specs {
		if err := reg.Register(s.spec, s.handler); err != nil {
			return fmt.Errorf("register builtin %s: %w", s.spec.Name, err)
		}
	}
	return nil
}

// RegisterRunbookSearch registers the search_runbooks tool backed by
// the knowledge retriever. Separate from RegisterDiagnostics because
// the retriever is constructed later in startup than the backend.
func RegisterRunbookSearch(reg *Registry, searcher RunbookSearcher) error {
	spec := Spec{
		Name:        "search_runbooks",
		Description: "Search the runbook knowledge base for operational procedures matching a symptom or error description.",
		Args: map[string]ArgSpec{
			"query": {Type: ArgTypeString, Description: "Symptom or error description", Required: true},
			"limit": {Type: ArgTypeInteger, Description: "Maximum passages to return (default 3)", Required: false},
		},
	}
	return reg.Register(spec, func(ctx context.Context, args map[string]any) (string, error) {
		k := intArg(args, "limit", 3)
		hits, err := searcher.SearchText(ctx, stringArg(args, "query"), k)
		if err != nil {
			return "", err
		}
		if len(hits) == 0 {
			return "No matching runbook passages found.", nil
		}
		var sb strings.Builder
		for i, hit := range hits {
			fmt.Fprintf(&sb, "[%d] %s (distance %.3f)\n%s\n\n", i+1, hit.Title, hit.Distance, hit.Body)
		}
		return strings.TrimSpace(sb.String()), nil
	})
}

// stringArg reads a string argument; validation has already guaranteed
// the type when the argument is present.
func stringArg(args map[string]any, name string) string {
	if v, ok := args[name].(string); ok {
		return v
	}
	return ""
}

// intArg reads an integer argument, tolerating JSON's float64 decoding.
func intArg(args map[string]any, name string, def int) int {
	switch v := args[name].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return def
	}
}
