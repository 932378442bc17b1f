package tools

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// StaticBackend serves canned diagnostic data keyed by service name.
// Used for local development and demos when no live cluster is wired;
// tests use their own fakes.
type StaticBackend struct {
	// Services maps service name → fixture. Unknown services get a
	// generic healthy response rather than an error.
	Services map[string]ServiceFixture
}

// ServiceFixture is the canned state of one service.
type ServiceFixture struct {
	Health      string
	Pods        []string
	Logs        []string
	Deployments []string
	Metrics     map[string]string
}

// NewStaticBackend creates a backend with no fixtures. Add entries to
// Services before use.
func NewStaticBackend() *StaticBackend {
	return &StaticBackend{Services: map[string]ServiceFixture{}}
}

func (b *StaticBackend) ServiceHealth(_ context.Context, service string) (string, error) {
	if f, ok := b.Services[service]; ok && f.Health != "" {
		return f.Health, nil
	}
	return fmt.Sprintf("service %s: healthy, 0 restarts in the last hour", service), nil
}

func (b *StaticBackend) ListPods(_ context.Context, service string) (string, error) {
	f, ok := b.Services[service]
	if !ok || len(f.Pods) == 0 {
		return fmt.Sprintf("no pods found for service %s", service), nil
	}
	return strings.Join(f.Pods, "\n"), nil
}

func (b *StaticBackend) FetchLogs(_ context.Context, service, pod string, lines int) (string, error) {
	f, ok := b.Services[service]
	if !ok || len(f.Logs) == 0 {
		return fmt.Sprintf("no recent logs for service %s", service), nil
	}
	logs := f.Logs
	if lines > 0 && lines < len(logs) {
		logs = logs[len(logs)-lines:]
	}
	if pod != "" {
		var filtered []string
		for _, l := range logs {
			if strings.Contains(l, pod) {
				filtered = append(filtered, l)
			}
		}
		logs = filtered
	}
	return strings.Join(logs, "\n"), nil
}

func (b *StaticBackend) DescribeResource(_ context.Context, kind, name string) (string, error) {
	return fmt.Sprintf("%s/%s: no fixture data recorded", kind, name), nil
}

func (b *StaticBackend) RecentDeployments(_ context.Context, service string) (string, error) {
	f, ok := b.Services[service]
	if !ok || len(f.Deployments) == 0 {
		return fmt.Sprintf("no deployments for service %s in the last 24h", service), nil
	}
	return strings.Join(f.Deployments, "\n"), nil
}

func (b *StaticBackend) QueryMetric(_ context.Context, service, metric string, minutes int) (string, error) {
	if f, ok := b.Services[service]; ok {
		if v, ok := f.Metrics[metric]; ok {
			return v, nil
		}
	}
	return fmt.Sprintf("%s %s over last %dm: no data points (as of %s)",
		service, metric, minutes, time.Now().UTC().Format(time.RFC3339)), nil
}
