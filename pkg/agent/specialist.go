package agent

import (
	"context"
	"fmt"
	"sort"

	"github.com/incidentkit/incidentkit/pkg/budget"
	"github.com/incidentkit/incidentkit/pkg/llm"
	"github.com/incidentkit/incidentkit/pkg/models"
	"github.com/incidentkit/incidentkit/pkg/tools"
)

// SpecialistSpec declares one named specialist: a domain-scoped system
// instruction, the tool subset it may use, and a tighter iteration
// ceiling than the general investigator.
type SpecialistSpec struct {
	Name          string   `yaml:"name"`
	Instruction   string   `yaml:"instruction"`
	Tools         []string `yaml:"tools"`
	MaxIterations int      `yaml:"max_iterations"`
}

// Pool holds the configured specialists. Specialists are stateless
// between runs; the pool can serve concurrent investigations.
type Pool struct {
	specs    map[string]SpecialistSpec
	registry *tools.Registry
	client   llm.Client
	pricing  llm.Pricing
	baseCfg  Config
	loop     *Loop
}

// NewPool builds a pool from specialist declarations. Tool subsets are
// resolved eagerly so a misconfigured tool name fails at startup, not
// mid-incident.
func NewPool(specs []SpecialistSpec, registry *tools.Registry, client llm.Client, pricing llm.Pricing, baseCfg Config) (*Pool, error) {
	byName := make(map[string]SpecialistSpec, len(specs))
	for _, spec := range specs {
		if spec.Name == "" {
			return nil, fmt.Errorf("specialist with empty name")
		}
		if _, dup := byName[spec.Name]; dup {
			return nil, fmt.Errorf("duplicate specialist %q", spec.Name)
		}
		for _, tool := range spec.Tools {
			if _, ok := registry.Get(tool); !ok {
				return nil, fmt.Errorf("specialist %q references unknown tool %q", spec.Name, tool)
			}
		}
		byName[spec.Name] = spec
	}
	return &Pool{
		specs:    byName,
		registry: registry,
		client:   client,
		pricing:  pricing,
		baseCfg:  baseCfg.withDefaults(),
		loop:     NewLoop(),
	}, nil
}

// Names returns the specialist names in stable order.
func (p *Pool) Names() []string {
	names := make([]string, 0, len(p.specs))
	for name := range p.specs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Describe returns a one-line summary per specialist for delegation
// planning prompts.
func (p *Pool) Describe() []string {
	lines := make([]string, 0, len(p.specs))
	for _, name := range p.Names() {
		spec := p.specs[name]
		lines = append(lines, fmt.Sprintf("%s: %s (tools: %v)", name, spec.Instruction, spec.Tools))
	}
	return lines
}

// Run executes one specialist against a task under the shared governor.
// An unknown specialist name yields a failed report, not an error — the
// coordinator treats it like any other isolated specialist failure.
func (p *Pool) Run(ctx context.Context, name, task string, governor *budget.Governor) *models.AgentReport {
	spec, ok := p.specs[name]
	if !ok {
		return &models.AgentReport{
			AgentName: name,
			Task:      task,
			Status:    models.AgentStatusFailed,
			Error:     fmt.Sprintf("no specialist named %q", name),
		}
	}

	cfg := p.baseCfg
	if spec.MaxIterations > 0 && spec.MaxIterations < cfg.MaxIterations {
		cfg.MaxIterations = spec.MaxIterations
	}

	return p.loop.Run(ctx, &ExecutionContext{
		AgentName:    name,
		Task:         task,
		SystemPrompt: spec.Instruction,
		Tools:        p.registry.Subset(spec.Tools...),
		Client:       p.client,
		Governor:     governor,
		Pricing:      p.pricing,
		Config:       cfg,
	})
}
