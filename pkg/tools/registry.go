// Package tools provides the closed catalog of diagnostic operations
// agents may invoke. Every tool declares its argument schema up front;
// the registry validates arguments before execution and converts
// execution failures into structured results so the investigation loop
// can reason about them instead of crashing.
package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Error taxonomy for tool invocation. Execution failures are NOT part of
// it — they come back as Result{IsError: true} so the model can adapt.
var (
	ErrToolNotFound = errors.New("tool not found")
	ErrInvalidArgs  = errors.New("invalid tool arguments")
	ErrInvalidSpec  = errors.New("invalid tool spec")
)

// ArgType enumerates supported argument schema types.
type ArgType string

const (
	ArgTypeString  ArgType = "string"
	ArgTypeInteger ArgType = "integer"
	ArgTypeNumber  ArgType = "number"
	ArgTypeBoolean ArgType = "boolean"
)

// ArgSpec describes one argument of a tool.
type ArgSpec struct {
	Type        ArgType  `yaml:"type" json:"type"`
	Description string   `yaml:"description" json:"description"`
	Required    bool     `yaml:"required" json:"required"`
	Enum        []string `yaml:"enum,omitempty" json:"enum,omitempty"`
}

// Spec declares a tool's contract. Description is consumed by the model
// to decide relevance, so it must say what the tool answers, not how it
// is implemented.
type Spec struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Args        map[string]ArgSpec `json:"args,omitempty"`
}

// InputSchema renders the spec as a JSON-Schema-shaped map for the
// model boundary's native tool definitions.
func (s Spec) InputSchema() map[string]any {
	props := map[string]any{}
	var required []string
	for name, arg := range s.Args {
		p := map[string]any{
			"type":        string(arg.Type),
			"description": arg.Description,
		}
		if len(arg.Enum) > 0 {
			p["enum"] = arg.Enum
		}
		props[name] = p
		if arg.Required {
			required = append(required, name)
		}
	}
	sort.Strings(required)
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

// Result is the outcome of one tool invocation. IsError marks execution
// failures that were recovered into content the model can read.
type Result struct {
	Tool     string        `json:"tool"`
	Content  string        `json:"content"`
	IsError  bool          `json:"is_error"`
	Duration time.Duration `json:"duration_ns"`
}

// Handler executes a tool with already-validated arguments.
type Handler func(ctx context.Context, args map[string]any) (string, error)

type entry struct {
	spec    Spec
	handler Handler
}

// Registry is the name-keyed tool catalog. Safe for concurrent reads
// after construction; Register is expected at startup only.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
	// output budget for a single tool result, in estimated tokens
	maxResultTokens int
}

// NewRegistry creates an empty registry. maxResultTokens bounds the
// size of a single tool result fed back into the conversation;
// zero applies DefaultResultMaxTokens.
func NewRegistry(maxResultTokens int) *Registry {
	if maxResultTokens <= 0 {
		maxResultTokens = DefaultResultMaxTokens
	}
	return &Registry{
		entries:         make(map[string]entry),
		maxResultTokens: maxResultTokens,
	}
}

// Register adds a tool to the catalog. The spec is validated so a
// malformed declaration fails at startup, not mid-investigation.
func (r *Registry) Register(spec Spec, handler Handler) error {
	if err := validateSpec(spec); err != nil {
		return err
	}
	if handler == nil {
		return fmt.Errorf("%w: %s: nil handler", ErrInvalidSpec, spec.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[spec.Name]; exists {
		return fmt.Errorf("%w: %s: duplicate registration", ErrInvalidSpec, spec.Name)
	}
	r.entries[spec.Name] = entry{spec: spec, handler: handler}
	return nil
}

func validateSpec(spec Spec) error {
	if spec.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidSpec)
	}
	if spec.Description == "" {
		return fmt.Errorf("%w: %s: empty description", ErrInvalidSpec, spec.Name)
	}
	for argName, arg := range spec.Args {
		if argName == "" {
			return fmt.Errorf("%w: %s: empty argument name", ErrInvalidSpec, spec.Name)
		}
		switch arg.Type {
		case ArgTypeString, ArgTypeInteger, ArgTypeNumber, ArgTypeBoolean:
		default:
			return fmt.Errorf("%w: %s.%s: unknown type %q", ErrInvalidSpec, spec.Name, argName, arg.Type)
		}
		if len(arg.Enum) > 0 && arg.Type != ArgTypeString {
			return fmt.Errorf("%w: %s.%s: enum requires string type", ErrInvalidSpec, spec.Name, argName)
		}
	}
	return nil
}

// List returns all tool specs sorted by name.
func (r *Registry) List() []Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	specs := make([]Spec, 0, len(r.entries))
	for _, e := range r.entries {
		specs = append(specs, e.spec)
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// Get returns the spec for a tool name.
func (r *Registry) Get(name string) (Spec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e.spec, ok
}

// Subset returns a restricted view containing only the named tools.
// Unknown names are skipped — a specialist configured with a tool that
// was never registered simply doesn't get it.
func (r *Registry) Subset(names ...string) *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sub := NewRegistry(r.maxResultTokens)
	for _, name := range names {
		if e, ok := r.entries[name]; ok {
			sub.entries[name] = e
		}
	}
	return sub
}

// Invoke validates args against the tool's spec and executes it.
// Returns ErrToolNotFound / ErrInvalidArgs for contract violations;
// handler failures come back as Result{IsError: true} with a nil error
// so callers can feed them to the model as observations.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any) (*Result, error) {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}

	if err := validateArgs(e.spec, args); err != nil {
		return nil, err
	}

	start := time.Now()
	content, err := safeExecute(ctx, e.handler, args)
	res := &Result{
		Tool:     name,
		Duration: time.Since(start),
	}
	if err != nil {
		res.Content = fmt.Sprintf("tool %s failed: %s", name, err)
		res.IsError = true
		return res, nil
	}
	res.Content = TruncateResult(content, r.maxResultTokens)
	return res, nil
}

// safeExecute shields the caller from panicking handlers.
func safeExecute(ctx context.Context, h Handler, args map[string]any) (content string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic during execution: %v", rec)
		}
	}()
	return h(ctx, args)
}

func validateArgs(spec Spec, args map[string]any) error {
	for argName, arg := range spec.Args {
		val, present := args[argName]
		if !present {
			if arg.Required {
				return fmt.Errorf("%w: %s: missing required argument %q", ErrInvalidArgs, spec.Name, argName)
			}
			continue
		}
		if err := checkArgType(argName, arg, val); err != nil {
			return fmt.Errorf("%w: %s: %s", ErrInvalidArgs, spec.Name, err)
		}
	}
	for argName := range args {
		if _, declared := spec.Args[argName]; !declared {
			return fmt.Errorf("%w: %s: unknown argument %q", ErrInvalidArgs, spec.Name, argName)
		}
	}
	return nil
}

func checkArgType(name string, arg ArgSpec, val any) error {
	switch arg.Type {
	case ArgTypeString:
		s, ok := val.(string)
		if !ok {
			return fmt.Errorf("argument %q must be a string, got %T", name, val)
		}
		if len(arg.Enum) > 0 {
			for _, allowed := range arg.Enum {
				if s == allowed {
					return nil
				}
			}
			return fmt.Errorf("argument %q must be one of %v, got %q", name, arg.Enum, s)
		}
	case ArgTypeInteger:
		switch v := val.(type) {
		case int, int32, int64:
		case float64:
			if v != float64(int64(v)) {
				return fmt.Errorf("argument %q must be an integer, got %v", name, v)
			}
		default:
			return fmt.Errorf("argument %q must be an integer, got %T", name, val)
		}
	case ArgTypeNumber:
		switch val.(type) {
		case int, int32, int64, float32, float64:
		default:
			return fmt.Errorf("argument %q must be a number, got %T", name, val)
		}
	case ArgTypeBoolean:
		if _, ok := val.(bool); !ok {
			return fmt.Errorf("argument %q must be a boolean, got %T", name, val)
		}
	}
	return nil
}
