// Package toolregistry maps tool names to tool records, validates inputs
// against a declared JSON Schema, and executes tools under a cancellable
// execution context.
package toolregistry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/orchardhq/orchard/ident"
)

// FieldIssue reports a single schema-validation failure for a tool input.
type FieldIssue struct {
	Field      string
	Constraint string
}

// ValidationError wraps one or more FieldIssues returned by schema-validate.
type ValidationError struct {
	ToolName string
	Issues   []FieldIssue
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("toolregistry: %s: %d validation issue(s)", e.ToolName, len(e.Issues))
}

// ExecContext carries the calling agent id, the active workspace id, and a
// cancellation signal into a tool execution.
type ExecContext struct {
	context.Context
	AgentID     ident.AgentID
	WorkspaceID ident.WorkspaceID
}

// Executor performs a tool's side effect. Reads are safe to perform
// directly; any mutation to a workspace must be routed through the staging
// engine rather than touching files directly.
type Executor func(ctx ExecContext, input json.RawMessage) (output any, err error)

// DescribeAction renders a short, human-readable description of a proposed
// invocation for the approval prompt.
type DescribeAction func(input json.RawMessage) string

// Tool is a named, schema-validated, risk-leveled capability.
type Tool struct {
	Name          string
	Description   string
	InputSchema   json.RawMessage
	RiskLevel     ident.RiskLevel
	RequiredTrust ident.TrustLevel
	// WriteIntent marks a tool whose execution mutates workspace state
	// (staging a change, writing a file). The turn engine's within-turn
	// concurrency rule only parallelizes calls that are both low risk and
	// carry no write intent.
	WriteIntent    bool
	Execute        Executor
	DescribeAction DescribeAction

	compiled *jsonschema.Schema
}

// Registry is a name-keyed map of registered tools with constant-time
// lookup and a unique-name invariant.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// ErrDuplicateName is returned by Register when a tool name already exists.
type ErrDuplicateName struct{ Name string }

func (e *ErrDuplicateName) Error() string {
	return fmt.Sprintf("toolregistry: tool %q already registered", e.Name)
}

// Register compiles t's input schema and adds it to the registry. It
// returns *ErrDuplicateName if the name is already taken.
func (r *Registry) Register(t *Tool) error {
	compiled, err := compileSchema(t.Name, t.InputSchema)
	if err != nil {
		return err
	}
	t.compiled = compiled

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name]; exists {
		return &ErrDuplicateName{Name: t.Name}
	}
	r.tools[t.Name] = t
	return nil
}

// Lookup returns the tool registered under name, or false if none exists.
func (r *Registry) Lookup(name string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns every registered tool, in no particular order.
func (r *Registry) List() []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	return out
}

func compileSchema(name string, raw json.RawMessage) (*jsonschema.Schema, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	compiler := jsonschema.NewCompiler()
	url := "mem://tools/" + name + ".json"
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("toolregistry: %s: invalid schema JSON: %w", name, err)
	}
	if err := compiler.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("toolregistry: %s: %w", name, err)
	}
	return compiler.Compile(url)
}

// Validate checks input against t's compiled input schema, returning a
// *ValidationError with one FieldIssue per violation when invalid.
func (t *Tool) Validate(input json.RawMessage) error {
	if t.compiled == nil {
		return nil
	}
	var doc any
	if err := json.Unmarshal(input, &doc); err != nil {
		return &ValidationError{ToolName: t.Name, Issues: []FieldIssue{{Field: "", Constraint: "invalid_json"}}}
	}
	if err := t.compiled.Validate(doc); err != nil {
		ve, ok := err.(*jsonschema.ValidationError)
		if !ok {
			return &ValidationError{ToolName: t.Name, Issues: []FieldIssue{{Field: "", Constraint: "invalid_field_type"}}}
		}
		return &ValidationError{ToolName: t.Name, Issues: flattenIssues(ve)}
	}
	return nil
}

func flattenIssues(ve *jsonschema.ValidationError) []FieldIssue {
	var issues []FieldIssue
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		field := "/"
		if len(e.InstanceLocation) > 0 {
			field = "/" + joinPath(e.InstanceLocation)
		}
		issues = append(issues, FieldIssue{Field: field, Constraint: constraintKind(e)})
		for _, cause := range e.Causes {
			walk(cause)
		}
	}
	walk(ve)
	return issues
}

func joinPath(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += "/"
		}
		out += p
	}
	return out
}

func constraintKind(e *jsonschema.ValidationError) string {
	switch e.ErrorKind.(type) {
	case nil:
		return "invalid_field_type"
	default:
		return fmt.Sprintf("%T", e.ErrorKind)
	}
}
