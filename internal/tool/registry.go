// Package tool provides the tool registry and the single-round-trip tool
// resolution flow for model responses that request a tool invocation.
package tool

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Result is the outcome of one tool execution. Failures are data, not
// errors: an unknown tool or a failing tool still produces a Result that is
// fed back to the model.
type Result struct {
	Success bool   `json:"success"`
	Output  string `json:"output,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Tool is a named capability the model may invoke. Arguments are validated
// against Schema before Run is called.
type Tool struct {
	Name        string
	Description string
	Schema      *jsonschema.Schema
	Run         func(ctx context.Context, args map[string]any) (string, error)
}

// Registry holds the available tools. It is populated at startup and
// read-only afterwards.
type Registry struct {
	tools  map[string]Tool
	order  []string
	logger *slog.Logger
}

// NewRegistry returns an empty registry. If logger is nil, the default slog
// logger is used.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{tools: make(map[string]Tool), logger: logger}
}

// Register adds a tool. Registering a duplicate name is a programming error.
func (r *Registry) Register(t Tool) error {
	if t.Name == "" || t.Run == nil {
		return fmt.Errorf("tool: invalid registration: name=%q", t.Name)
	}
	if _, exists := r.tools[t.Name]; exists {
		return fmt.Errorf("tool: duplicate registration: %s", t.Name)
	}
	r.tools[t.Name] = t
	r.order = append(r.order, t.Name)
	return nil
}

// Names returns the registered tool names in registration order.
func (r *Registry) Names() []string {
	return r.order
}

// Execute runs the named tool. Unknown names, schema violations, and tool
// failures all come back as a failed Result rather than an error; the
// caller surfaces the Result to the model either way.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) Result {
	t, ok := r.tools[name]
	if !ok {
		r.logger.Warn("tool: unknown tool requested", "tool", name)
		return Result{Success: false, Error: fmt.Sprintf("Unknown tool: %s", name)}
	}

	if t.Schema != nil {
		if args == nil {
			args = map[string]any{}
		}
		if err := t.Schema.Validate(args); err != nil {
			r.logger.Warn("tool: invalid arguments", "tool", name, "err", err)
			return Result{Success: false, Error: fmt.Sprintf("Invalid arguments for %s: %v", name, err)}
		}
	}

	output, err := t.Run(ctx, args)
	if err != nil {
		r.logger.Error("tool: execution failed", "tool", name, "err", err)
		return Result{Success: false, Error: err.Error()}
	}
	return Result{Success: true, Output: output}
}

// MustCompileSchema compiles an inline JSON Schema document. Panics on a
// malformed schema, which only happens for a bad built-in definition.
func MustCompileSchema(name, doc string) *jsonschema.Schema {
	return jsonschema.MustCompileString(name+".schema.json", doc)
}
