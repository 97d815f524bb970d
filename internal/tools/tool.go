// Package tools implements the registration bot's tool registry and the
// fifteen tool identities the model loop may invoke.
package tools

import (
	"context"
	"fmt"
	"sync"

	"github.com/clubside/regbot/internal/providers"
)

// Result is the unified return type from tool execution, appended to
// session history as a `tool` role message.
type Result struct {
	ForLLM  string // content sent back to the model
	IsError bool
	Kind    string // failure kind (e.g. "not_found", "db_unavailable"); empty on success
	Data    map[string]interface{}
	Err     error
}

func OK(forLLM string, data map[string]interface{}) *Result {
	return &Result{ForLLM: forLLM, Data: data}
}

func Fail(kind, forLLM string) *Result {
	return &Result{ForLLM: forLLM, IsError: true, Kind: kind}
}

func (r *Result) WithError(err error) *Result {
	r.Err = err
	return r
}

// Summary renders the fixed `tool=<id> status=<ok|err:<kind>> <short
// result>` line appended to history.
func (r *Result) Summary(toolName string) string {
	if r.IsError {
		return fmt.Sprintf("tool=%s status=err:%s %s", toolName, r.Kind, r.ForLLM)
	}
	return fmt.Sprintf("tool=%s status=ok %s", toolName, r.ForLLM)
}

// Tool is one callable identity in the registry.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) *Result
}

// Registry holds the full set of tool identities and validates/dispatches
// calls on behalf of the model call loop.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns every registered tool name.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	return names
}

// ProviderDefs builds the wire-format tool schemas for the subset of
// tools named, in the order given; this is the tool set an agent
// variant is allowed to use.
func (r *Registry) ProviderDefs(names []string) []providers.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]providers.ToolDefinition, 0, len(names))
	for _, name := range names {
		t, ok := r.tools[name]
		if !ok {
			continue
		}
		defs = append(defs, providers.ToolDefinition{
			Type: "function",
			Function: providers.ToolFunctionSchema{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	return defs
}

// ExecuteWithContext validates the call against the tool's schema (no
// unknown or missing required fields) and executes it. An unknown tool
// name or a schema violation returns a Result rather than an error;
// both are appended to history the same way.
func (r *Registry) ExecuteWithContext(ctx context.Context, name string, args map[string]interface{}) *Result {
	t, ok := r.Get(name)
	if !ok {
		return Fail("unknown_tool", fmt.Sprintf("no such tool: %s", name))
	}
	if err := validateArgs(t.Parameters(), args); err != nil {
		return Fail("invalid_arguments", err.Error())
	}
	return t.Execute(ctx, args)
}

// validateArgs rejects extra or missing fields against a JSON-schema-like
// {type:object, properties:{...}, required:[...]} map, matching the
// "validates the argument schema... rejects extra/missing fields"
// execution contract.
func validateArgs(schema map[string]interface{}, args map[string]interface{}) error {
	if schema == nil {
		return nil
	}
	props, _ := schema["properties"].(map[string]interface{})
	for k := range args {
		if props != nil {
			if _, ok := props[k]; !ok {
				return fmt.Errorf("unexpected field: %s", k)
			}
		}
	}
	required, _ := schema["required"].([]string)
	for _, req := range required {
		if _, ok := args[req]; !ok {
			return fmt.Errorf("missing required field: %s", req)
		}
	}
	return nil
}
