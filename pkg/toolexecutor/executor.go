package toolexecutor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"

	"github.com/porkytheblack/glove-sub003/internal/observability"
	"github.com/porkytheblack/glove-sub003/pkg/conversation"
	"github.com/porkytheblack/glove-sub003/pkg/display"
)

// ToolParameter defines a parameter for a tool
type ToolParameter struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
	Default     any    `json:"default,omitempty"`
}

// Handler is the function signature for tool execution. The display stack
// handle lets a tool push interactive slots and suspend on them.
type Handler func(ctx context.Context, args map[string]any, disp *display.Stack) (any, error)

// ToolDefinition defines a tool's metadata and handler
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  []ToolParameter `json:"parameters"`
	Handler     Handler         `json:"-"`
}

// InputSchema returns the JSON-Schema object describing the tool's input.
// The same map is compiled for validation and sent to providers as the
// tool's wire schema.
func (d ToolDefinition) InputSchema() map[string]any {
	properties := make(map[string]any)
	required := []string{}

	for _, param := range d.Parameters {
		paramSchema := map[string]any{
			"type":        param.Type,
			"description": param.Description,
		}
		if param.Default != nil {
			paramSchema["default"] = param.Default
		}
		properties[param.Name] = paramSchema
		if param.Required {
			required = append(required, param.Name)
		}
	}

	schema := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// Executor holds the tool registry and runs tool calls. The registry is
// read-only after build time; Execute and ExecuteAll are safe to call
// from concurrent sessions.
type Executor struct {
	tools   map[string]*ToolDefinition
	schemas map[string]*gojsonschema.Schema
	timeout time.Duration
	mu      sync.RWMutex
}

// New creates an Executor with the default per-call timeout.
func New() *Executor {
	return &Executor{
		tools:   make(map[string]*ToolDefinition),
		schemas: make(map[string]*gojsonschema.Schema),
		timeout: 30 * time.Second,
	}
}

// SetTimeout overrides the per-call timeout.
func (e *Executor) SetTimeout(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.timeout = d
}

// RegisterTool adds a tool to the registry. Registering a name that
// already exists is rejected; replace-by-reregister is not supported so a
// wiring mistake surfaces at build time instead of silently shadowing a
// tool.
func (e *Executor) RegisterTool(def ToolDefinition) error {
	if err := validateToolDefinition(def); err != nil {
		return fmt.Errorf("invalid tool definition: %w", err)
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(def.InputSchema()))
	if err != nil {
		return fmt.Errorf("failed to compile schema for %s: %w", def.Name, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.tools[def.Name]; exists {
		return fmt.Errorf("tool already registered: %s", def.Name)
	}

	e.tools[def.Name] = &def
	e.schemas[def.Name] = schema

	log.Info().Str("tool", def.Name).Msg("Tool registered")
	return nil
}

// GetTool returns a tool definition by name, or nil.
func (e *Executor) GetTool(name string) *ToolDefinition {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.tools[name]
}

// ListTools returns all registered tool names.
func (e *Executor) ListTools() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	names := make([]string, 0, len(e.tools))
	for name := range e.tools {
		names = append(names, name)
	}
	return names
}

// Definitions returns a snapshot of every registered tool, for building
// the tool list sent to a provider.
func (e *Executor) Definitions() []ToolDefinition {
	e.mu.RLock()
	defer e.mu.RUnlock()

	defs := make([]ToolDefinition, 0, len(e.tools))
	for _, def := range e.tools {
		defs = append(defs, *def)
	}
	return defs
}

// Execute runs one tool call and always returns a ToolResult for the
// call's id. Unknown tools, invalid input, handler errors, panics and
// timeouts all become error results; nothing escapes as a Go error,
// because one bad tool call must not take the whole turn down.
func (e *Executor) Execute(ctx context.Context, call conversation.ToolCall, disp *display.Stack) conversation.ToolResult {
	start := time.Now()

	e.mu.RLock()
	tool := e.tools[call.Name]
	schema := e.schemas[call.Name]
	timeout := e.timeout
	e.mu.RUnlock()

	if tool == nil {
		log.Warn().Str("tool", call.Name).Str("call", call.ID).Msg("Unknown tool requested")
		return conversation.ErrorResult(call.ID, fmt.Sprintf("unknown tool: %s", call.Name))
	}

	if err := validateArgs(schema, call.Args); err != nil {
		log.Warn().Str("tool", call.Name).Str("call", call.ID).Err(err).
			Msg("Tool input validation failed")
		observability.RecordToolExecution(call.Name, time.Since(start), false)
		return conversation.ErrorResult(call.ID, err.Error())
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		value any
		err   error
	}
	outcomeChan := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				outcomeChan <- outcome{err: fmt.Errorf("tool panicked: %v", r)}
			}
		}()
		value, err := tool.Handler(execCtx, call.Args, disp)
		outcomeChan <- outcome{value: value, err: err}
	}()

	var result conversation.ToolResult
	select {
	case out := <-outcomeChan:
		if out.err != nil {
			result = conversation.ErrorResult(call.ID, out.err.Error())
		} else {
			result = wrapResult(call.ID, out.value)
		}
	case <-execCtx.Done():
		if errors.Is(execCtx.Err(), context.Canceled) {
			result = conversation.ErrorResult(call.ID, "tool execution cancelled")
		} else {
			result = conversation.ErrorResult(call.ID, fmt.Sprintf("tool execution timed out after %v", timeout))
		}
	}

	duration := time.Since(start)
	success := result.Status == conversation.StatusSuccess
	observability.RecordToolExecution(call.Name, duration, success)

	log.Debug().
		Str("tool", call.Name).
		Str("call", call.ID).
		Dur("duration", duration).
		Str("status", result.Status).
		Msg("Tool execution finished")

	return result
}

// ExecuteAll runs every call concurrently and returns once all of them
// have settled. Results are ordered like the input calls and carry the
// originating call id, so completion order does not matter.
func (e *Executor) ExecuteAll(ctx context.Context, calls []conversation.ToolCall, disp *display.Stack) []conversation.ToolResult {
	results := make([]conversation.ToolResult, len(calls))

	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call conversation.ToolCall) {
			defer wg.Done()
			results[i] = e.Execute(ctx, call, disp)
		}(i, call)
	}
	wg.Wait()

	return results
}

// wrapResult turns a handler return value into a tagged result. Handlers
// may return a conversation.ToolResult directly to control status; any
// other value is wrapped as success.
func wrapResult(callID string, value any) conversation.ToolResult {
	switch v := value.(type) {
	case conversation.ToolResult:
		v.CallID = callID
		if v.Status == "" {
			v.Status = conversation.StatusSuccess
		}
		return v
	case *conversation.ToolResult:
		if v == nil {
			return conversation.SuccessResult(callID, nil)
		}
		out := *v
		out.CallID = callID
		if out.Status == "" {
			out.Status = conversation.StatusSuccess
		}
		return out
	default:
		return conversation.SuccessResult(callID, value)
	}
}

func validateToolDefinition(def ToolDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if def.Description == "" {
		return fmt.Errorf("tool description cannot be empty")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool handler cannot be nil")
	}

	validTypes := map[string]bool{
		"string": true, "number": true, "boolean": true,
		"object": true, "array": true, "integer": true,
	}
	for _, param := range def.Parameters {
		if param.Name == "" {
			return fmt.Errorf("parameter name cannot be empty")
		}
		if !validTypes[param.Type] {
			return fmt.Errorf("invalid parameter type %s for %s", param.Type, param.Name)
		}
		if param.Description == "" {
			return fmt.Errorf("parameter description cannot be empty for %s", param.Name)
		}
	}
	return nil
}

func validateArgs(schema *gojsonschema.Schema, args map[string]any) error {
	if schema == nil {
		return nil
	}
	if args == nil {
		args = map[string]any{}
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return fmt.Errorf("input validation failed: %w", err)
	}
	if !result.Valid() {
		msgs := []string{}
		for _, verr := range result.Errors() {
			msgs = append(msgs, verr.String())
		}
		return fmt.Errorf("input validation failed: %v", msgs)
	}
	return nil
}
