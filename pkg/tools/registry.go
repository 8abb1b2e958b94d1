package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kadirpekel/conductor/pkg/observability"
	"github.com/kadirpekel/conductor/pkg/registry"
)

// DefaultToolTimeout bounds a single tool execution.
const DefaultToolTimeout = 60 * time.Second

type Entry struct {
	Tool       Tool
	Source     ToolSource
	SourceType string
	Name       string
}

type RegistryError struct {
	Component string
	Action    string
	Message   string
	Err       error
}

func (e *RegistryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Component, e.Action, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Component, e.Action, e.Message)
}

func (e *RegistryError) Unwrap() error {
	return e.Err
}

func NewRegistryError(component, action, message string, err error) *RegistryError {
	return &RegistryError{Component: component, Action: action, Message: message, Err: err}
}

// Registry holds every tool reachable by one agent. Sources are registered
// in load order: native, MCP, sandbox substitution, spawn. A later source
// shadows same-named tools from an earlier one with a warning.
type Registry struct {
	*registry.BaseRegistry[Entry]

	mu             sync.RWMutex
	timeouts       map[string]time.Duration
	defaultTimeout time.Duration
}

func NewRegistry() *Registry {
	return &Registry{
		BaseRegistry:   registry.NewBaseRegistry[Entry](),
		timeouts:       make(map[string]time.Duration),
		defaultTimeout: DefaultToolTimeout,
	}
}

// RegisterSource discovers the source's tools and registers each of them.
// Name collisions shadow the earlier registration.
func (r *Registry) RegisterSource(ctx context.Context, source ToolSource) error {
	name := source.GetName()
	if name == "" {
		return NewRegistryError("Registry", "RegisterSource", "source name cannot be empty", nil)
	}

	if err := source.DiscoverTools(ctx); err != nil {
		return NewRegistryError("Registry", "RegisterSource",
			fmt.Sprintf("failed to discover tools from source %s", name), err)
	}

	for _, toolInfo := range source.ListTools() {
		tool, exists := source.GetTool(toolInfo.Name)
		if !exists {
			continue
		}

		entry := Entry{
			Tool:       tool,
			Source:     source,
			SourceType: source.GetType(),
			Name:       toolInfo.Name,
		}

		if shadowed := r.Replace(toolInfo.Name, entry); shadowed {
			slog.Warn("Tool name collision: later source shadows earlier registration",
				"tool", toolInfo.Name, "source", name, "source_type", source.GetType())
		}
	}

	return nil
}

// SetTimeout overrides the execution timeout for a single tool.
func (r *Registry) SetTimeout(toolName string, timeout time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.timeouts[toolName] = timeout
}

// SetDefaultTimeout overrides the registry-wide timeout.
func (r *Registry) SetDefaultTimeout(timeout time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultTimeout = timeout
}

func (r *Registry) timeoutFor(toolName string) time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if t, ok := r.timeouts[toolName]; ok {
		return t
	}
	return r.defaultTimeout
}

// GetTool returns a registered tool by name.
func (r *Registry) GetTool(name string) (Tool, error) {
	entry, exists := r.Get(name)
	if !exists {
		return nil, NewRegistryError("Registry", "GetTool",
			fmt.Sprintf("tool %s not found", name), nil)
	}
	return entry.Tool, nil
}

// ListTools returns every registered tool's info, sorted by name.
func (r *Registry) ListTools() []ToolInfo {
	var infos []ToolInfo
	for _, entry := range r.List() {
		info := entry.Tool.GetInfo()
		info.Source = entry.SourceType
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Name < infos[j].Name
	})
	return infos
}

// PromptInstructions collects the instruction blocks of every tool that
// opts into prompt injection, in name order.
func (r *Registry) PromptInstructions() []string {
	var out []string
	for _, info := range r.ListTools() {
		entry, exists := r.Get(info.Name)
		if !exists {
			continue
		}
		if entry.Tool.AddInstructionsToPrompt() && entry.Tool.Instructions() != "" {
			out = append(out, entry.Tool.Instructions())
		}
	}
	return out
}

// Execute dispatches a tool call. Failures are reported in the result, never
// as an error the loop would have to recover from: unknown names, schema
// violations, timeouts, and tool errors all yield success=false.
func (r *Registry) Execute(ctx context.Context, toolName string, args map[string]any) ToolResult {
	start := time.Now()

	tracer := observability.GetTracer("conductor.tools")
	ctx, span := tracer.Start(ctx, observability.SpanToolExecution,
		trace.WithAttributes(attribute.String(observability.AttrToolName, toolName)),
	)
	defer span.End()

	finish := func(result ToolResult, err error) ToolResult {
		duration := time.Since(start)
		if result.ExecutionTime == 0 {
			result.ExecutionTime = duration
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else if !result.Success {
			span.SetStatus(codes.Error, result.Error)
		} else {
			span.SetStatus(codes.Ok, "success")
		}
		span.SetAttributes(
			attribute.Bool("tool.success", result.Success),
			attribute.Int64("tool.duration_ms", duration.Milliseconds()),
		)
		if metrics := observability.GetGlobalMetrics(); metrics != nil {
			metrics.RecordToolExecution(ctx, toolName, duration, err)
		}
		return result
	}

	entry, exists := r.Get(toolName)
	if !exists {
		err := fmt.Errorf("unknown tool %s", toolName)
		return finish(failureResult(toolName, err.Error(), start), err)
	}

	if args == nil {
		args = make(map[string]any)
	}

	if missing := validateRequired(entry.Tool.GetInfo().Parameters, args); len(missing) > 0 {
		msg := fmt.Sprintf("missing required arguments: %v", missing)
		return finish(failureResult(toolName, msg, start), nil)
	}

	timeout := r.timeoutFor(toolName)
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		result ToolResult
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		result, err := entry.Tool.Execute(execCtx, args)
		done <- outcome{result: result, err: err}
	}()

	select {
	case <-execCtx.Done():
		if execCtx.Err() == context.DeadlineExceeded {
			msg := fmt.Sprintf("timeout after %dms", timeout.Milliseconds())
			return finish(failureResult(toolName, msg, start), nil)
		}
		return finish(failureResult(toolName, execCtx.Err().Error(), start), execCtx.Err())

	case out := <-done:
		if out.err != nil {
			return finish(failureResult(toolName, out.err.Error(), start), nil)
		}
		result := out.result
		result.ToolName = toolName
		return finish(result, nil)
	}
}
