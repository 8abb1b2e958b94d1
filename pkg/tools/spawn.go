package tools

import (
	"context"
	"fmt"
	"time"
)

// DefaultSpawnMaxDepth caps nested agent recursion.
const DefaultSpawnMaxDepth = 3

// DefaultSpawnMaxSteps bounds a spawned agent's loop.
const DefaultSpawnMaxSteps = 15

type spawnArgs struct {
	Task     string   `json:"task" jsonschema:"required" jsonschema_description:"Clear, specific description of what the sub-agent should accomplish"`
	Role     string   `json:"role,omitempty" jsonschema_description:"Specialized role for the sub-agent (e.g. 'security auditor', 'test writer')"`
	Context  string   `json:"context,omitempty" jsonschema_description:"Relevant background information from your current work"`
	Tools    []string `json:"tools,omitempty" jsonschema_description:"Tool names to enable; inherits the parent's tools when omitted"`
	MaxSteps int      `json:"max_steps,omitempty" jsonschema_description:"Maximum steps for the sub-agent"`
}

// SpawnRequest is handed to the runner that executes the nested loop.
type SpawnRequest struct {
	Task     string
	Role     string
	Context  string
	Tools    []string
	MaxSteps int
	Depth    int
}

// SpawnRunner runs a child agent to completion and returns its final
// assistant text. The agent package supplies the implementation; keeping it
// a function type avoids a dependency cycle between tools and agent.
type SpawnRunner func(ctx context.Context, req SpawnRequest) (string, error)

// SpawnTool creates a child agent with a subset of the parent's tools and
// runs it synchronously. Depth is tracked per chain; exceeding the maximum
// fails the call without invoking the runner.
type SpawnTool struct {
	runner          SpawnRunner
	currentDepth    int
	maxDepth        int
	defaultMaxSteps int
}

func NewSpawnTool(runner SpawnRunner, currentDepth, maxDepth int) *SpawnTool {
	if maxDepth <= 0 {
		maxDepth = DefaultSpawnMaxDepth
	}
	return &SpawnTool{
		runner:          runner,
		currentDepth:    currentDepth,
		maxDepth:        maxDepth,
		defaultMaxSteps: DefaultSpawnMaxSteps,
	}
}

func (t *SpawnTool) GetName() string {
	return "spawn_agent"
}

func (t *SpawnTool) GetDescription() string {
	return fmt.Sprintf(`Spawn a specialized sub-agent to handle a specific task autonomously.

Use this when a task needs focused work without cluttering your main
context, or when breaking a complex task into independent subtasks. The
sub-agent executes the task and returns its final result to you.

Current depth: %d/%d`, t.currentDepth, t.maxDepth)
}

func (t *SpawnTool) GetInfo() ToolInfo {
	return ToolInfo{
		Name:        t.GetName(),
		Description: t.GetDescription(),
		Parameters:  SchemaOf(&spawnArgs{}),
	}
}

func (t *SpawnTool) Instructions() string {
	return `## Sub-Agent (spawn_agent) Usage Guidelines

When delegating with spawn_agent:
1. Be specific: provide focused tasks with concrete success criteria
2. Provide context: the sub-agent starts fresh and cannot see your conversation
3. Choose appropriate tools: only enable what the sub-agent actually needs
4. Set reasonable limits: small max_steps for simple tasks, larger for complex ones

Avoid vague tasks, tasks needing your current conversation context, and
tasks you could finish directly with one or two tool calls.`
}

func (t *SpawnTool) AddInstructionsToPrompt() bool {
	return true
}

func (t *SpawnTool) Execute(ctx context.Context, args map[string]any) (ToolResult, error) {
	start := time.Now()

	if t.currentDepth >= t.maxDepth {
		return failureResult(t.GetName(),
			fmt.Sprintf("maximum agent nesting depth (%d) reached; complete the task with available tools instead", t.maxDepth),
			start), nil
	}

	var payload spawnArgs
	if err := DecodeArguments(args, &payload); err != nil {
		return failureResult(t.GetName(), err.Error(), start), nil
	}

	if payload.Task == "" {
		return failureResult(t.GetName(), "task cannot be empty", start), nil
	}

	maxSteps := payload.MaxSteps
	if maxSteps <= 0 {
		maxSteps = t.defaultMaxSteps
	}

	result, err := t.runner(ctx, SpawnRequest{
		Task:     payload.Task,
		Role:     payload.Role,
		Context:  payload.Context,
		Tools:    payload.Tools,
		MaxSteps: maxSteps,
		Depth:    t.currentDepth + 1,
	})
	if err != nil {
		return failureResult(t.GetName(), fmt.Sprintf("sub-agent execution failed: %v", err), start), nil
	}

	header := "## Sub-Agent Execution Result"
	if payload.Role != "" {
		header += fmt.Sprintf(" (%s)", payload.Role)
	}

	return successResult(t.GetName(), fmt.Sprintf("%s\n\n%s", header, result), start), nil
}

var _ Tool = (*SpawnTool)(nil)
