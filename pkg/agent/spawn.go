package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/kadirpekel/conductor/pkg/prompt"
	"github.com/kadirpekel/conductor/pkg/tools"
)

// AttachSpawnTool registers the spawn_agent tool on the registry. Spawned
// agents inherit the parent's services; the request's tool filter selects a
// subset of the parent's tools, and the depth counter carries through the
// whole chain, team members included.
func AttachSpawnTool(registry *tools.Registry, parentOpts Options, currentDepth int) error {
	parentOpts.withDefaults()

	runner := newSpawnRunner(parentOpts)
	spawnTool := tools.NewSpawnTool(runner, currentDepth, parentOpts.SpawnMaxDepth)

	source := tools.NewTypedLocalSource("spawn", tools.SourceTypeSpawn, spawnTool)
	return registry.RegisterSource(context.Background(), source)
}

func newSpawnRunner(parentOpts Options) tools.SpawnRunner {
	return func(ctx context.Context, req tools.SpawnRequest) (string, error) {
		childRegistry := buildChildRegistry(parentOpts.Registry, req.Tools)

		childOpts := Options{
			Name:            childName(parentOpts.Name, req),
			Provider:        parentOpts.Provider,
			Registry:        childRegistry,
			SystemPrompt:    buildChildPrompt(req, parentOpts.WorkspaceDir),
			WorkspaceDir:    parentOpts.WorkspaceDir,
			ToolOutputLimit: parentOpts.ToolOutputLimit,
			RunLogDir:       parentOpts.RunLogDir,
			Exporter:        parentOpts.Exporter,
			Trace:           parentOpts.Trace,
			SpawnDepth:      req.Depth,
			SpawnMaxDepth:   parentOpts.SpawnMaxDepth,
			Clock:           parentOpts.Clock,
			RunConfig: RunConfig{
				MaxSteps:            req.MaxSteps,
				TokenLimit:          parentOpts.RunConfig.TokenLimit,
				EnableSummarization: parentOpts.RunConfig.EnableSummarization,
			},
		}

		// The child may spawn further, bounded by the shared depth counter.
		if req.Depth < parentOpts.SpawnMaxDepth {
			childRunner := newSpawnRunner(childOpts)
			spawnTool := tools.NewSpawnTool(childRunner, req.Depth, parentOpts.SpawnMaxDepth)
			if err := childRegistry.RegisterSource(ctx, tools.NewTypedLocalSource("spawn", tools.SourceTypeSpawn, spawnTool)); err != nil {
				return "", err
			}
		}

		child, err := New(childOpts)
		if err != nil {
			return "", err
		}

		result, err := child.Run(ctx, req.Task)
		if err != nil {
			return "", err
		}
		if !result.Success {
			return "", fmt.Errorf("sub-agent failed: %s", result.Response)
		}
		return result.Response, nil
	}
}

// buildChildRegistry copies the parent's entries, filtered by name when a
// filter is given. spawn_agent is never copied; the runner re-adds it with
// the incremented depth.
func buildChildRegistry(parent *tools.Registry, filter []string) *tools.Registry {
	child := tools.NewRegistry()

	allowed := map[string]bool{}
	for _, name := range filter {
		allowed[name] = true
	}

	for _, entry := range parent.List() {
		if entry.Name == "spawn_agent" {
			continue
		}
		if len(filter) > 0 && !allowed[entry.Name] {
			continue
		}
		child.Replace(entry.Name, entry)
	}

	return child
}

func buildChildPrompt(req tools.SpawnRequest, workspaceDir string) string {
	var parts []string

	if req.Role != "" {
		parts = append(parts, fmt.Sprintf("You are a specialized AI assistant acting as a **%s**.", req.Role))
	} else {
		parts = append(parts, "You are an AI assistant executing a delegated task.")
	}

	parts = append(parts, `Your task has been delegated from a parent agent. Focus on completing it efficiently and thoroughly.

## Guidelines
- Stay focused on the assigned task
- Use available tools when necessary
- Report your findings and results clearly at the end
- If you encounter blockers, explain them clearly

## Important
- You have independent context: you don't see the parent's conversation
- Complete your task fully before finishing
- Provide actionable results the parent can use`)

	if req.Context != "" {
		parts = append(parts, fmt.Sprintf("## Context from Parent Agent\n%s", req.Context))
	}

	if workspaceDir != "" {
		parts = append(parts, prompt.Build(prompt.Config{AddWorkspace: true}, nil, nil, prompt.Env{WorkspaceDir: workspaceDir}))
	}

	return strings.Join(parts, "\n\n")
}

func childName(parentName string, req tools.SpawnRequest) string {
	role := req.Role
	if role == "" {
		role = "general"
	}
	role = strings.ReplaceAll(role, " ", "_")
	return fmt.Sprintf("%s_sub_d%d_%s", parentName, req.Depth, role)
}
