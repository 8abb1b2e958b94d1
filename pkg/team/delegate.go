package team

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kadirpekel/conductor/pkg/tools"
)

type delegateArgs struct {
	MemberName string `json:"member_name" jsonschema:"required" jsonschema_description:"Name of the team member to delegate to"`
	Task       string `json:"task" jsonschema:"required" jsonschema_description:"Clear description of the task to delegate"`
}

// delegateTool routes one task to one named member. A member failure is
// returned as the tool result text so the leader can retry or continue.
type delegateTool struct {
	tools.BaseTool
	team        *Team
	leaderRunID string
	sessionID   string
}

func (t *delegateTool) GetName() string {
	return "delegate_task_to_member"
}

func (t *delegateTool) GetDescription() string {
	var names []string
	for _, member := range t.team.config.Members {
		names = append(names, fmt.Sprintf("%s (%s)", member.Name, member.Role))
	}
	return fmt.Sprintf("Delegate a task to a team member and return their response. Available members: %s.",
		strings.Join(names, ", "))
}

func (t *delegateTool) GetInfo() tools.ToolInfo {
	return tools.ToolInfo{
		Name:        t.GetName(),
		Description: t.GetDescription(),
		Parameters:  tools.SchemaOf(&delegateArgs{}),
	}
}

func (t *delegateTool) Execute(ctx context.Context, args map[string]any) (tools.ToolResult, error) {
	start := time.Now()

	var payload delegateArgs
	if err := tools.DecodeArguments(args, &payload); err != nil {
		return tools.ToolResult{Success: false, Error: err.Error(), ToolName: t.GetName()}, nil
	}

	member, found := t.team.findMember(payload.MemberName)
	if !found {
		return tools.ToolResult{
			Success:       false,
			Error:         fmt.Sprintf("unknown team member '%s'", payload.MemberName),
			ToolName:      t.GetName(),
			ExecutionTime: time.Since(start),
		}, nil
	}

	result := t.team.runMember(ctx, member, payload.Task, t.leaderRunID, t.sessionID)

	content := result.Response
	if !result.Success {
		content = fmt.Sprintf("Member %s failed: %s", member.Name, result.Error)
	}

	return tools.ToolResult{
		Success:       true,
		Content:       content,
		ToolName:      t.GetName(),
		ExecutionTime: time.Since(start),
	}, nil
}

type delegateAllArgs struct {
	Task string `json:"task" jsonschema:"required" jsonschema_description:"Clear description of the task to send to every member"`
}

// delegateAllTool fans the task out to every member concurrently.
type delegateAllTool struct {
	tools.BaseTool
	team        *Team
	leaderRunID string
	sessionID   string
}

func (t *delegateAllTool) GetName() string {
	return "delegate_task_to_all_members"
}

func (t *delegateAllTool) GetDescription() string {
	return "Send the task to ALL team members concurrently and return their responses labelled by name."
}

func (t *delegateAllTool) GetInfo() tools.ToolInfo {
	return tools.ToolInfo{
		Name:        t.GetName(),
		Description: t.GetDescription(),
		Parameters:  tools.SchemaOf(&delegateAllArgs{}),
	}
}

func (t *delegateAllTool) Execute(ctx context.Context, args map[string]any) (tools.ToolResult, error) {
	start := time.Now()

	var payload delegateAllArgs
	if err := tools.DecodeArguments(args, &payload); err != nil {
		return tools.ToolResult{Success: false, Error: err.Error(), ToolName: t.GetName()}, nil
	}

	combined := t.team.fanOut(ctx, payload.Task, t.leaderRunID, t.sessionID)

	return tools.ToolResult{
		Success:       true,
		Content:       combined,
		ToolName:      t.GetName(),
		ExecutionTime: time.Since(start),
	}, nil
}

var (
	_ tools.Tool = (*delegateTool)(nil)
	_ tools.Tool = (*delegateAllTool)(nil)
)
